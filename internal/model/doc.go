// Package model defines shared data types used across chainwatch.
//
// Row-shaped types mirror the TimescaleDB tables written by the writer package.
//
// Conventions:
//   - Network IDs: short lowercase strings from config (e.g., "arbitrum")
//   - Hashes: 0x-prefixed hex strings
//   - IDs: uuid.UUID for handles and lifecycle events
package model
