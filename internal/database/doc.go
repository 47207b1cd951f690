// Package database provides connection pool management for TimescaleDB.
//
// A single pool backs both time-series tables:
//   - block_heads: heads observed by the follower on each handle
//   - connection_events: supervisor lifecycle journal (created, replaced, closed)
package database
