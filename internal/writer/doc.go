// Package writer implements batch writers for chain data.
//
// Writers:
//   - Head writer (block_heads)
//   - Lifecycle writer (connection_events), also the supervisor's journal
//
// All writers use append-only semantics (never update, only insert) and
// batch through pgx.Batch with ON CONFLICT DO NOTHING.
package writer
