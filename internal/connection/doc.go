// Package connection provides connection handles to blockchain RPC endpoints.
//
// A handle is one of two variants:
//   - Streaming: a websocket JSON-RPC connection with server push and a ready state
//   - Polling: an HTTP JSON-RPC client that callers poll; never health-checked
//
// NetworkFactory picks the variant from a network's configured endpoints and
// releases handles on request. Handles never reconnect themselves; replacing a
// dead handle is the supervisor's job.
package connection
