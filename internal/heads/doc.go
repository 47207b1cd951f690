// Package heads follows new chain heads over whatever handle the supervisor
// currently holds.
//
// The Follower:
//   - Subscribes to newHeads on streaming handles
//   - Polls eth_getBlockByNumber("latest") on polling handles
//   - Moves to the new handle whenever the supervisor replaces it
//   - Never closes or mutates a handle
package heads
