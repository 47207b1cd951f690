// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Supervisor lifecycle transitions and health check outcomes
//   - Installed handle per network
//   - Head follower throughput and the latest block seen
//   - Writer inserts, conflicts, and flush latency
//   - Queue drops
//
// Collectors register on an injected prometheus.Registerer so tests can use
// a private registry.
package metrics
