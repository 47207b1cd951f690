// Package supervisor keeps a single connection handle to the selected
// network alive.
//
// State machine:
//
//	INACTIVE --(focus regained, network selected)--> ACTIVE
//	ACTIVE   --(focus lost)-----------------------> INACTIVE  (handle closed, timers cancelled)
//	ACTIVE   --(Start with another network)-------> ACTIVE    (stop, then start)
//	ACTIVE   --(health check finds stale handle)--> ACTIVE    (handle replaced in place)
//
// Streaming handles are probed every HealthCheckInterval. A probe that finds
// the handle closing or closed, and older than ReconnectThreshold, closes it
// and requests a fresh one from the Factory. Polling handles are never
// probed.
//
// Creation is asynchronous. Every request captures the generation at the
// time it was made; Stop and Start bump the generation, so a completion that
// arrives late is closed instead of installed.
package supervisor
