package supervisor

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/focus"
	"github.com/rickgao/chainwatch/internal/model"
)

// Config configures a Supervisor.
type Config struct {
	HealthCheckInterval time.Duration     // Period between probes of a streaming handle
	ReconnectThreshold  time.Duration     // Minimum handle age before a closed handle is replaced
	RetryBaseWait       time.Duration     // First retry delay after an internal creation failure
	RetryMaxWait        time.Duration     // Retry delay cap
	Networks            []model.NetworkID // Known networks; empty accepts any non-empty id
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 10 * time.Second,
		ReconnectThreshold:  5 * time.Second,
		RetryBaseWait:       1 * time.Second,
		RetryMaxWait:        60 * time.Second,
	}
}

// FocusSource supplies the debounced attention signal. *focus.Tracker implements it.
type FocusSource interface {
	LostFocus() bool
	Subscribe() (<-chan focus.Signal, func())
}

// Recorder receives lifecycle observations for metrics.
type Recorder interface {
	Lifecycle(network model.NetworkID, kind model.LifecycleKind)
	HealthCheck(network model.NetworkID, state connection.State, subscriptions int)
	HandleChanged(network model.NetworkID, kind string) // kind is "" when no handle is installed
}

// Journal persists lifecycle events. Record must not block.
type Journal interface {
	Record(ev model.LifecycleEvent)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for timers and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// WithJournal sets the lifecycle journal.
func WithJournal(j Journal) Option {
	return func(s *Supervisor) { s.journal = j }
}

type nopRecorder struct{}

func (nopRecorder) Lifecycle(model.NetworkID, model.LifecycleKind)     {}
func (nopRecorder) HealthCheck(model.NetworkID, connection.State, int) {}
func (nopRecorder) HandleChanged(model.NetworkID, string)              {}

type nopJournal struct{}

func (nopJournal) Record(model.LifecycleEvent) {}
