package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/model"
)

const namespace = "chainwatch"

// Metrics holds all chainwatch collectors. It implements the supervisor's
// Recorder and the head follower's and writers' metric hooks.
type Metrics struct {
	// Supervisor
	LifecycleEvents *prometheus.CounterVec
	HealthChecks    *prometheus.CounterVec
	Subscriptions   *prometheus.GaugeVec
	ActiveHandle    *prometheus.GaugeVec

	// Head follower
	HeadsReceived  *prometheus.CounterVec
	LatestBlock    *prometheus.GaugeVec
	FollowerErrors *prometheus.CounterVec
	HandleSwitches *prometheus.CounterVec

	// Writers
	RowsInserted  *prometheus.CounterVec
	RowsConflict  *prometheus.CounterVec
	WriteErrors   *prometheus.CounterVec
	FlushDuration *prometheus.HistogramVec
	QueueDropped  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		LifecycleEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Connection lifecycle transitions by kind",
			},
			[]string{"network", "kind"},
		),
		HealthChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Health check firings by observed ready state",
			},
			[]string{"network", "state"},
		),
		Subscriptions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscriptions",
				Help:      "Subscriptions on the streaming handle at the last health check",
			},
			[]string{"network"},
		),
		ActiveHandle: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_handle",
				Help:      "1 for the installed handle's network and kind",
			},
			[]string{"network", "kind"},
		),

		HeadsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heads_received_total",
				Help:      "Block heads observed by source",
			},
			[]string{"network", "source"},
		),
		LatestBlock: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_block_number",
				Help:      "Highest block number observed",
			},
			[]string{"network"},
		),
		FollowerErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "follower_errors_total",
				Help:      "Head follower errors by operation",
			},
			[]string{"network", "op"},
		),
		HandleSwitches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "follower_handle_switches_total",
				Help:      "Times the follower moved to a new handle",
			},
			[]string{"network", "kind"},
		),

		RowsInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writer_rows_inserted_total",
				Help:      "Rows inserted by table",
			},
			[]string{"table"},
		),
		RowsConflict: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writer_rows_conflict_total",
				Help:      "Rows skipped by ON CONFLICT DO NOTHING",
			},
			[]string{"table"},
		),
		WriteErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writer_errors_total",
				Help:      "Failed batch inserts by table",
			},
			[]string{"table"},
		),
		FlushDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "writer_flush_duration_seconds",
				Help:      "Batch insert duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"table"},
		),
		QueueDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_dropped_total",
				Help:      "Items dropped because a writer queue was full",
			},
			[]string{"queue"},
		),
	}
}

// Lifecycle counts a supervisor transition.
func (m *Metrics) Lifecycle(network model.NetworkID, kind model.LifecycleKind) {
	m.LifecycleEvents.WithLabelValues(string(network), string(kind)).Inc()
}

// HealthCheck counts a probe and records the subscription count it saw.
func (m *Metrics) HealthCheck(network model.NetworkID, state connection.State, subscriptions int) {
	m.HealthChecks.WithLabelValues(string(network), state.String()).Inc()
	m.Subscriptions.WithLabelValues(string(network)).Set(float64(subscriptions))
}

// HandleChanged marks the installed handle. kind is empty when none is installed.
func (m *Metrics) HandleChanged(network model.NetworkID, kind string) {
	m.ActiveHandle.Reset()
	if kind != "" {
		m.ActiveHandle.WithLabelValues(string(network), kind).Set(1)
	}
}

// HeadReceived counts a head and advances the latest block gauge.
func (m *Metrics) HeadReceived(head model.BlockHead) {
	m.HeadsReceived.WithLabelValues(string(head.Network), head.Source).Inc()
	m.LatestBlock.WithLabelValues(string(head.Network)).Set(float64(head.Number))
}

// FollowerError counts a failed follower operation ("subscribe", "poll", "decode").
func (m *Metrics) FollowerError(network model.NetworkID, op string) {
	m.FollowerErrors.WithLabelValues(string(network), op).Inc()
}

// HandleSwitched counts the follower moving onto a new handle.
func (m *Metrics) HandleSwitched(network model.NetworkID, kind string) {
	m.HandleSwitches.WithLabelValues(string(network), kind).Inc()
}

// Flushed records a successful batch insert.
func (m *Metrics) Flushed(table string, inserted, conflicts int, took time.Duration) {
	m.RowsInserted.WithLabelValues(table).Add(float64(inserted))
	m.RowsConflict.WithLabelValues(table).Add(float64(conflicts))
	m.FlushDuration.WithLabelValues(table).Observe(took.Seconds())
}

// FlushFailed counts a failed batch insert.
func (m *Metrics) FlushFailed(table string) {
	m.WriteErrors.WithLabelValues(table).Inc()
}

// Dropped counts items rejected by a full queue.
func (m *Metrics) Dropped(queue string, n int) {
	m.QueueDropped.WithLabelValues(queue).Add(float64(n))
}
