package writer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/chainwatch/internal/buffer"
	"github.com/rickgao/chainwatch/internal/model"
)

const lifecycleTable = "connection_events"

const insertLifecycle = `
	INSERT INTO connection_events (id, network, handle_id, kind, at, detail)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id, at) DO NOTHING`

// LifecycleWriter journals supervisor lifecycle events to the
// connection_events table. It implements supervisor.Journal.
type LifecycleWriter struct {
	queue   *buffer.Queue[model.LifecycleEvent]
	metrics Metrics
	b       *batcher[model.LifecycleEvent]
}

// NewLifecycleWriter creates a LifecycleWriter with its own queue.
func NewLifecycleWriter(cfg Config, db BatchSender, logger *slog.Logger, metrics Metrics) *LifecycleWriter {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	q := buffer.NewQueue[model.LifecycleEvent](cfg.BufferSize, 0)
	return &LifecycleWriter{
		queue:   q,
		metrics: metrics,
		b:       newBatcher(lifecycleTable, cfg, q, db, queueLifecycle, logger, metrics),
	}
}

// Record enqueues ev without blocking. Events recorded after Stop are dropped.
func (w *LifecycleWriter) Record(ev model.LifecycleEvent) {
	if !w.queue.Push(ev) {
		w.metrics.Dropped(lifecycleTable, 1)
	}
}

// Start begins writing events.
func (w *LifecycleWriter) Start(ctx context.Context) error {
	w.b.start(ctx)
	return nil
}

// Stop rejects new events and flushes the queued ones.
func (w *LifecycleWriter) Stop(ctx context.Context) error {
	w.queue.Close()
	return w.b.stop(ctx)
}

// Stats returns current counters.
func (w *LifecycleWriter) Stats() Stats {
	return w.b.snapshot()
}

func queueLifecycle(b *pgx.Batch, ev model.LifecycleEvent) {
	var handleID *uuid.UUID
	if ev.HandleID != uuid.Nil {
		handleID = &ev.HandleID
	}
	b.Queue(insertLifecycle,
		ev.ID, string(ev.Network), handleID, string(ev.Kind), ev.At, ev.Detail,
	)
}
