package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/chainwatch/internal/buffer"
)

// Config holds writer configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 500)
	FlushInterval time.Duration // Max time a row waits in a partial batch (default: 1s)
	BufferSize    int           // Initial queue capacity for writers that own their queue (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// BatchSender is the subset of *pgxpool.Pool the writers use.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Metrics receives writer observations. *metrics.Metrics implements it.
type Metrics interface {
	Flushed(table string, inserted, conflicts int, took time.Duration)
	FlushFailed(table string)
	Dropped(queue string, n int)
}

// Stats holds cumulative writer counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// batcher drains a queue into batched inserts on one goroutine. Rows are
// flushed when the batch is full, on every FlushInterval, and on Stop.
type batcher[T any] struct {
	table   string
	cfg     Config
	input   *buffer.Queue[T]
	db      BatchSender
	queue   func(b *pgx.Batch, item T)
	logger  *slog.Logger
	metrics Metrics

	batch []T // Owned by the run goroutine until Stop

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	done   chan struct{}
}

func newBatcher[T any](
	table string,
	cfg Config,
	input *buffer.Queue[T],
	db BatchSender,
	queue func(*pgx.Batch, T),
	logger *slog.Logger,
	metrics Metrics,
) *batcher[T] {
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &batcher[T]{
		table:   table,
		cfg:     cfg,
		input:   input,
		db:      db,
		queue:   queue,
		logger:  logger.With("component", "writer", "table", table),
		metrics: metrics,
		batch:   make([]T, 0, cfg.BatchSize),
	}
}

func (w *batcher[T]) start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
}

// stop halts the run loop, then writes whatever is still queued using ctx.
func (w *batcher[T]) stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	for {
		w.fill()
		if len(w.batch) == 0 {
			break
		}
		w.flush(ctx)
	}

	w.logger.Info("writer stopped")
	return nil
}

func (w *batcher[T]) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.input.Ready():
			for w.fill() {
				w.flush(ctx)
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// fill moves queued items into the batch and reports whether it is full.
func (w *batcher[T]) fill() bool {
	room := w.cfg.BatchSize - len(w.batch)
	if room > 0 {
		w.batch = append(w.batch, w.input.Drain(room)...)
	}
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *batcher[T]) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}
	rows := w.batch
	w.batch = make([]T, 0, w.cfg.BatchSize)

	start := time.Now()
	conflicts, err := w.insert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.metrics.FlushFailed(w.table)
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		return
	}
	took := time.Since(start)

	w.metrics.Flushed(w.table, len(rows)-conflicts, conflicts, took)
	w.statsMu.Lock()
	w.stats.Inserts += int64(len(rows) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed batch",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", took,
	)
}

// insert sends rows as one pgx.Batch; statements use ON CONFLICT DO NOTHING,
// so zero affected rows marks a conflict.
func (w *batcher[T]) insert(ctx context.Context, rows []T) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func (w *batcher[T]) snapshot() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

type nopMetrics struct{}

func (nopMetrics) Flushed(string, int, int, time.Duration) {}
func (nopMetrics) FlushFailed(string)                      {}
func (nopMetrics) Dropped(string, int)                     {}
