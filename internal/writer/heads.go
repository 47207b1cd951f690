package writer

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/chainwatch/internal/buffer"
	"github.com/rickgao/chainwatch/internal/model"
)

const headsTable = "block_heads"

const insertHead = `
	INSERT INTO block_heads (network, number, hash, parent_hash, block_time, received_at, source, handle_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (network, number, hash) DO NOTHING`

// HeadWriter consumes block heads from the follower's queue and writes them
// to the block_heads table. A head seen on both a streaming and a polling
// handle is stored once.
type HeadWriter struct {
	b *batcher[model.BlockHead]
}

// NewHeadWriter creates a new HeadWriter.
func NewHeadWriter(
	cfg Config,
	input *buffer.Queue[model.BlockHead],
	db BatchSender,
	logger *slog.Logger,
	metrics Metrics,
) *HeadWriter {
	return &HeadWriter{b: newBatcher(headsTable, cfg, input, db, queueHead, logger, metrics)}
}

// Start begins consuming heads.
func (w *HeadWriter) Start(ctx context.Context) error {
	w.b.start(ctx)
	return nil
}

// Stop shuts down the writer and flushes queued heads.
func (w *HeadWriter) Stop(ctx context.Context) error {
	return w.b.stop(ctx)
}

// Stats returns current counters.
func (w *HeadWriter) Stats() Stats {
	return w.b.snapshot()
}

func queueHead(b *pgx.Batch, h model.BlockHead) {
	b.Queue(insertHead,
		string(h.Network), int64(h.Number), h.Hash, h.ParentHash,
		h.Timestamp, h.ReceivedAt, h.Source, h.HandleID,
	)
}
