package heads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/model"
)

// HandleSource delivers the current connection handle. *supervisor.Supervisor implements it.
type HandleSource interface {
	Watch() (<-chan connection.Handle, func())
}

// Sink receives decoded heads. *buffer.Queue[model.BlockHead] implements it.
type Sink interface {
	Push(head model.BlockHead) bool
}

// Metrics receives follower observations. *metrics.Metrics implements it.
type Metrics interface {
	HeadReceived(head model.BlockHead)
	FollowerError(network model.NetworkID, op string)
	HandleSwitched(network model.NetworkID, kind string)
}

// Config holds follower configuration.
type Config struct {
	PollInterval   time.Duration // Poll period for polling handles (default: 4s)
	RequestTimeout time.Duration // Per-poll timeout (default: 10s)
	RetryInterval  time.Duration // Wait before resubscribing (default: 1s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   4 * time.Second,
		RequestTimeout: 10 * time.Second,
		RetryInterval:  time.Second,
	}
}

// Follower turns the supervisor's handle into a stream of block heads.
type Follower struct {
	cfg     Config
	source  HandleSource
	sink    Sink
	logger  *slog.Logger
	metrics Metrics
}

// NewFollower creates a Follower. metrics may be nil.
func NewFollower(source HandleSource, sink Sink, cfg Config, logger *slog.Logger, metrics Metrics) *Follower {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Follower{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		logger:  logger.With("component", "heads"),
		metrics: metrics,
	}
}

// Run follows heads until ctx is done. Each handle change cancels the
// previous follow loop before starting the next one.
func (f *Follower) Run(ctx context.Context) error {
	handles, cancel := f.source.Watch()
	defer cancel()

	var (
		current connection.Handle
		stop    context.CancelFunc
		done    chan struct{}
	)
	release := func() {
		if stop != nil {
			stop()
			<-done
			stop, done = nil, nil
		}
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-handles:
			if h == current {
				continue
			}
			release()
			current = h

			if h == nil {
				f.logger.Debug("no handle, idling")
				continue
			}
			f.logger.Info("following handle",
				"network", h.Network(),
				"handle_id", h.ID(),
				"kind", h.Kind(),
			)
			f.metrics.HandleSwitched(h.Network(), h.Kind())

			var hctx context.Context
			hctx, stop = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(h connection.Handle, done chan struct{}) {
				defer close(done)
				f.follow(hctx, h)
			}(h, done)
		}
	}
}

func (f *Follower) follow(ctx context.Context, h connection.Handle) {
	switch h := h.(type) {
	case *connection.Streaming:
		f.stream(ctx, h)
	case *connection.Polling:
		f.poll(ctx, h)
	}
}

// stream subscribes to newHeads and resubscribes when the subscription ends.
func (f *Follower) stream(ctx context.Context, h *connection.Streaming) {
	for {
		sub, err := h.Subscribe(ctx, "newHeads")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Debug("subscribe failed", "network", h.Network(), "handle_id", h.ID(), "error", err)
			f.metrics.FollowerError(h.Network(), "subscribe")
			if !f.wait(ctx) {
				return
			}
			continue
		}

		f.logger.Info("subscribed to new heads", "network", h.Network(), "handle_id", h.ID(), "sub_id", sub.ID())
		if !f.drain(ctx, h, sub) {
			return
		}
		if !f.wait(ctx) {
			return
		}
	}
}

// drain consumes notifications until the subscription ends. It returns false
// when ctx is done.
func (f *Follower) drain(ctx context.Context, h *connection.Streaming, sub connection.Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return false
		case raw, ok := <-sub.Notifications():
			if !ok {
				return true
			}
			head, err := decodeHead(raw)
			if err != nil {
				f.logger.Warn("decode head failed", "network", h.Network(), "error", err)
				f.metrics.FollowerError(h.Network(), "decode")
				continue
			}
			f.emit(head, h, model.SourceStream)
		case err := <-sub.Err():
			if err != nil {
				f.logger.Warn("subscription ended", "network", h.Network(), "handle_id", h.ID(), "error", err)
				f.metrics.FollowerError(h.Network(), "subscription")
			}
			return true
		}
	}
}

// poll fetches the latest block every PollInterval and emits only heads
// above the last one seen.
func (f *Follower) poll(ctx context.Context, h *connection.Polling) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		head, err := f.fetchLatest(ctx, h)
		switch {
		case errors.Is(err, connection.ErrAlreadyClosed):
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("poll failed", "network", h.Network(), "handle_id", h.ID(), "error", err)
			f.metrics.FollowerError(h.Network(), "poll")
		case head != nil && head.Number > last:
			last = head.Number
			f.emit(*head, h, model.SourcePoll)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *Follower) fetchLatest(ctx context.Context, h *connection.Polling) (*model.BlockHead, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	var hdr *rpcHeader
	if err := h.Call(ctx, &hdr, "eth_getBlockByNumber", "latest", false); err != nil {
		return nil, err
	}
	if hdr == nil {
		return nil, nil
	}
	head := hdr.toHead()
	return &head, nil
}

func (f *Follower) emit(head model.BlockHead, h connection.Handle, source string) {
	head.Network = h.Network()
	head.HandleID = h.ID()
	head.Source = source
	head.ReceivedAt = time.Now()

	f.metrics.HeadReceived(head)
	if !f.sink.Push(head) {
		f.metrics.FollowerError(h.Network(), "enqueue")
	}
}

func (f *Follower) wait(ctx context.Context) bool {
	t := time.NewTimer(f.cfg.RetryInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// rpcHeader is the subset of a block header the follower records.
type rpcHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func (h rpcHeader) toHead() model.BlockHead {
	return model.BlockHead{
		Number:     uint64(h.Number),
		Hash:       h.Hash.Hex(),
		ParentHash: h.ParentHash.Hex(),
		Timestamp:  int64(h.Timestamp),
	}
}

func decodeHead(raw json.RawMessage) (model.BlockHead, error) {
	var hdr rpcHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return model.BlockHead{}, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Hash == (common.Hash{}) {
		return model.BlockHead{}, errors.New("decode header: missing hash")
	}
	return hdr.toHead(), nil
}

type nopMetrics struct{}

func (nopMetrics) HeadReceived(model.BlockHead)           {}
func (nopMetrics) FollowerError(model.NetworkID, string)  {}
func (nopMetrics) HandleSwitched(model.NetworkID, string) {}
