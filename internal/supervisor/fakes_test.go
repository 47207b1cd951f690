package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/focus"
	"github.com/rickgao/chainwatch/internal/model"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	settle  = 30 * time.Millisecond
)

// fakeConn is a StreamConn whose ready state tests control.
type fakeConn struct {
	mu    sync.Mutex
	state connection.State
}

func (c *fakeConn) setState(s connection.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeConn) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) SubscriptionCount() int { return 1 }

func (c *fakeConn) Call(ctx context.Context, result any, method string, params ...any) error {
	return connection.ErrNotConnected
}

func (c *fakeConn) Subscribe(ctx context.Context, params ...any) (connection.Subscription, error) {
	return nil, connection.ErrNotConnected
}

func (c *fakeConn) Close() error {
	c.setState(connection.StateClosed)
	return nil
}

type fakeCaller struct{}

func (fakeCaller) CallContext(ctx context.Context, result any, method string, args ...any) error {
	return nil
}

func (fakeCaller) Close() {}

// fakeFactory records every Create and Close call.
type fakeFactory struct {
	mu       sync.Mutex
	calls    []model.NetworkID
	handles  []connection.Handle
	conns    map[uuid.UUID]*fakeConn
	closes   map[uuid.UUID]int
	live     int
	maxLive  int
	polling  map[model.NetworkID]bool
	empty    map[model.NetworkID]bool
	gates    map[model.NetworkID]chan struct{}
	errs     []error // consumed by successive Create calls; nil entries succeed
	closeErr error
	now      func() time.Time
}

func newFakeFactory(clock clockwork.Clock) *fakeFactory {
	return &fakeFactory{
		conns:   make(map[uuid.UUID]*fakeConn),
		closes:  make(map[uuid.UUID]int),
		polling: make(map[model.NetworkID]bool),
		empty:   make(map[model.NetworkID]bool),
		gates:   make(map[model.NetworkID]chan struct{}),
		now:     clock.Now,
	}
}

func (f *fakeFactory) Create(ctx context.Context, network model.NetworkID) (connection.Handle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, network)
	gate := f.gates[network]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.empty[network] {
		return nil, nil
	}

	var h connection.Handle
	if f.polling[network] {
		h = connection.NewPolling(network, fakeCaller{}, nil, f.now())
	} else {
		conn := &fakeConn{state: connection.StateOpen}
		s := connection.NewStreaming(network, conn, f.now())
		f.conns[s.ID()] = conn
		h = s
	}
	f.handles = append(f.handles, h)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return h, nil
}

func (f *fakeFactory) Close(h connection.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes[h.ID()]++
	if f.closes[h.ID()] == 1 {
		f.live--
	}
	if conn := f.conns[h.ID()]; conn != nil {
		conn.setState(connection.StateClosed)
	}
	if f.closeErr != nil {
		return &connection.CloseFailure{Network: h.Network(), HandleID: h.ID(), Err: f.closeErr}
	}
	return nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFactory) callsSnapshot() []model.NetworkID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NetworkID(nil), f.calls...)
}

func (f *fakeFactory) handleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeFactory) handle(i int) connection.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func (f *fakeFactory) closeCount(h connection.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes[h.ID()]
}

func (f *fakeFactory) conn(h connection.Handle) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[h.ID()]
}

func (f *fakeFactory) gate(network model.NetworkID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[network] = ch
	return ch
}

func (f *fakeFactory) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeFactory) peakLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// memJournal collects lifecycle events.
type memJournal struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (j *memJournal) Record(ev model.LifecycleEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *memJournal) kinds() []model.LifecycleKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	kinds := make([]model.LifecycleKind, 0, len(j.events))
	for _, ev := range j.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (j *memJournal) count(kind model.LifecycleKind) int {
	n := 0
	for _, k := range j.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// harness runs a supervisor against fakes with a fake clock.
type harness struct {
	sup     *Supervisor
	factory *fakeFactory
	tracker *focus.Tracker
	clock   clockwork.FakeClock
	journal *memJournal
	cancel  context.CancelFunc
	runErr  chan error
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	clock := clockwork.NewFakeClock()
	factory := newFakeFactory(clock)
	// Zero timeout reports loss immediately
	tracker := focus.NewTracker(0, focus.WithClock(clockwork.NewFakeClock()), focus.WithLogger(discardLogger()))
	journal := &memJournal{}

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	sup := New(cfg, factory, tracker,
		WithClock(clock),
		WithLogger(discardLogger()),
		WithJournal(journal),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		sup:     sup,
		factory: factory,
		tracker: tracker,
		clock:   clock,
		journal: journal,
		cancel:  cancel,
		runErr:  make(chan error, 1),
	}
	go func() { h.runErr <- sup.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(waitFor):
			t.Error("supervisor did not stop")
		}
	})
	return h
}

func (h *harness) start(t *testing.T, network model.NetworkID) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return h.sup.Start(ctx, network)
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := h.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errDial = errors.New("dial refused")
