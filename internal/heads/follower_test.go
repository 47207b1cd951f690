package heads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/chainwatch/internal/buffer"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/model"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	hashA = "0x" + strings.Repeat("ab", 32)
	hashB = "0x" + strings.Repeat("cd", 32)
)

func headerJSON(number uint64, hash, parent string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"number":"0x%x","hash":%q,"parentHash":%q,"timestamp":"0x6553f100"}`,
		number, hash, parent,
	))
}

// fakeSource hands out handles the test pushes.
type fakeSource struct {
	ch chan connection.Handle
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan connection.Handle, 1)}
}

func (s *fakeSource) Watch() (<-chan connection.Handle, func()) {
	return s.ch, func() {}
}

func (s *fakeSource) set(h connection.Handle) {
	s.ch <- h
}

type fakeSub struct {
	id           string
	notes        chan json.RawMessage
	errs         chan error
	unsubscribed atomic.Bool
	once         sync.Once
}

func (s *fakeSub) ID() string                            { return s.id }
func (s *fakeSub) Notifications() <-chan json.RawMessage { return s.notes }
func (s *fakeSub) Err() <-chan error                     { return s.errs }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		s.unsubscribed.Store(true)
		close(s.errs)
	})
}

// fakeStream is a StreamConn that hands out fakeSubs.
type fakeStream struct {
	mu       sync.Mutex
	subs     []*fakeSub
	failures int // Subscribe calls to fail before succeeding
}

func (c *fakeStream) State() connection.State { return connection.StateOpen }
func (c *fakeStream) SubscriptionCount() int  { return len(c.subscriptions()) }

func (c *fakeStream) Call(ctx context.Context, result any, method string, params ...any) error {
	return connection.ErrNotConnected
}

func (c *fakeStream) Subscribe(ctx context.Context, params ...any) (connection.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return nil, connection.ErrNotConnected
	}
	sub := &fakeSub{
		id:    fmt.Sprintf("0x%d", len(c.subs)+1),
		notes: make(chan json.RawMessage, 8),
		errs:  make(chan error, 1),
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeStream) Close() error { return nil }

func (c *fakeStream) subscriptions() []*fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeSub(nil), c.subs...)
}

func (c *fakeStream) sub(i int) *fakeSub {
	return c.subscriptions()[i]
}

// fakeCaller answers eth_getBlockByNumber with a configurable head.
type fakeCaller struct {
	number atomic.Uint64
	calls  atomic.Int64
	fail   atomic.Bool
}

func (c *fakeCaller) CallContext(ctx context.Context, result any, method string, args ...any) error {
	c.calls.Add(1)
	if method != "eth_getBlockByNumber" {
		return fmt.Errorf("unexpected method %s", method)
	}
	if c.fail.Load() {
		return errors.New("upstream 502")
	}
	return json.Unmarshal(headerJSON(c.number.Load(), hashA, hashB), result)
}

func (c *fakeCaller) Close() {}

type fakeMetrics struct {
	mu       sync.Mutex
	heads    int
	errs     map[string]int
	switches int
}

func (m *fakeMetrics) HeadReceived(model.BlockHead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads++
}

func (m *fakeMetrics) FollowerError(_ model.NetworkID, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errs == nil {
		m.errs = make(map[string]int)
	}
	m.errs[op]++
}

func (m *fakeMetrics) HandleSwitched(model.NetworkID, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switches++
}

func (m *fakeMetrics) errCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[op]
}

type fixture struct {
	source  *fakeSource
	queue   *buffer.Queue[model.BlockHead]
	metrics *fakeMetrics
	done    chan error
	cancel  context.CancelFunc
}

func startFollower(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		source:  newFakeSource(),
		queue:   buffer.NewQueue[model.BlockHead](16, 0),
		metrics: &fakeMetrics{},
		done:    make(chan error, 1),
	}
	cfg := Config{
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: time.Second,
		RetryInterval:  10 * time.Millisecond,
	}
	f := NewFollower(fx.source, fx.queue, cfg, nil, fx.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	fx.cancel = cancel
	go func() { fx.done <- f.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-fx.done:
		case <-time.After(waitFor):
			t.Error("follower did not stop")
		}
	})
	return fx
}

func TestFollower_StreamingHeads(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{}
	h := connection.NewStreaming("arbitrum", conn, time.Now())

	fx.source.set(h)
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)

	conn.sub(0).notes <- headerJSON(100, hashA, hashB)
	require.Eventually(t, func() bool { return fx.queue.Len() == 1 }, waitFor, tick)

	head, ok := fx.queue.TryPop()
	require.True(t, ok)
	assert.Equal(t, model.NetworkID("arbitrum"), head.Network)
	assert.Equal(t, uint64(100), head.Number)
	assert.Equal(t, hashA, head.Hash)
	assert.Equal(t, hashB, head.ParentHash)
	assert.Equal(t, int64(0x6553f100), head.Timestamp)
	assert.Equal(t, model.SourceStream, head.Source)
	assert.Equal(t, h.ID(), head.HandleID)
	assert.False(t, head.ReceivedAt.IsZero())
}

func TestFollower_SkipsUndecodableHeads(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{}
	fx.source.set(connection.NewStreaming("arbitrum", conn, time.Now()))
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)

	conn.sub(0).notes <- json.RawMessage(`{"number":"not-hex"}`)
	conn.sub(0).notes <- headerJSON(7, hashA, hashB)

	require.Eventually(t, func() bool { return fx.queue.Len() == 1 }, waitFor, tick)
	assert.Equal(t, 1, fx.metrics.errCount("decode"))
}

func TestFollower_ResubscribesAfterSubscriptionError(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{}
	fx.source.set(connection.NewStreaming("arbitrum", conn, time.Now()))
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)

	conn.sub(0).errs <- connection.ErrSubscriptionClosed
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 2 }, waitFor, tick)
	assert.Equal(t, 1, fx.metrics.errCount("subscription"))

	conn.sub(1).notes <- headerJSON(8, hashA, hashB)
	require.Eventually(t, func() bool { return fx.queue.Len() == 1 }, waitFor, tick)
}

func TestFollower_RetriesSubscribeWhileConnecting(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{failures: 3}
	fx.source.set(connection.NewStreaming("arbitrum", conn, time.Now()))

	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)
	assert.Equal(t, 3, fx.metrics.errCount("subscribe"))
}

func TestFollower_PollingEmitsOnlyNewNumbers(t *testing.T) {
	fx := startFollower(t)
	caller := &fakeCaller{}
	caller.number.Store(42)
	fx.source.set(connection.NewPolling("avalanche", caller, nil, time.Now()))

	require.Eventually(t, func() bool { return caller.calls.Load() >= 5 }, waitFor, tick)
	assert.Equal(t, 1, fx.queue.Len(), "same head emitted twice")

	caller.number.Store(43)
	require.Eventually(t, func() bool { return fx.queue.Len() == 2 }, waitFor, tick)

	heads := fx.queue.Drain(0)
	assert.Equal(t, uint64(42), heads[0].Number)
	assert.Equal(t, uint64(43), heads[1].Number)
	assert.Equal(t, model.SourcePoll, heads[1].Source)
	assert.Equal(t, model.NetworkID("avalanche"), heads[1].Network)
}

func TestFollower_PollErrorsCounted(t *testing.T) {
	fx := startFollower(t)
	caller := &fakeCaller{}
	caller.fail.Store(true)
	fx.source.set(connection.NewPolling("avalanche", caller, nil, time.Now()))

	require.Eventually(t, func() bool { return fx.metrics.errCount("poll") >= 2 }, waitFor, tick)
	assert.Zero(t, fx.queue.Len())
}

func TestFollower_PollingStopsOnClosedHandle(t *testing.T) {
	fx := startFollower(t)
	caller := &fakeCaller{}
	caller.number.Store(1)
	p := connection.NewPolling("avalanche", caller, nil, time.Now())
	fx.source.set(p)

	require.Eventually(t, func() bool { return caller.calls.Load() >= 1 }, waitFor, tick)
	require.NoError(t, p.Close())

	time.Sleep(50 * time.Millisecond)
	calls := caller.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, caller.calls.Load(), "polling continued on a closed handle")
	assert.Zero(t, fx.metrics.errCount("poll"))
}

func TestFollower_SwitchesHandles(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{}
	fx.source.set(connection.NewStreaming("arbitrum", conn, time.Now()))
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)

	// Supervisor tore the handle down
	fx.source.set(nil)
	require.Eventually(t, func() bool { return conn.sub(0).unsubscribed.Load() }, waitFor, tick)

	caller := &fakeCaller{}
	caller.number.Store(9)
	fx.source.set(connection.NewPolling("avalanche", caller, nil, time.Now()))
	require.Eventually(t, func() bool { return fx.queue.Len() == 1 }, waitFor, tick)

	fx.metrics.mu.Lock()
	defer fx.metrics.mu.Unlock()
	assert.Equal(t, 2, fx.metrics.switches)
}

func TestFollower_StopUnsubscribes(t *testing.T) {
	fx := startFollower(t)
	conn := &fakeStream{}
	fx.source.set(connection.NewStreaming("arbitrum", conn, time.Now()))
	require.Eventually(t, func() bool { return len(conn.subscriptions()) == 1 }, waitFor, tick)

	fx.cancel()
	select {
	case err := <-fx.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	fx.done <- nil // consumed by cleanup

	assert.True(t, conn.sub(0).unsubscribed.Load())
}

func TestDecodeHead(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    uint64
		wantErr bool
	}{
		{"valid", string(headerJSON(0x1b4, hashA, hashB)), 0x1b4, false},
		{"missing hash", `{"number":"0x1","timestamp":"0x1"}`, 0, true},
		{"bad number", `{"number":"12","hash":"` + hashA + `"}`, 0, true},
		{"not json", `[`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, err := decodeHead(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, head.Number)
		})
	}
}
