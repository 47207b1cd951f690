package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a JSON-RPC client over a single websocket connection.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	nextID atomic.Uint64

	// State
	mu         sync.RWMutex
	state      State
	lastPingAt time.Time
	cancelDial context.CancelFunc
	pending    map[uint64]chan *jsonrpcMessage
	subs       map[string]*clientSubscription
	done       chan struct{}
	closeOnce  sync.Once
}

// NewClient creates a client in the connecting state. Call Connect to dial.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultClientConfig().HeartbeatInterval
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		state:   StateConnecting,
		pending: make(map[uint64]chan *jsonrpcMessage),
		subs:    make(map[string]*clientSubscription),
		done:    make(chan struct{}),
	}
}

// Connect dials the websocket. On failure the client moves to closed.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.cancelDial = cancel
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateClosed
		}
		c.mu.Unlock()
		c.shutdown()
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.state = StateOpen
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close sends a close frame and releases the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.state = StateClosed
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.shutdown()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	c.shutdown()

	// Send close message
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := conn.Close()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	return err
}

// State returns the current ready state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SubscriptionCount returns the number of live subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Call sends a request and waits for its response, decoding the result into result.
func (c *Client) Call(ctx context.Context, result any, method string, params ...any) error {
	resp, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Subscribe issues eth_subscribe and routes matching notifications to the
// returned Subscription.
func (c *Client) Subscribe(ctx context.Context, params ...any) (Subscription, error) {
	var subID string
	if err := c.Call(ctx, &subID, "eth_subscribe", params...); err != nil {
		return nil, err
	}

	sub := &clientSubscription{
		id:     subID,
		client: c,
		ch:     make(chan json.RawMessage, c.cfg.BufferSize),
		errCh:  make(chan error, 1),
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		sub.terminate(ErrSubscriptionClosed)
		return nil, ErrNotConnected
	}
	c.subs[subID] = sub
	c.mu.Unlock()

	return sub, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params []any) (*jsonrpcMessage, error) {
	if params == nil {
		params = []any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	id := c.nextID.Add(1)
	msg := jsonrpcMessage{
		Version: "2.0",
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
		Params:  rawParams,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	respCh := make(chan *jsonrpcMessage, 1)
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(data); err != nil {
		return nil, err
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// send writes raw bytes to the connection.
func (c *Client) send(data []byte) error {
	c.mu.RLock()
	if c.state != StateOpen {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// shutdown stops background loops and ends every subscription.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*clientSubscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(ErrSubscriptionClosed)
	}
}

// markClosed moves an open connection to closed after a transport failure.
func (c *Client) markClosed(reason error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	c.logger.Warn("websocket closed", "url", c.cfg.URL, "error", reason)
	c.shutdown()
	conn.Close()
}

// readLoop reads frames and dispatches responses and notifications.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.markClosed(err)
			return
		}
		c.touch()

		var msg jsonrpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("undecodable frame", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *jsonrpcMessage) {
	if msg.Method == "eth_subscription" {
		var params subscriptionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Warn("undecodable notification", "error", err)
			return
		}
		c.mu.RLock()
		sub := c.subs[params.Subscription]
		c.mu.RUnlock()
		if sub == nil {
			return
		}
		select {
		case sub.ch <- params.Result:
		default:
			c.logger.Warn("notification buffer full, dropping message", "subscription", sub.id)
		}
		return
	}

	if len(msg.ID) == 0 {
		return
	}
	id, err := strconv.ParseUint(string(msg.ID), 10, 64)
	if err != nil {
		return
	}
	c.mu.RLock()
	respCh := c.pending[id]
	c.mu.RUnlock()
	if respCh != nil {
		select {
		case respCh <- msg:
		default:
		}
	}
}

// heartbeatLoop pings the server and closes the connection when it goes stale.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			lastPing := c.lastPingAt
			conn := c.conn
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.markClosed(ErrStaleConnection)
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

type clientSubscription struct {
	id     string
	client *Client
	ch     chan json.RawMessage
	errCh  chan error
	once   sync.Once
}

func (s *clientSubscription) ID() string                            { return s.id }
func (s *clientSubscription) Notifications() <-chan json.RawMessage { return s.ch }
func (s *clientSubscription) Err() <-chan error                     { return s.errCh }

// Unsubscribe removes the subscription and tells the server, best effort.
func (s *clientSubscription) Unsubscribe() {
	c := s.client
	c.mu.Lock()
	_, live := c.subs[s.id]
	delete(c.subs, s.id)
	c.mu.Unlock()

	s.terminate(nil)

	if live && c.State() == StateOpen {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := c.Call(ctx, nil, "eth_unsubscribe", s.id); err != nil {
			c.logger.Debug("unsubscribe failed", "subscription", s.id, "error", err)
		}
	}
}

func (s *clientSubscription) terminate(err error) {
	s.once.Do(func() {
		if err != nil {
			s.errCh <- err
		}
		close(s.errCh)
	})
}
