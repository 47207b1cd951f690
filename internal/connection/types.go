package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/chainwatch/internal/model"
)

// State is the ready state of a streaming connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle is a live connection to a network. It is either a *Streaming or a
// *Polling; callers switch on the concrete type.
type Handle interface {
	ID() uuid.UUID
	Network() model.NetworkID
	CreatedAt() time.Time
	Kind() string

	sealed()
}

// Handle kinds reported by Kind.
const (
	KindStreaming = "streaming"
	KindPolling   = "polling"
)

type handleBase struct {
	id        uuid.UUID
	network   model.NetworkID
	createdAt time.Time
}

func newHandleBase(network model.NetworkID, createdAt time.Time) handleBase {
	return handleBase{id: uuid.New(), network: network, createdAt: createdAt}
}

func (b handleBase) ID() uuid.UUID            { return b.id }
func (b handleBase) Network() model.NetworkID { return b.network }
func (b handleBase) CreatedAt() time.Time     { return b.createdAt }
func (b handleBase) sealed()                  {}

// StreamConn is the transport behind a Streaming handle. *Client implements it.
type StreamConn interface {
	State() State
	SubscriptionCount() int
	Call(ctx context.Context, result any, method string, params ...any) error
	Subscribe(ctx context.Context, params ...any) (Subscription, error)
	Close() error
}

// Subscription delivers server notifications for one eth_subscribe call.
type Subscription interface {
	ID() string
	// Notifications carries the raw "result" of each notification.
	Notifications() <-chan json.RawMessage
	// Err receives the error that ended the subscription, then closes.
	// It closes without a value after Unsubscribe.
	Err() <-chan error
	Unsubscribe()
}

// Streaming is a bidirectional connection with server push and a ready state.
type Streaming struct {
	handleBase
	conn StreamConn
}

// NewStreaming wraps conn in a new handle.
func NewStreaming(network model.NetworkID, conn StreamConn, createdAt time.Time) *Streaming {
	return &Streaming{handleBase: newHandleBase(network, createdAt), conn: conn}
}

func (s *Streaming) Kind() string { return KindStreaming }

// State returns the transport's ready state.
func (s *Streaming) State() State { return s.conn.State() }

// SubscriptionCount returns the number of live subscriptions.
func (s *Streaming) SubscriptionCount() int { return s.conn.SubscriptionCount() }

// Call performs a JSON-RPC request over the stream.
func (s *Streaming) Call(ctx context.Context, result any, method string, params ...any) error {
	return s.conn.Call(ctx, result, method, params...)
}

// Subscribe issues eth_subscribe with params.
func (s *Streaming) Subscribe(ctx context.Context, params ...any) (Subscription, error) {
	return s.conn.Subscribe(ctx, params...)
}

// Close releases the transport.
func (s *Streaming) Close() error { return s.conn.Close() }

// Caller is the request/response transport behind a Polling handle.
// *rpc.Client from go-ethereum implements it.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

// ClientConfig configures a streaming client.
type ClientConfig struct {
	URL               string        // Websocket URL (ws:// or wss://)
	Header            http.Header   // Extra dial headers (auth, user agent)
	HandshakeTimeout  time.Duration // Dial handshake limit
	PingTimeout       time.Duration // Max time without ping/pong before the connection is stale
	HeartbeatInterval time.Duration // How often to ping and check staleness
	WriteTimeout      time.Duration // Write deadline for sends
	RequestTimeout    time.Duration // Max wait for a call response
	BufferSize        int           // Notification buffer per subscription
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout:  10 * time.Second,
		PingTimeout:       60 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		WriteTimeout:      5 * time.Second,
		RequestTimeout:    10 * time.Second,
		BufferSize:        256,
	}
}

// jsonrpcMessage is a request, response, or notification on the wire.
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// subscriptionParams is the params object of an eth_subscription notification.
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// RPCError is an error object returned by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
