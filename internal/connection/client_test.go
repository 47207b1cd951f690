package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// mockRPCServer answers each JSON-RPC request with the frames returned by respond.
func mockRPCServer(t *testing.T, respond func(req jsonrpcMessage) []string) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req jsonrpcMessage
			if err := json.Unmarshal(data, &req); err != nil {
				t.Logf("bad request: %v", err)
				return
			}
			for _, frame := range respond(req) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	})
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.RequestTimeout = time.Second
	return cfg
}

func result(req jsonrpcMessage, value string) string {
	return `{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + value + `}`
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Just keep the connection open
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if got := client.State(); got != StateConnecting {
		t.Errorf("State() before Connect = %v, want %v", got, StateConnecting)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := client.State(); got != StateOpen {
		t.Errorf("State() after Connect = %v, want %v", got, StateOpen)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("State() after Close = %v, want %v", got, StateClosed)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	client := NewClient(testClientConfig(url), nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("Connect expected error for closed server, got nil")
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestClient_CloseBeforeConnect(t *testing.T) {
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := client.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_DialHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotUA string

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.Header = http.Header{"User-Agent": []string{"chainwatch/test"}}

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	if gotUA != "chainwatch/test" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "chainwatch/test")
	}
}

func TestClient_Call(t *testing.T) {
	server := mockRPCServer(t, func(req jsonrpcMessage) []string {
		switch req.Method {
		case "eth_chainId":
			return []string{result(req, `"0xa4b1"`)}
		default:
			return []string{`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var chainID string
	if err := client.Call(context.Background(), &chainID, "eth_chainId"); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if chainID != "0xa4b1" {
		t.Errorf("chainID = %q, want %q", chainID, "0xa4b1")
	}

	err := client.Call(context.Background(), nil, "eth_bogus")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d, want -32601", rpcErr.Code)
	}
}

func TestClient_CallNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://127.0.0.1:1"), nil)

	err := client.Call(context.Background(), nil, "eth_chainId")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_CallTimeout(t *testing.T) {
	server := mockRPCServer(t, func(req jsonrpcMessage) []string { return nil })
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.RequestTimeout = 50 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	err := client.Call(context.Background(), nil, "eth_blockNumber")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_Subscribe(t *testing.T) {
	server := mockRPCServer(t, func(req jsonrpcMessage) []string {
		switch req.Method {
		case "eth_subscribe":
			return []string{result(req, `"0xsub1"`)}
		case "test_emit":
			// Notifications arrive before the reply to test_emit
			return []string{
				`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"number":"0x1"}}}`,
				`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xother","result":{"number":"0x9"}}}`,
				`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"number":"0x2"}}}`,
				result(req, `true`),
			}
		case "eth_unsubscribe":
			return []string{result(req, `true`)}
		}
		return nil
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "newHeads")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.ID() != "0xsub1" {
		t.Errorf("ID() = %q, want %q", sub.ID(), "0xsub1")
	}
	if got := client.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", got)
	}

	if err := client.Call(context.Background(), nil, "test_emit"); err != nil {
		t.Fatalf("test_emit failed: %v", err)
	}

	for _, want := range []string{`{"number":"0x1"}`, `{"number":"0x2"}`} {
		select {
		case got := <-sub.Notifications():
			if string(got) != want {
				t.Errorf("notification = %s, want %s", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for notification %s", want)
		}
	}

	sub.Unsubscribe()
	if got := client.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() after Unsubscribe = %d, want 0", got)
	}
	if err, ok := <-sub.Err(); ok {
		t.Errorf("Err() after Unsubscribe delivered %v, want closed channel", err)
	}
}

func TestClient_ServerDisconnect(t *testing.T) {
	subscribed := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req jsonrpcMessage
		json.Unmarshal(data, &req)
		conn.WriteMessage(websocket.TextMessage, []byte(result(req, `"0xsub1"`)))
		<-subscribed
		// Returning closes the connection
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "newHeads")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	close(subscribed)

	select {
	case err := <-sub.Err():
		if !errors.Is(err, ErrSubscriptionClosed) {
			t.Errorf("Err() = %v, want ErrSubscriptionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscription to end")
	}

	if got := client.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if got := client.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", got)
	}
}

func TestClient_StaleConnection(t *testing.T) {
	// Server never reads, so client pings are never answered
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(2 * time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for client.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want %v after ping timeout", client.State(), StateClosed)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Send ping
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Give time for ping to be processed
	time.Sleep(200 * time.Millisecond)

	if got := client.State(); got != StateOpen {
		t.Errorf("State() after ping = %v, want %v", got, StateOpen)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// First close should succeed
	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	// Second close should be no-op
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{State(9), "state(9)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.PingTimeout != 60*time.Second {
		t.Errorf("PingTimeout = %v, want 60s", cfg.PingTimeout)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", cfg.HeartbeatInterval)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
}
