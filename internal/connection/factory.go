package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rickgao/chainwatch/internal/auth"
	"github.com/rickgao/chainwatch/internal/model"
	"golang.org/x/time/rate"
)

// Factory creates and releases handles. Create may return (nil, nil) when
// the network is known but has no connection available.
type Factory interface {
	Create(ctx context.Context, network model.NetworkID) (Handle, error)
	Close(h Handle) error
}

// FactoryConfig configures a NetworkFactory.
type FactoryConfig struct {
	Client         ClientConfig      // Template for streaming clients; URL and Header are filled per network
	RequestTimeout time.Duration     // HTTP request timeout for polling handles
	PollRateLimit  float64           // Requests per second per polling handle, 0 = unlimited
	HTTPMaxRetries int               // Retries per polling request
	Credentials    *auth.Credentials // Optional request signing
	UserAgent      string
}

// NetworkFactory creates handles for configured networks. Networks with a
// ws_url get a Streaming handle; otherwise an http_url yields a Polling handle.
type NetworkFactory struct {
	networks map[model.NetworkID]model.Network
	cfg      FactoryConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewNetworkFactory creates a factory for networks.
func NewNetworkFactory(networks []model.Network, cfg FactoryConfig, logger *slog.Logger) *NetworkFactory {
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[model.NetworkID]model.Network, len(networks))
	for _, n := range networks {
		byID[n.ID] = n
	}
	return &NetworkFactory{
		networks: byID,
		cfg:      cfg,
		logger:   logger.With("component", "factory"),
		now:      time.Now,
	}
}

// Create returns a handle for network. Streaming handles dial in the
// background and report StateConnecting until the dial settles.
func (f *NetworkFactory) Create(ctx context.Context, network model.NetworkID) (Handle, error) {
	if network == "" {
		return nil, &ConfigurationError{Reason: "network id is empty"}
	}
	n, ok := f.networks[network]
	if !ok {
		return nil, &ConfigurationError{Network: network, Reason: "unknown network"}
	}

	switch {
	case n.WSURL != "":
		return f.createStreaming(n)
	case n.HTTPURL != "":
		return f.createPolling(ctx, n)
	default:
		f.logger.Debug("no endpoint configured", "network", network)
		return nil, nil
	}
}

func (f *NetworkFactory) createStreaming(n model.Network) (Handle, error) {
	clientCfg := f.cfg.Client
	clientCfg.URL = n.WSURL
	clientCfg.Header = f.headers(http.MethodGet, n.WSURL)

	client := NewClient(clientCfg, f.logger.With("network", n.ID))
	h := NewStreaming(n.ID, client, f.now())

	go func() {
		// Close cancels the dial
		if err := client.Connect(context.Background()); err != nil {
			f.logger.Warn("stream dial failed",
				"network", n.ID,
				"handle_id", h.ID(),
				"error", &TransientConnectionFailure{Network: n.ID, Err: err},
			)
		}
	}()

	return h, nil
}

func (f *NetworkFactory) createPolling(ctx context.Context, n model.Network) (Handle, error) {
	rc := retryablehttp.NewClient()
	rc.RetryMax = f.cfg.HTTPMaxRetries
	rc.Logger = f.logger.With("network", n.ID)
	if f.cfg.RequestTimeout > 0 {
		rc.HTTPClient.Timeout = f.cfg.RequestTimeout
	}
	rc.HTTPClient.Transport = &signingTransport{
		base:      rc.HTTPClient.Transport,
		creds:     f.cfg.Credentials,
		userAgent: f.cfg.UserAgent,
	}

	client, err := rpc.DialOptions(ctx, n.HTTPURL, rpc.WithHTTPClient(rc.StandardClient()))
	if err != nil {
		return nil, &TransientConnectionFailure{Network: n.ID, Err: err}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if f.cfg.PollRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.PollRateLimit), 1)
	}

	return NewPolling(n.ID, client, limiter, f.now()), nil
}

// Close releases h. Failures are returned as *CloseFailure.
func (f *NetworkFactory) Close(h Handle) error {
	var err error
	switch h := h.(type) {
	case nil:
		return nil
	case *Streaming:
		err = h.Close()
	case *Polling:
		err = h.Close()
	default:
		err = fmt.Errorf("unknown handle type %T", h)
	}
	if err != nil {
		return &CloseFailure{Network: h.Network(), HandleID: h.ID(), Err: err}
	}
	return nil
}

func (f *NetworkFactory) headers(method, rawURL string) http.Header {
	h := http.Header{}
	if f.cfg.UserAgent != "" {
		h.Set("User-Agent", f.cfg.UserAgent)
	}
	if f.cfg.Credentials != nil {
		for k, v := range f.cfg.Credentials.SignRequest(method, endpointPath(rawURL)) {
			h[k] = v
		}
	}
	return h
}

func endpointPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// signingTransport signs every polling request so timestamps stay fresh.
type signingTransport struct {
	base      http.RoundTripper
	creds     *auth.Credentials
	userAgent string
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if t.creds != nil {
		path := req.URL.Path
		if path == "" {
			path = "/"
		}
		for k, v := range t.creds.SignRequest(req.Method, path) {
			req.Header[k] = v
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
