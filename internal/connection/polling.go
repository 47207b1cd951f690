package connection

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rickgao/chainwatch/internal/model"
	"golang.org/x/time/rate"
)

// Polling is a request/response connection without server push. Callers
// poll it; it has no ready state and is never health-checked.
type Polling struct {
	handleBase
	caller  Caller
	limiter *rate.Limiter
	closed  atomic.Bool
}

// NewPolling wraps caller in a new handle. A nil limiter means unlimited.
func NewPolling(network model.NetworkID, caller Caller, limiter *rate.Limiter, createdAt time.Time) *Polling {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Polling{
		handleBase: newHandleBase(network, createdAt),
		caller:     caller,
		limiter:    limiter,
	}
}

func (p *Polling) Kind() string { return KindPolling }

// Call waits for the rate limiter and performs a JSON-RPC request.
func (p *Polling) Call(ctx context.Context, result any, method string, params ...any) error {
	if p.closed.Load() {
		return ErrAlreadyClosed
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return p.caller.CallContext(ctx, result, method, params...)
}

// Closed reports whether Close has been called.
func (p *Polling) Closed() bool { return p.closed.Load() }

// Close releases the underlying client. Closing twice is a no-op.
func (p *Polling) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.caller.Close()
	return nil
}
