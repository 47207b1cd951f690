package connection

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rickgao/chainwatch/internal/model"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrTimeout            = errors.New("operation timeout")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// ConfigurationError reports an unknown or empty network id. It is returned
// synchronously and never retried.
type ConfigurationError struct {
	Network model.NetworkID
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Network == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: network %q: %s", e.Network, e.Reason)
}

// TransientConnectionFailure reports that a handle could not be created or
// became unusable. The handle slot stays empty until the next trigger.
type TransientConnectionFailure struct {
	Network model.NetworkID
	Err     error
}

func (e *TransientConnectionFailure) Error() string {
	return fmt.Sprintf("connection to %q failed: %v", e.Network, e.Err)
}

func (e *TransientConnectionFailure) Unwrap() error { return e.Err }

// CloseFailure reports that releasing a handle failed. It is logged, never
// propagated to callers of stop.
type CloseFailure struct {
	Network  model.NetworkID
	HandleID uuid.UUID
	Err      error
}

func (e *CloseFailure) Error() string {
	return fmt.Sprintf("close handle %s on %q: %v", e.HandleID, e.Network, e.Err)
}

func (e *CloseFailure) Unwrap() error { return e.Err }
