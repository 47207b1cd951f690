package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Network Types
// -----------------------------------------------------------------------------

// NetworkID identifies a supported chain (e.g., "arbitrum", "avalanche").
type NetworkID string

// Network describes the RPC endpoints for one chain.
type Network struct {
	ID      NetworkID // Primary key (e.g., "arbitrum")
	Name    string    // Display name
	ChainID int64     // EIP-155 chain id
	WSURL   string    // Streaming endpoint (empty = no streaming support)
	HTTPURL string    // Request/response endpoint (empty = none)
}

// HasEndpoint reports whether any endpoint is configured for the network.
func (n Network) HasEndpoint() bool {
	return n.WSURL != "" || n.HTTPURL != ""
}

// -----------------------------------------------------------------------------
// Chain Data Types
// -----------------------------------------------------------------------------

// HeadSource values.
const (
	SourceStream = "ws"
	SourcePoll   = "poll"
)

// BlockHead is a new chain head observed through a connection handle.
type BlockHead struct {
	Network    NetworkID // Chain the head belongs to
	Number     uint64    // Block number
	Hash       string    // 0x-prefixed block hash
	ParentHash string    // 0x-prefixed parent hash
	Timestamp  int64     // Block timestamp (seconds since epoch)
	ReceivedAt time.Time // Local receive time
	Source     string    // "ws" or "poll"
	HandleID   uuid.UUID // Handle the head arrived on
}

// -----------------------------------------------------------------------------
// Connection Lifecycle Types
// -----------------------------------------------------------------------------

// LifecycleKind classifies a supervisor lifecycle transition.
type LifecycleKind string

const (
	LifecycleCreated           LifecycleKind = "created"
	LifecycleReplaced          LifecycleKind = "replaced"
	LifecycleHealthCheckFailed LifecycleKind = "health_check_failed"
	LifecycleCreateFailed      LifecycleKind = "create_failed"
	LifecycleClosed            LifecycleKind = "closed"
	LifecycleCloseFailed       LifecycleKind = "close_failed"
)

// LifecycleEvent records a connection lifecycle transition.
type LifecycleEvent struct {
	ID       uuid.UUID     // Primary key
	Network  NetworkID     // Network the handle serves
	HandleID uuid.UUID     // uuid.Nil when no handle is involved
	Kind     LifecycleKind // Transition kind
	At       time.Time     // When the transition happened
	Detail   string        // Free-form context (error text, reason)
}

// NewLifecycleEvent creates an event with a fresh ID.
func NewLifecycleEvent(network NetworkID, handleID uuid.UUID, kind LifecycleKind, at time.Time, detail string) LifecycleEvent {
	return LifecycleEvent{
		ID:       uuid.New(),
		Network:  network,
		HandleID: handleID,
		Kind:     kind,
		At:       at,
		Detail:   detail,
	}
}
