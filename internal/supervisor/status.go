package supervisor

import (
	"time"

	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/model"
)

// Status is a point-in-time view of the supervisor for health endpoints.
type Status struct {
	Active        bool            `json:"active"` // Focused with a network selected
	Network       model.NetworkID `json:"network,omitempty"`
	LostFocus     bool            `json:"lost_focus"`
	Creating      bool            `json:"creating"`
	HandleID      string          `json:"handle_id,omitempty"`
	HandleKind    string          `json:"handle_kind,omitempty"`
	ReadyState    string          `json:"ready_state,omitempty"`
	Subscriptions int             `json:"subscriptions"`
	InstalledAt   time.Time       `json:"installed_at,omitempty"`
	Age           time.Duration   `json:"age_ns"`
	RetryWait     time.Duration   `json:"retry_wait_ns,omitempty"` // Pending backoff after a failed creation
	Generation    uint64          `json:"generation"`
	Replacements  uint64          `json:"replacements"`
	HealthChecks  uint64          `json:"health_checks"`
}

// Status returns the latest snapshot with live handle details.
func (s *Supervisor) Status() Status {
	st := *s.status.Load()

	if h := s.Current(); h != nil {
		st.HandleID = h.ID().String()
		st.HandleKind = h.Kind()
		if sh, ok := h.(*connection.Streaming); ok {
			st.ReadyState = sh.State().String()
			st.Subscriptions = sh.SubscriptionCount()
		}
	}
	if !st.InstalledAt.IsZero() {
		st.Age = s.clock.Since(st.InstalledAt)
	}
	return st
}

// publishStatus snapshots loop-owned state. Called only from Run.
func (s *Supervisor) publishStatus() {
	s.status.Store(&Status{
		Active:       !s.lostFocus && s.network != "",
		Network:      s.network,
		LostFocus:    s.lostFocus,
		Creating:     s.creating,
		InstalledAt:  s.installedAt,
		RetryWait:    s.retryWait,
		Generation:   s.generation,
		Replacements: s.replacements,
		HealthChecks: s.checks,
	})
}
