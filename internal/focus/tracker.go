package focus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimeout is how long attention must be continuously absent before
// focus is reported lost.
const DefaultTimeout = 60 * time.Second

// Signal is a change in the debounced attention state.
type Signal struct {
	LostFocus bool
	At        time.Time
}

// Tracker debounces raw focus input into a lost/regained signal.
type Tracker struct {
	timeout time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger

	mu         sync.Mutex
	focused    bool // raw input
	lost       bool // debounced state
	lastChange time.Time
	pending    clockwork.Timer
	seq        uint64
	subs       map[int]chan Signal
	nextSubID  int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for the loss timeout.
func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a tracker that starts focused.
func NewTracker(timeout time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		timeout: timeout,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		focused: true,
		subs:    make(map[int]chan Signal),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastChange = t.clock.Now()
	return t
}

// SetFocused records raw attention input. Loss is reported once the input
// has stayed unfocused for the full timeout. Regaining focus is reported
// immediately and cancels any pending loss.
func (t *Tracker) SetFocused(focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if focused == t.focused {
		return
	}
	t.focused = focused
	t.cancelPendingLocked()

	if focused {
		if t.lost {
			t.lost = false
			t.emitLocked()
		}
		return
	}

	if t.lost {
		return
	}
	if t.timeout <= 0 {
		t.lost = true
		t.emitLocked()
		return
	}

	seq := t.seq
	t.pending = t.clock.AfterFunc(t.timeout, func() { t.expire(seq) })
	t.logger.Debug("focus loss pending", "timeout", t.timeout)
}

func (t *Tracker) expire(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Superseded by a later SetFocused call.
	if seq != t.seq || t.focused || t.lost {
		return
	}
	t.pending = nil
	t.lost = true
	t.emitLocked()
}

func (t *Tracker) cancelPendingLocked() {
	t.seq++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Tracker) emitLocked() {
	t.lastChange = t.clock.Now()
	sig := Signal{LostFocus: t.lost, At: t.lastChange}

	t.logger.Info("focus changed", "lost_focus", sig.LostFocus)

	for _, ch := range t.subs {
		// Keep only the latest signal for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- sig
	}
}

// LostFocus reports the debounced state.
func (t *Tracker) LostFocus() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

// LastChange returns when the debounced state last changed.
func (t *Tracker) LastChange() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastChange
}

// Subscribe returns a channel holding the most recent Signal and a function
// that cancels the subscription.
func (t *Tracker) Subscribe() (<-chan Signal, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	ch := make(chan Signal, 1)
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}
