package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rickgao/chainwatch/internal/connection"
	"github.com/rickgao/chainwatch/internal/focus"
	"github.com/rickgao/chainwatch/internal/model"
)

// Errors
var (
	ErrSuperseded     = errors.New("start superseded by a later start or stop")
	ErrNotRunning     = errors.New("supervisor not running")
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// Supervisor owns at most one connection handle for the selected network,
// probes streaming handles on a fixed period, and replaces handles that have
// been closed for longer than the reconnect threshold.
//
// All state transitions run on the goroutine inside Run. Public methods post
// closures to that goroutine; Current, Watch, and Status read published
// snapshots and never block on it.
type Supervisor struct {
	cfg      Config
	factory  connection.Factory
	focus    FocusSource
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder Recorder
	journal  Journal
	known    map[model.NetworkID]struct{}

	ops     chan func()
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine
	runCtx       context.Context
	network      model.NetworkID
	handle       connection.Handle
	installedAt  time.Time
	healthTimer  clockwork.Timer
	retryTimer   clockwork.Timer
	retryWait    time.Duration
	generation   uint64
	genCtx       context.Context
	genCancel    context.CancelFunc
	creating     bool
	closing      []<-chan struct{}
	lostFocus    bool
	replacements uint64
	checks       uint64

	// Published for readers on other goroutines
	current  atomic.Pointer[handleRef]
	status   atomic.Pointer[Status]
	watchMu  sync.Mutex
	watchers map[int]chan connection.Handle
	nextWID  int
}

type handleRef struct {
	h connection.Handle
}

// New creates a supervisor. Call Run to start its event loop.
func New(cfg Config, factory connection.Factory, focusSrc FocusSource, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		factory:  factory,
		focus:    focusSrc,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		recorder: nopRecorder{},
		journal:  nopJournal{},
		known:    make(map[model.NetworkID]struct{}, len(cfg.Networks)),
		ops:      make(chan func()),
		done:     make(chan struct{}),
		watchers: make(map[int]chan connection.Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "supervisor")
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.journal == nil {
		s.journal = nopJournal{}
	}
	for _, id := range cfg.Networks {
		s.known[id] = struct{}{}
	}

	s.current.Store(&handleRef{})
	s.status.Store(&Status{})
	return s
}

// Run executes the event loop until ctx is done, then stops the active
// handle. It returns nil on shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	signals, unsubscribe := s.focus.Subscribe()
	defer unsubscribe()

	s.runCtx = ctx
	s.genCtx, s.genCancel = context.WithCancel(ctx)
	s.lostFocus = s.focus.LostFocus()
	s.publishStatus()

	s.logger.Info("supervisor started", "lost_focus", s.lostFocus)

	for {
		select {
		case <-ctx.Done():
			s.stop(true)
			s.genCancel()
			s.publishStatus()
			s.logger.Info("supervisor stopped")
			return nil
		case op := <-s.ops:
			op()
		case sig := <-signals:
			s.onFocus(sig)
		}
		s.publishStatus()
	}
}

// Start selects network and, when focused, creates a handle for it. Any
// previous handle is torn down first. Start blocks until the creation
// resolves; it returns ErrSuperseded when a later Start or Stop wins.
// While focus is lost the network is recorded and the handle is created
// when focus returns.
func (s *Supervisor) Start(ctx context.Context, network model.NetworkID) error {
	if network == "" {
		return &connection.ConfigurationError{Reason: "network id is empty"}
	}
	if len(s.known) > 0 {
		if _, ok := s.known[network]; !ok {
			return &connection.ConfigurationError{Network: network, Reason: "unknown network"}
		}
	}

	reply := make(chan error, 1)
	if err := s.post(ctx, func() { s.start(network, reply) }); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrNotRunning
	}
}

// Stop tears down the handle, cancels all timers and in-flight creation,
// and forgets the selected network. Stopping an idle supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	reply := make(chan struct{})
	if err := s.post(ctx, func() {
		s.stop(true)
		close(reply)
	}); err != nil {
		return err
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// Current returns the installed handle, or nil when not connected.
func (s *Supervisor) Current() connection.Handle {
	return s.current.Load().h
}

// Watch returns a channel that always holds the most recent handle (nil
// included) and a function that cancels the watch.
func (s *Supervisor) Watch() (<-chan connection.Handle, func()) {
	ch := make(chan connection.Handle, 1)

	s.watchMu.Lock()
	id := s.nextWID
	s.nextWID++
	s.watchers[id] = ch
	ch <- s.Current()
	s.watchMu.Unlock()

	return ch, func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers, id)
	}
}

// post runs fn on the event loop.
func (s *Supervisor) post(ctx context.Context, fn func()) error {
	select {
	case s.ops <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrNotRunning
	}
}

// -----------------------------------------------------------------------------
// Event loop handlers
// -----------------------------------------------------------------------------

func (s *Supervisor) start(network model.NetworkID, reply chan<- error) {
	s.stop(true)
	s.network = network

	if s.lostFocus {
		s.logger.Info("network selected while unfocused", "network", network)
		reply <- nil
		return
	}
	s.create(reply)
}

// stop cancels timers and in-flight creation and closes the handle.
func (s *Supervisor) stop(forget bool) {
	stopTimer(&s.healthTimer)
	stopTimer(&s.retryTimer)
	s.retryWait = 0
	s.bumpGeneration()
	s.creating = false

	if h := s.handle; h != nil {
		s.handle = nil
		s.installedAt = time.Time{}
		s.publish(nil)
		s.discard(h, "stopped")
	}

	if forget {
		s.network = ""
	}
}

func (s *Supervisor) bumpGeneration() {
	s.generation++
	if s.genCancel != nil {
		s.genCancel()
	}
	s.genCtx, s.genCancel = context.WithCancel(s.runCtx)
}

func (s *Supervisor) onFocus(sig focus.Signal) {
	if sig.LostFocus == s.lostFocus {
		return
	}
	s.lostFocus = sig.LostFocus

	if sig.LostFocus {
		s.logger.Info("focus lost, stopping", "network", s.network)
		s.stop(false)
		return
	}

	if s.network == "" {
		return
	}
	s.logger.Info("focus regained, restarting", "network", s.network)
	s.stop(false)
	s.create(nil)
}

// create requests a handle on a helper goroutine. reply is nil for
// internally triggered creations, which retry with backoff on failure.
func (s *Supervisor) create(reply chan<- error) {
	gen := s.generation
	network := s.network
	ctx := s.genCtx
	closing := s.pendingCloses()
	s.creating = true

	go func() {
		// Never let two handles coexist: finish closing the old ones first
		for _, done := range closing {
			select {
			case <-done:
			case <-ctx.Done():
				s.post(context.Background(), func() { s.created(gen, network, nil, ctx.Err(), reply) })
				return
			}
		}

		h, err := s.factory.Create(ctx, network)
		if perr := s.post(context.Background(), func() { s.created(gen, network, h, err, reply) }); perr != nil && h != nil {
			// Loop is gone; nobody will install this handle
			s.closeAsync(h)
		}
	}()
}

func (s *Supervisor) created(gen uint64, network model.NetworkID, h connection.Handle, err error, reply chan<- error) {
	if gen != s.generation {
		if h != nil {
			s.logger.Debug("discarding superseded handle", "network", network, "handle_id", h.ID())
			s.discard(h, "superseded")
		}
		if reply != nil {
			reply <- ErrSuperseded
		}
		return
	}
	s.creating = false

	if err != nil {
		s.logger.Warn("handle creation failed", "network", network, "error", err, "at", s.clock.Now())
		s.record(network, uuid.Nil, model.LifecycleCreateFailed, err.Error())

		var cfgErr *connection.ConfigurationError
		if reply != nil {
			reply <- err
			return
		}
		if !errors.As(err, &cfgErr) {
			s.scheduleRetry()
		}
		return
	}

	if h == nil {
		s.logger.Info("no connection available", "network", network)
		if reply != nil {
			reply <- nil
		}
		return
	}

	s.install(h)
	if reply != nil {
		reply <- nil
	}
}

func (s *Supervisor) install(h connection.Handle) {
	s.handle = h
	s.installedAt = s.clock.Now()
	s.retryWait = 0
	stopTimer(&s.retryTimer)
	s.publish(h)

	s.logger.Info("handle created",
		"network", h.Network(),
		"handle_id", h.ID(),
		"kind", h.Kind(),
		"at", s.installedAt,
	)
	s.record(h.Network(), h.ID(), model.LifecycleCreated, h.Kind())

	if _, ok := h.(*connection.Streaming); ok {
		s.scheduleHealthCheck(h)
	}
}

func (s *Supervisor) scheduleHealthCheck(h connection.Handle) {
	gen := s.generation
	s.healthTimer = s.clock.AfterFunc(s.cfg.HealthCheckInterval, func() {
		s.post(context.Background(), func() { s.healthCheck(gen, h) })
	})
}

func (s *Supervisor) healthCheck(gen uint64, h connection.Handle) {
	// A timer that fired before teardown cancelled it
	if gen != s.generation || s.handle != h {
		return
	}
	s.healthTimer = nil
	s.checks++

	st, ok := h.(*connection.Streaming)
	if !ok {
		return
	}
	state := st.State()
	subs := st.SubscriptionCount()
	age := s.clock.Since(s.installedAt)

	s.logger.Debug("health check",
		"network", h.Network(),
		"handle_id", h.ID(),
		"ready_state", state,
		"subscriptions", subs,
		"age", age,
	)
	s.recorder.HealthCheck(h.Network(), state, subs)

	if (state == connection.StateClosed || state == connection.StateClosing) && age > s.cfg.ReconnectThreshold {
		s.replace(h, state, age)
		return
	}
	s.scheduleHealthCheck(h)
}

func (s *Supervisor) replace(h connection.Handle, state connection.State, age time.Duration) {
	s.logger.Warn("health check failed, replacing handle",
		"network", h.Network(),
		"handle_id", h.ID(),
		"ready_state", state,
		"age", age,
	)
	s.record(h.Network(), h.ID(), model.LifecycleHealthCheckFailed, state.String())

	s.handle = nil
	s.installedAt = time.Time{}
	s.publish(nil)
	s.discard(h, "replaced")

	s.replacements++
	s.record(h.Network(), h.ID(), model.LifecycleReplaced, "")
	s.create(nil)
}

func (s *Supervisor) scheduleRetry() {
	if s.retryWait == 0 {
		s.retryWait = s.cfg.RetryBaseWait
	} else {
		// Exponential backoff
		s.retryWait *= 2
	}
	if s.retryWait > s.cfg.RetryMaxWait {
		s.retryWait = s.cfg.RetryMaxWait
	}
	if s.retryWait <= 0 {
		return
	}

	gen := s.generation
	wait := s.retryWait
	s.logger.Info("retrying handle creation", "network", s.network, "wait", wait)

	s.retryTimer = s.clock.AfterFunc(wait, func() {
		s.post(context.Background(), func() { s.retry(gen) })
	})
}

func (s *Supervisor) retry(gen uint64) {
	if gen != s.generation || s.handle != nil || s.creating || s.lostFocus || s.network == "" {
		return
	}
	s.retryTimer = nil
	s.create(nil)
}

// discard closes h fire-and-forget. Close failures are logged, never returned.
func (s *Supervisor) discard(h connection.Handle, reason string) {
	s.logger.Info("handle closed",
		"network", h.Network(),
		"handle_id", h.ID(),
		"reason", reason,
		"at", s.clock.Now(),
	)
	s.record(h.Network(), h.ID(), model.LifecycleClosed, reason)
	s.closing = append(s.closing, s.closeAsync(h))
}

// pendingCloses drops finished closes and returns the rest.
func (s *Supervisor) pendingCloses() []<-chan struct{} {
	live := s.closing[:0]
	for _, done := range s.closing {
		select {
		case <-done:
		default:
			live = append(live, done)
		}
	}
	s.closing = live
	return append([]<-chan struct{}(nil), live...)
}

func (s *Supervisor) closeAsync(h connection.Handle) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.factory.Close(h); err != nil {
			s.logger.Warn("close handle failed",
				"network", h.Network(),
				"handle_id", h.ID(),
				"error", err,
			)
			s.record(h.Network(), h.ID(), model.LifecycleCloseFailed, err.Error())
		}
	}()
	return done
}

// record is safe to call from any goroutine.
func (s *Supervisor) record(network model.NetworkID, handleID uuid.UUID, kind model.LifecycleKind, detail string) {
	s.recorder.Lifecycle(network, kind)
	s.journal.Record(model.NewLifecycleEvent(network, handleID, kind, s.clock.Now(), detail))
}

// publish makes h visible to Current and Watch.
func (s *Supervisor) publish(h connection.Handle) {
	s.current.Store(&handleRef{h: h})

	kind := ""
	network := s.network
	if h != nil {
		kind = h.Kind()
		network = h.Network()
	}
	s.recorder.HandleChanged(network, kind)

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		// Keep only the latest handle for slow watchers
		select {
		case <-ch:
		default:
		}
		ch <- h
	}
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
