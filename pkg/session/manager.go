package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/txn2/session-gateway/pkg/clock"
	"github.com/txn2/session-gateway/pkg/credential"
	"github.com/txn2/session-gateway/pkg/events"
	"github.com/txn2/session-gateway/pkg/metrics"
	"github.com/txn2/session-gateway/pkg/protocol"
)

const (
	// DefaultMaxSessions is the Active session cap when none is configured.
	DefaultMaxSessions = 3

	defaultStoreTimeout = 10 * time.Second
)

// Eviction causes reported in events and metrics.
const (
	CauseCapacity = "capacity"
	CauseIdle     = "idle"
	CauseTerminal = "terminal"
	CauseLogout   = "logout"
	CauseShutdown = "shutdown"
)

// Config configures a Manager.
type Config struct {
	// MaxSessions caps the number of Active sessions.
	MaxSessions int

	// IdleTimeout soft-evicts an Active session that has not been touched
	// for this long. Zero disables the reaper.
	IdleTimeout time.Duration

	// Reconnect configures the reconnect policy.
	Reconnect PolicyConfig

	// StoreTimeout bounds each credential store operation.
	StoreTimeout time.Duration
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithClock sets the clock used for timestamps, idle timers and backoff.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithSink sets the lifecycle event sink.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns every tenant session. It is the only writer of the registry
// and the LRU; all state changes happen under mu. Work that may block
// (closing connections, store writes, sink delivery) is queued while the
// lock is held and run by unlock after it is released.
type Manager struct {
	client       protocol.Client
	store        credential.Store
	sink         events.Sink
	clock        clock.Clock
	metrics      *metrics.Metrics
	policy       *Policy
	maxSessions  int
	idleTimeout  time.Duration
	storeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// storeMu orders credential writes against deletes.
	storeMu sync.Mutex

	mu       sync.Mutex
	registry *Registry
	lru      *LRU
	closed   bool
	wipes    map[string]*wipe
	deferred []func()
	notices  []events.Event
}

// New creates a Manager.
func New(client protocol.Client, store credential.Store, cfg Config, opts ...Option) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		client:       client,
		store:        store,
		sink:         events.Discard{},
		clock:        clock.New(),
		maxSessions:  cfg.MaxSessions,
		idleTimeout:  cfg.IdleTimeout,
		storeTimeout: cfg.StoreTimeout,
		ctx:          ctx,
		cancel:       cancel,
		registry:     NewRegistry(),
		lru:          NewLRU(),
		wipes:        make(map[string]*wipe),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.policy = NewPolicy(cfg.Reconnect, m.clock)
	return m
}

// unlock releases mu and then runs the work queued while it was held.
func (m *Manager) unlock() {
	m.metrics.SetSessions(m.registry.Len(), m.lru.Len())
	work, notices := m.deferred, m.notices
	m.deferred, m.notices = nil, nil
	m.mu.Unlock()

	for _, f := range work {
		f()
	}
	for _, ev := range notices {
		m.sink.Notify(ev)
	}
}

// AcquireOrCreate returns a handle to tenantID's Active session, or starts
// a connection attempt and waits for it to resolve. Concurrent callers for
// the same tenant share one attempt. A tenant awaiting pairing reports its
// current challenge without opening another connection.
func (m *Manager) AcquireOrCreate(ctx context.Context, tenantID string) (Result, error) {
	m.mu.Lock()
	if m.closed {
		m.unlock()
		return Result{}, ErrClosed
	}

	var a *attempt
	s := m.registry.Get(tenantID)
	switch {
	case s == nil:
		var err error
		if s, err = m.registry.Create(tenantID, m.clock.Now()); err != nil {
			m.unlock()
			return Result{}, fmt.Errorf("creating session: %w", err)
		}
		a = m.startAttempt(s, StateNotTracked)
	case s.State == StateActive:
		m.touch(s)
		res := Result{Outcome: OutcomeConnected, Handle: m.handle(s)}
		m.unlock()
		return res, nil
	case s.State == StateAwaitingPairing:
		res := Result{Outcome: OutcomePairingRequired, Challenge: s.challenge}
		m.unlock()
		return res, nil
	case s.attempt != nil:
		a = s.attempt
	default:
		a = m.startAttempt(s, s.State)
	}
	m.unlock()

	select {
	case <-a.done:
		return a.res, a.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("waiting for connection: %w", ctx.Err())
	}
}

// Touch marks tenantID as just used. It is a no-op unless the session is
// Active.
func (m *Manager) Touch(tenantID string) {
	m.mu.Lock()
	defer m.unlock()

	if s := m.registry.Get(tenantID); s != nil {
		m.touch(s)
	}
}

// EnforceCapacity soft-evicts least recently used sessions until no more
// than MaxSessions are Active.
func (m *Manager) EnforceCapacity() {
	m.mu.Lock()
	defer m.unlock()
	m.enforceCapacity()
}

// Remove logs tenantID out: its connection is closed, it is dropped from the
// registry, and its stored credentials are deleted. Removing an untracked
// tenant still deletes any stored credentials.
func (m *Manager) Remove(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	var w *wipe
	if s := m.registry.Get(tenantID); s != nil {
		w = m.terminate(ctx, s, protocol.ReasonLoggedOut, CauseLogout)
	} else {
		w = m.beginWipe(ctx, tenantID)
	}
	m.unlock()

	<-w.done
	return w.err
}

// Status reports tenantID's session state.
func (m *Manager) Status(tenantID string) Status {
	m.mu.Lock()
	defer m.unlock()

	if s := m.registry.Get(tenantID); s != nil {
		return s.status()
	}
	return Status{TenantID: tenantID, State: StateNotTracked}
}

// Sessions reports every tracked session ordered by tenant ID.
func (m *Manager) Sessions() []Status {
	m.mu.Lock()
	defer m.unlock()

	list := m.registry.List()
	out := make([]Status, 0, len(list))
	for _, s := range list {
		out = append(out, s.status())
	}
	return out
}

// ActiveOrder returns the Active tenants from least to most recently used.
func (m *Manager) ActiveOrder() []string {
	m.mu.Lock()
	defer m.unlock()
	return m.lru.Keys()
}

// Close shuts the manager down. Live connections are closed, buffered
// credentials of established sessions are persisted, and every session ends
// Closed with its stored credentials intact.
func (m *Manager) Close(ctx context.Context) error {
	type closing struct {
		s       *Session
		conn    protocol.Conn
		persist bool
	}

	m.mu.Lock()
	if m.closed {
		m.unlock()
		return nil
	}
	m.closed = true

	var pending []closing
	for _, s := range m.registry.List() {
		c := closing{s: s, persist: s.credsDirty && s.State != StateConnecting && s.State != StateAwaitingPairing}
		if s.State != StateClosed {
			c.conn = m.teardown(s)
			m.transition(s, StateClosing, CauseShutdown, false)
			m.resolve(s, Result{}, ErrClosed)
		}
		pending = append(pending, c)
	}
	m.unlock()
	m.cancel()

	var g errgroup.Group
	for _, c := range pending {
		g.Go(func() error {
			var errs []error
			if c.conn != nil {
				if err := c.conn.Close(); err != nil {
					errs = append(errs, fmt.Errorf("closing connection for %s: %w", c.s.TenantID, err))
				}
			}
			if c.persist {
				if err := m.persist(ctx, c.s); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		})
	}
	err := g.Wait()

	m.mu.Lock()
	for _, c := range pending {
		if c.s.State == StateClosing {
			m.transition(c.s, StateClosed, CauseShutdown, false)
		}
	}
	m.unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}
}

// current reports whether s is still the registered session for its tenant
// and gen is still its connection generation.
func (m *Manager) current(s *Session, gen uint64) bool {
	return m.registry.Get(s.TenantID) == s && s.gen == gen
}

func (m *Manager) handle(s *Session) *Handle {
	return &Handle{m: m, s: s, gen: s.gen}
}

func (m *Manager) startAttempt(s *Session, prior State) *attempt {
	a := newAttempt(prior)
	s.attempt = a
	s.ReconnectAttempts = 0
	s.delays = m.policy.NewBackOff()
	s.challenge = ""
	m.transition(s, StateConnecting, "", false)
	m.dial(s)
	return a
}

// dial opens a connection for s in the background.
func (m *Manager) dial(s *Session) {
	if m.closed {
		return
	}
	gen := s.gen
	m.wg.Add(1)
	go m.connect(s, gen)
}

func (m *Manager) connect(s *Session, gen uint64) {
	defer m.wg.Done()

	m.mu.Lock()
	if !m.current(s, gen) {
		m.unlock()
		return
	}
	seed := s.creds
	w := m.wipes[s.TenantID]
	m.unlock()

	if seed == nil {
		if !w.wait(m.ctx) {
			return
		}
		seed = m.loadCredentials(s.TenantID)
	}

	m.metrics.ConnectAttempt()
	conn, err := m.client.Open(m.ctx, s.TenantID, seed)

	m.mu.Lock()
	if !m.current(s, gen) {
		m.unlock()
		if conn != nil {
			closeConn(s.TenantID, conn)
		}
		return
	}
	if err != nil {
		m.disconnected(s, protocol.ReasonUnknown, fmt.Errorf("opening connection: %w", err))
		m.unlock()
		return
	}
	if s.creds == nil {
		s.creds = seed
	}
	s.conn = conn
	m.wg.Add(1)
	go m.pump(s, gen, conn)
	m.unlock()
}

// pump feeds one connection's events to the session until the connection
// ends or the session moves on to another connection.
func (m *Manager) pump(s *Session, gen uint64, conn protocol.Conn) {
	defer m.wg.Done()

	for ev := range conn.Events() {
		if !m.handleEvent(s, gen, ev) {
			return
		}
	}
	m.handleEvent(s, gen, protocol.Closed{Reason: protocol.ReasonConnectionClosed})
}

func (m *Manager) handleEvent(s *Session, gen uint64, ev protocol.Event) bool {
	m.mu.Lock()
	defer m.unlock()

	if !m.current(s, gen) {
		return false
	}
	slog.Debug("session: event", "tenant_id", s.TenantID, "state", s.State, "event", protocol.Describe(ev))

	switch e := ev.(type) {
	case protocol.PairingChallenge:
		m.challenged(s, e.Code)
	case protocol.CredentialsUpdated:
		m.credentialsChanged(s, e.Blob)
	case protocol.Opened:
		m.opened(s)
	case protocol.Closed:
		m.disconnected(s, e.Reason, e.Err)
	case protocol.Error:
		m.disconnected(s, protocol.ReasonUnknown, e.Err)
	}
	return m.current(s, gen)
}

func (m *Manager) challenged(s *Session, code string) {
	switch s.State {
	case StateConnecting, StateReconnecting:
		s.challenge = code
		m.transition(s, StateAwaitingPairing, "pairing_required", false)
		m.resolve(s, Result{Outcome: OutcomePairingRequired, Challenge: code}, nil)
	case StateAwaitingPairing:
		s.challenge = code
		m.notify(s, "challenge_rotated", false)
	default:
		slog.Warn("session: unexpected pairing challenge", "tenant_id", s.TenantID, "state", s.State)
	}
}

// credentialsChanged records the latest credentials. They are written to the
// store while the session is Active or Reconnecting and buffered otherwise.
func (m *Manager) credentialsChanged(s *Session, blob credential.Blob) {
	s.creds = blob
	s.credsDirty = true
	s.credsVersion++
	if s.State == StateActive || s.State == StateReconnecting {
		m.flushCredentials(s)
	}
}

func (m *Manager) opened(s *Session) {
	switch s.State {
	case StateConnecting, StateAwaitingPairing, StateReconnecting:
	default:
		return
	}

	s.ReconnectAttempts = 0
	s.delays.Reset()
	s.challenge = ""
	m.transition(s, StateActive, "", false)
	m.flushCredentials(s)
	m.touch(s)
	m.resolve(s, Result{Outcome: OutcomeConnected, Handle: m.handle(s)}, nil)
	m.enforceCapacity()
}

func (m *Manager) disconnected(s *Session, reason protocol.DisconnectReason, cause error) {
	switch s.State {
	case StateConnecting, StateAwaitingPairing, StateActive, StateReconnecting:
	default:
		return
	}

	d := m.policy.Decide(reason, s.ReconnectAttempts, s.delays)
	if !d.Recognized {
		slog.Warn("session: unrecognized disconnect reason", "tenant_id", s.TenantID, "reason", reason)
	}
	// A first connection that is lost before it resolves is reported to the
	// caller rather than retried.
	if s.State == StateConnecting && d.Action == ActionReconnect && d.Class == ClassLost {
		d.Action = ActionGiveUp
	}
	// The service requests a restart once a pairing completes. That restart
	// finishes the pairing and does not count against the reconnect bound.
	counted := true
	if s.State == StateAwaitingPairing && reason == protocol.ReasonRestartRequired && s.creds != nil {
		d.Action, d.Delay = ActionReconnect, 0
		counted = false
	}

	slog.Info("session: disconnected",
		"tenant_id", s.TenantID, "state", s.State, "reason", reason,
		"class", d.Class, "action", d.Action, "attempts", s.ReconnectAttempts,
		slogKeyError, cause)

	switch d.Action {
	case ActionTerminate:
		m.terminate(context.Background(), s, reason, CauseTerminal)
	case ActionGiveUp:
		m.fail(s, reason, cause)
	case ActionReconnect:
		m.metrics.Reconnect(d.Class.String())
		m.reconnect(s, reason, d.Delay, counted)
	}
}

func (m *Manager) reconnect(s *Session, reason protocol.DisconnectReason, delay time.Duration, counted bool) {
	m.closeLater(s.TenantID, m.teardown(s))
	if s.attempt == nil {
		s.attempt = newAttempt(StateClosed)
	}
	if counted {
		s.ReconnectAttempts++
	}
	s.challenge = ""
	m.transition(s, StateReconnecting, string(reason), false)
	m.flushCredentials(s)

	if delay <= 0 {
		m.dial(s)
		return
	}
	gen := s.gen
	s.retry = m.clock.AfterFunc(delay, func() { m.retryDue(s, gen) })
}

func (m *Manager) retryDue(s *Session, gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if !m.current(s, gen) || s.State != StateReconnecting {
		return
	}
	s.retry = nil
	m.dial(s)
}

// fail ends an attempt or reconnect cycle. A tenant that was not tracked
// before the attempt is dropped again; otherwise the session is left Closed
// with its credentials kept.
func (m *Manager) fail(s *Session, reason protocol.DisconnectReason, cause error) {
	prior := StateClosed
	if s.attempt != nil {
		prior = s.attempt.prior
	}

	m.closeLater(s.TenantID, m.teardown(s))
	s.challenge = ""
	if prior == StateNotTracked {
		m.registry.Remove(s.TenantID)
	}
	m.transition(s, StateClosed, string(reason), false)
	if prior != StateNotTracked {
		m.flushCredentials(s)
	}
	m.resolve(s, Result{}, &ConnectError{TenantID: s.TenantID, Reason: reason, Err: cause})
}

// terminate drops s from the registry, forgets its credentials and deletes
// the stored record. The delete is queued ahead of the connection close.
func (m *Manager) terminate(ctx context.Context, s *Session, reason protocol.DisconnectReason, cause string) *wipe {
	w := m.beginWipe(ctx, s.TenantID)
	m.closeLater(s.TenantID, m.teardown(s))
	m.registry.Remove(s.TenantID)
	s.creds, s.credsDirty = nil, false
	s.challenge = ""
	m.transition(s, StateClosed, string(reason), true)
	m.metrics.Eviction(cause)
	m.resolve(s, Result{}, &ConnectError{TenantID: s.TenantID, Reason: reason})
	return w
}

// wipe is a pending delete of a tenant's stored credentials. Until done is
// closed, connects for the tenant do not load credentials and saves do not
// write them.
type wipe struct {
	done chan struct{}
	err  error
}

// wait blocks until the delete finishes. It reports false if ctx ends first.
// A nil wipe returns immediately.
func (w *wipe) wait(ctx context.Context) bool {
	if w == nil {
		return true
	}
	select {
	case <-w.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// beginWipe queues deletion of tenantID's stored credentials and records it
// as pending until the store call returns.
func (m *Manager) beginWipe(ctx context.Context, tenantID string) *wipe {
	w := &wipe{done: make(chan struct{})}
	m.wipes[tenantID] = w
	m.deferred = append(m.deferred, func() {
		w.err = m.deleteCredentials(ctx, tenantID)

		m.mu.Lock()
		if m.wipes[tenantID] == w {
			delete(m.wipes, tenantID)
		}
		m.unlock()
		close(w.done)
	})
	return w
}

// softEvict closes an Active session's connection and leaves it Closed with
// its credentials kept.
func (m *Manager) softEvict(s *Session, cause string) {
	m.closeLater(s.TenantID, m.teardown(s))
	m.transition(s, StateClosed, cause, false)
	m.metrics.Eviction(cause)
	m.flushCredentials(s)
}

func (m *Manager) enforceCapacity() {
	for m.lru.Len() > m.maxSessions {
		tenantID, _ := m.lru.Oldest()
		s := m.registry.Get(tenantID)
		if s == nil || s.State != StateActive {
			m.lru.Remove(tenantID)
			continue
		}
		slog.Info("session: capacity reached, evicting least recently used",
			"tenant_id", tenantID, "max_sessions", m.maxSessions)
		m.softEvict(s, CauseCapacity)
	}
}

func (m *Manager) touch(s *Session) {
	if s.State != StateActive {
		return
	}
	s.LastActiveAt = m.clock.Now()
	m.lru.Touch(s.TenantID)
	m.armIdle(s)
}

// armIdle replaces the idle timer. A timer that fires after being replaced
// sees a newer idleSeq and does nothing.
func (m *Manager) armIdle(s *Session) {
	if m.idleTimeout <= 0 {
		return
	}
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idleSeq++
	gen, seq := s.gen, s.idleSeq
	s.idle = m.clock.AfterFunc(m.idleTimeout, func() { m.idleExpired(s, gen, seq) })
}

func (m *Manager) idleExpired(s *Session, gen, seq uint64) {
	m.mu.Lock()
	defer m.unlock()

	if !m.current(s, gen) || s.idleSeq != seq || s.State != StateActive {
		return
	}
	s.idle = nil
	slog.Info("session: idle timeout", "tenant_id", s.TenantID, "idle_timeout", m.idleTimeout)
	m.softEvict(s, CauseIdle)
}

// teardown detaches s from its connection, timers and the LRU, and bumps
// its generation so that late events and timers are ignored. The detached
// connection is returned for the caller to close.
func (m *Manager) teardown(s *Session) protocol.Conn {
	s.gen++
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	m.lru.Remove(s.TenantID)

	conn := s.conn
	s.conn = nil
	return conn
}

func (m *Manager) closeLater(tenantID string, conn protocol.Conn) {
	if conn == nil {
		return
	}
	m.deferred = append(m.deferred, func() { closeConn(tenantID, conn) })
}

func closeConn(tenantID string, conn protocol.Conn) {
	if err := conn.Close(); err != nil {
		slog.Warn("session: closing connection", "tenant_id", tenantID, slogKeyError, err)
	}
}

func (m *Manager) resolve(s *Session, res Result, err error) {
	if s.attempt == nil {
		return
	}
	s.attempt.resolve(res, err)
	s.attempt = nil
}

func (m *Manager) transition(s *Session, state State, reason string, terminal bool) {
	s.State = state
	m.metrics.Transition(state.String())
	slog.Info("session: state changed", "tenant_id", s.TenantID, "state", state, "reason", reason)
	m.notify(s, reason, terminal)
}

func (m *Manager) notify(s *Session, reason string, terminal bool) {
	ev := events.New(s.TenantID, s.State.String(), reason, m.clock.Now())
	ev.Terminal = terminal
	if s.State == StateAwaitingPairing {
		ev.Challenge = s.challenge
	}
	m.notices = append(m.notices, ev)
}

// flushCredentials queues a write of s's credentials if they changed since
// the last successful write.
func (m *Manager) flushCredentials(s *Session) {
	if !s.credsDirty || s.creds == nil {
		return
	}
	blob, version := s.creds, s.credsVersion
	m.deferred = append(m.deferred, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		defer cancel()
		_ = m.saveCredentials(ctx, s, blob, version)
	})
}

// persist writes s's current credentials if they are dirty.
func (m *Manager) persist(ctx context.Context, s *Session) error {
	m.mu.Lock()
	blob, version, dirty := s.creds, s.credsVersion, s.credsDirty
	m.unlock()

	if !dirty || blob == nil {
		return nil
	}
	return m.saveCredentials(ctx, s, blob, version)
}

// saveCredentials writes one credential version. Writes that have been
// superseded, or that belong to a session no longer tracked, are skipped.
// A failed write leaves the credentials dirty so the next change retries it.
func (m *Manager) saveCredentials(ctx context.Context, s *Session, blob credential.Blob, version uint64) error {
	m.mu.Lock()
	stale := m.registry.Get(s.TenantID) != s
	w := m.wipes[s.TenantID]
	m.unlock()
	if stale {
		return nil
	}
	if !w.wait(ctx) {
		return fmt.Errorf("saving credentials for %s: %w", s.TenantID, ctx.Err())
	}

	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	skip := m.registry.Get(s.TenantID) != s || s.credsVersion != version || !s.credsDirty
	m.unlock()
	if skip {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	err := m.store.Save(ctx, s.TenantID, blob)

	m.mu.Lock()
	defer m.unlock()
	if err != nil {
		m.metrics.CredentialFailure("save")
		slog.Warn("session: saving credentials", "tenant_id", s.TenantID, slogKeyError, err)
		return fmt.Errorf("saving credentials for %s: %w", s.TenantID, err)
	}
	if s.credsVersion == version {
		s.credsDirty = false
	}
	return nil
}

func (m *Manager) deleteCredentials(ctx context.Context, tenantID string) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, tenantID); err != nil {
		m.metrics.CredentialFailure("delete")
		slog.Warn("session: deleting credentials", "tenant_id", tenantID, slogKeyError, err)
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// loadCredentials returns the stored credentials for tenantID. A store
// failure is treated as no credentials.
func (m *Manager) loadCredentials(tenantID string) credential.Blob {
	ctx, cancel := context.WithTimeout(m.ctx, m.storeTimeout)
	defer cancel()

	rec, err := m.store.Load(ctx, tenantID)
	if err != nil {
		m.metrics.CredentialFailure("load")
		slog.Warn("session: loading credentials", "tenant_id", tenantID, slogKeyError, err)
		return nil
	}
	if rec == nil {
		return nil
	}
	return rec.Blob
}

// Handle is a caller's reference to an Active session. It becomes invalid
// once the session leaves Active or reconnects.
type Handle struct {
	m   *Manager
	s   *Session
	gen uint64
}

// TenantID returns the session's tenant.
func (h *Handle) TenantID() string {
	return h.s.TenantID
}

// Send delivers msg over the session's connection and touches the session.
func (h *Handle) Send(ctx context.Context, msg protocol.Message) error {
	m := h.m

	m.mu.Lock()
	if !m.current(h.s, h.gen) || h.s.State != StateActive || h.s.conn == nil {
		m.unlock()
		return ErrNotConnected
	}
	conn := h.s.conn
	m.unlock()

	if err := conn.Send(ctx, msg); err != nil {
		m.metrics.MessageSent(false)
		return fmt.Errorf("sending message: %w", err)
	}
	m.metrics.MessageSent(true)

	m.mu.Lock()
	if m.current(h.s, h.gen) {
		m.touch(h.s)
	}
	m.unlock()
	return nil
}
