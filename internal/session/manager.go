// Package session owns the lifecycle of the signed-in identity.
//
// A Manager reconciles three racing sources into one state: the bootstrap
// fetch of the persisted session, the identity provider's event stream and
// a watchdog timer. All of them are funnelled into a single event loop that
// is the only writer of the state; readers see immutable snapshots.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/metrics"
	"github.com/dtroode/kurasi/internal/model"
)

// DefaultWatchdog is how long Start waits before leaving Bootstrapping
// without an answer.
const DefaultWatchdog = 5 * time.Second

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("session manager is closed")

// State is the visible lifecycle state.
type State int

const (
	StateBootstrapping State = iota
	StateAnonymous
	StateAuthenticated
	StateProfileEnriched
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateProfileEnriched:
		return "profile_enriched"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the manager state.
type Snapshot struct {
	State   State
	Session *model.Session
}

// Authenticated reports whether an identity is known.
func (s Snapshot) Authenticated() bool {
	return s.Session != nil
}

// Role returns the session role, degrading to member without a profile.
// Anonymous snapshots return an empty role.
func (s Snapshot) Role() model.Role {
	if s.Session == nil {
		return ""
	}
	return s.Session.Role()
}

type fetchResult struct {
	gen     uint64
	session *model.Session
	err     error
}

type authEvent struct {
	event model.AuthEvent
}

type profileResult struct {
	userID  uuid.UUID
	gen     uint64
	profile model.Profile
	err     error
	ack     chan struct{}
}

// profileTicket authorizes one profile lookup. Results carrying an older
// gen than the loop's current profile gen are discarded.
type profileTicket struct {
	userID uuid.UUID
	gen    uint64
	ok     bool
}

type refreshRequest struct {
	reply chan profileTicket
}

type watchdogFired struct{}

// Manager is the single owner of the session state.
type Manager struct {
	provider model.IdentityProvider
	profiles model.ProfileStore
	watchdog time.Duration
	logger   *logger.Logger
	metrics  metrics.Recorder

	inbox    chan any
	done     chan struct{}
	loopDone chan struct{}
	ready    chan struct{}

	snapshot  atomic.Pointer[Snapshot]
	readyOnce sync.Once
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	// set by Start, read by Close
	mu     sync.Mutex
	cancel context.CancelFunc
	sub    model.Subscription
	timer  *time.Timer

	watchMu  sync.Mutex
	watchers map[chan Snapshot]struct{}

	// owned by the loop goroutine
	ctx        context.Context
	gen        uint64
	profileGen uint64
	state      State
	current    *model.Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithWatchdog overrides DefaultWatchdog.
func WithWatchdog(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.watchdog = d
		}
	}
}

// WithMetrics reports state transitions and profile lookups to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewManager creates a Manager in Bootstrapping. Nothing runs until Start.
func NewManager(provider model.IdentityProvider, profiles model.ProfileStore, logger *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		profiles: profiles,
		watchdog: DefaultWatchdog,
		logger:   logger,
		metrics:  metrics.Nop{},
		inbox:    make(chan any, 16),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ready:    make(chan struct{}),
		watchers: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snapshot.Store(&Snapshot{State: StateBootstrapping})
	return m
}

// Start subscribes to identity events, fetches the persisted session and
// arms the watchdog. It does not wait for any of them. Calling Start more
// than once has no effect.
func (m *Manager) Start(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	m.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		m.ctx = loopCtx
		m.gen = 1
		m.started.Store(true)

		go m.run()

		sub := m.provider.Subscribe(m.onAuthEvent)
		timer := time.AfterFunc(m.watchdog, func() { m.send(watchdogFired{}) })

		m.mu.Lock()
		m.cancel = cancel
		m.sub = sub
		m.timer = timer
		m.mu.Unlock()

		// Close may have run between the checks above and here.
		select {
		case <-m.done:
			m.teardown()
			return
		default:
		}

		go m.fetch(loopCtx, 1)
	})

	return nil
}

func (m *Manager) fetch(ctx context.Context, gen uint64) {
	session, err := m.provider.GetCurrentSession(ctx)
	m.send(fetchResult{gen: gen, session: session, err: err})
}

func (m *Manager) onAuthEvent(event model.AuthEvent) {
	m.send(authEvent{event: event})
}

// send delivers msg to the loop unless the manager is closed.
func (m *Manager) send(msg any) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.inbox <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.loopDone)

	for {
		select {
		case <-m.done:
			return
		case msg := <-m.inbox:
			select {
			case <-m.done:
				if r, ok := msg.(profileResult); ok && r.ack != nil {
					close(r.ack)
				}
				return
			default:
			}
			m.handle(msg)
		}
	}
}

func (m *Manager) handle(msg any) {
	switch msg := msg.(type) {
	case fetchResult:
		m.handleFetch(msg)
	case authEvent:
		m.handleEvent(msg.event)
	case profileResult:
		m.handleProfile(msg)
		if msg.ack != nil {
			close(msg.ack)
		}
	case refreshRequest:
		msg.reply <- m.issueTicket()
	case watchdogFired:
		m.handleWatchdog()
	}
}

func (m *Manager) handleFetch(r fetchResult) {
	if r.gen != m.gen {
		m.logger.Debug("Session: discarding superseded bootstrap result",
			"result_gen", r.gen,
			"current_gen", m.gen)
		return
	}

	if r.err != nil {
		m.logger.Error("Session: failed to fetch current session",
			"error", r.err.Error())
		m.setIdentity(nil, false)
		return
	}

	m.setIdentity(r.session, true)
}

func (m *Manager) handleEvent(e model.AuthEvent) {
	m.gen++
	m.logger.Debug("Session: identity event",
		"kind", string(e.Kind),
		"gen", m.gen)

	if e.Kind == model.AuthEventSignedOut || e.Session == nil {
		m.setIdentity(nil, false)
		return
	}

	next := e.Session.Clone()
	prev := m.current
	if prev != nil && prev.ID == next.ID && prev.Profile != nil {
		merged := *prev.Profile
		if next.Profile != nil {
			merged = merged.Merge(*next.Profile)
		}
		next.Profile = &merged
	}

	lookup := e.Kind != model.AuthEventUserUpdated || next.Profile == nil
	m.setIdentity(&next, lookup)
}

func (m *Manager) handleProfile(r profileResult) {
	if m.current == nil || m.current.ID != r.userID {
		m.logger.Debug("Session: discarding profile for inactive identity",
			"user_id", r.userID)
		return
	}
	if r.gen != m.profileGen {
		m.logger.Debug("Session: discarding superseded profile result",
			"user_id", r.userID,
			"result_gen", r.gen,
			"current_gen", m.profileGen)
		return
	}

	if r.err != nil {
		m.metrics.RecordProfileLookup(false)
		if errors.Is(r.err, model.ErrNotFound) {
			m.logger.Info("Session: no profile for identity",
				"user_id", r.userID)
		} else {
			m.logger.Warn("Session: failed to load profile",
				"user_id", r.userID,
				"error", r.err.Error())
		}
		return
	}
	m.metrics.RecordProfileLookup(true)

	next := m.current.Clone()
	var merged model.Profile
	if next.Profile != nil {
		merged = *next.Profile
	}
	merged = merged.Merge(r.profile)
	merged.ID = next.ID
	next.Profile = &merged

	m.current = &next
	m.transition(StateProfileEnriched)
}

func (m *Manager) handleWatchdog() {
	if m.state != StateBootstrapping {
		return
	}
	m.logger.Warn("Session: bootstrap watchdog fired, continuing as anonymous",
		"after", m.watchdog.String())
	m.transition(StateAnonymous)
}

// setIdentity replaces the current identity and optionally starts a
// profile lookup for it.
func (m *Manager) setIdentity(session *model.Session, lookup bool) {
	if session == nil {
		m.current = nil
		m.transition(StateAnonymous)
		return
	}

	m.profileGen++

	s := session.Clone()
	m.current = &s
	if s.Profile != nil {
		m.transition(StateProfileEnriched)
	} else {
		m.transition(StateAuthenticated)
	}

	if lookup {
		go m.lookupProfile(m.ctx, s.ID, m.profileGen)
	}
}

func (m *Manager) lookupProfile(ctx context.Context, userID uuid.UUID, gen uint64) {
	profile, err := m.profiles.GetByID(ctx, userID)
	m.send(profileResult{userID: userID, gen: gen, profile: profile, err: err})
}

// issueTicket starts a new profile generation for the current identity.
func (m *Manager) issueTicket() profileTicket {
	if m.current == nil {
		return profileTicket{}
	}
	m.profileGen++
	return profileTicket{userID: m.current.ID, gen: m.profileGen, ok: true}
}

func (m *Manager) transition(state State) {
	prev := m.state
	m.state = state

	snap := &Snapshot{State: state}
	if m.current != nil {
		s := m.current.Clone()
		snap.Session = &s
	}
	m.snapshot.Store(snap)

	if state != StateBootstrapping {
		m.readyOnce.Do(func() { close(m.ready) })
	}
	if prev != state {
		m.metrics.RecordSessionState(state.String())
		m.logger.Info("Session: state changed",
			"from", prev.String(),
			"to", state.String())
	}

	m.publish(*snap)
}

func (m *Manager) publish(snap Snapshot) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

// Session returns a copy of the current session, or nil when anonymous.
func (m *Manager) Session() *model.Session {
	snap := m.snapshot.Load()
	if snap.Session == nil {
		return nil
	}
	s := snap.Session.Clone()
	return &s
}

// Ready is closed once the state has left Bootstrapping.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Watch returns a channel that receives the latest snapshot after every
// change, starting with the current one. A slow reader only sees the most
// recent snapshot. The channel is closed by cancel or Close.
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.watchMu.Lock()
	select {
	case <-m.done:
		m.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	m.watchers[ch] = struct{}{}
	ch <- m.Snapshot()
	m.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			defer m.watchMu.Unlock()
			if _, ok := m.watchers[ch]; ok {
				delete(m.watchers, ch)
				close(ch)
			}
		})
	}
}

// RefreshProfile reloads the profile of the current identity and merges it
// into the session. Without an identity it does nothing. An identity event
// or a later refresh arriving before the lookup resolves supersedes it.
func (m *Manager) RefreshProfile(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}

	reply := make(chan profileTicket, 1)
	if !m.send(refreshRequest{reply: reply}) {
		return ErrClosed
	}
	var ticket profileTicket
	select {
	case ticket = <-reply:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if !ticket.ok {
		return nil
	}

	profile, err := m.profiles.GetByID(ctx, ticket.userID)
	if err != nil {
		return model.NewTransportError("refresh profile", err)
	}

	ack := make(chan struct{})
	if !m.send(profileResult{userID: ticket.userID, gen: ticket.gen, profile: profile, ack: ack}) {
		return ErrClosed
	}

	select {
	case <-ack:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn asks the provider to authenticate. The state follows the
// provider's SIGNED_IN event.
func (m *Manager) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	return m.provider.SignIn(ctx, creds)
}

// SignUp asks the provider to register and sign in.
func (m *Manager) SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	return m.provider.SignUp(ctx, creds)
}

// SignOut asks the provider to end the session. The state is cleared when
// the SIGNED_OUT event is processed.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

// Close stops the manager. Pending completions are discarded. It is safe
// to call Close more than once and before Start.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.teardown()

		if m.started.Load() {
			<-m.loopDone
		}

		m.watchMu.Lock()
		for ch := range m.watchers {
			delete(m.watchers, ch)
			close(ch)
		}
		m.watchMu.Unlock()
	})
}

// teardown releases what Start acquired. Each handle is released once.
func (m *Manager) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
