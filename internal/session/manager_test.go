package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/kurasi/internal/model"
	"github.com/dtroode/kurasi/internal/testutil"
)

type fakeSubscription struct {
	cancel func()
}

func (s fakeSubscription) Unsubscribe() { s.cancel() }

type fakeProvider struct {
	mu   sync.Mutex
	subs map[int]func(model.AuthEvent)
	next int

	subscribes   atomic.Int32
	unsubscribes atomic.Int32

	fetch func(ctx context.Context) (*model.Session, error)
}

func newFakeProvider(fetch func(ctx context.Context) (*model.Session, error)) *fakeProvider {
	return &fakeProvider{subs: make(map[int]func(model.AuthEvent)), fetch: fetch}
}

func (p *fakeProvider) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	return p.fetch(ctx)
}

func (p *fakeProvider) Subscribe(fn func(model.AuthEvent)) model.Subscription {
	p.subscribes.Add(1)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()

	return fakeSubscription{cancel: func() {
		p.unsubscribes.Add(1)
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}}
}

func (p *fakeProvider) emit(kind model.AuthEventKind, session *model.Session) {
	p.mu.Lock()
	fns := make([]func(model.AuthEvent), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(model.AuthEvent{Kind: kind, Session: session})
	}
}

func (p *fakeProvider) SignIn(_ context.Context, creds model.Credentials) (*model.Session, error) {
	if creds.Password == "" {
		return nil, model.NewValidationError("credentials", "Invalid login credentials")
	}
	s := &model.Session{ID: uuid.New(), Email: creds.Email}
	p.emit(model.AuthEventSignedIn, s)
	return s, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	return p.SignIn(ctx, creds)
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.emit(model.AuthEventSignedOut, nil)
	return nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]model.Profile
	err      error
	lookups  []uuid.UUID

	// when set, the next lookup signals entered and waits for release
	hold *heldLookup
}

type heldLookup struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[uuid.UUID]model.Profile)}
}

func (f *fakeProfiles) set(p model.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func (f *fakeProfiles) lookedUp(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lookups {
		if l == id {
			return true
		}
	}
	return false
}

func (f *fakeProfiles) holdNext() *heldLookup {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = &heldLookup{entered: make(chan struct{}), release: make(chan struct{})}
	return f.hold
}

func (f *fakeProfiles) GetByID(_ context.Context, id uuid.UUID) (model.Profile, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, id)
	hold := f.hold
	f.hold = nil
	profile, ok := f.profiles[id]
	f.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		<-hold.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Profile{}, f.err
	}
	if !ok {
		return model.Profile{}, model.ErrNotFound
	}
	return profile, nil
}

func (f *fakeProfiles) Create(context.Context, model.Profile) error { return nil }

func (f *fakeProfiles) Update(context.Context, model.Profile) error { return nil }

func returning(s *model.Session, err error) func(context.Context) (*model.Session, error) {
	return func(context.Context) (*model.Session, error) { return s, err }
}

// gatedFetch blocks until release is called and then returns the session
// passed to release.
type gatedFetch struct {
	release chan *model.Session
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{release: make(chan *model.Session, 1)}
}

func (g *gatedFetch) fetch(ctx context.Context) (*model.Session, error) {
	select {
	case s := <-g.release:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestManager(t *testing.T, provider *fakeProvider, profiles *fakeProfiles, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(provider, profiles, testutil.MakeNoopLogger(), opts...)
	t.Cleanup(m.Close)
	return m
}

func waitReady(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("manager never left bootstrapping")
	}
}

func sessionIs(m *Manager, id uuid.UUID) func() bool {
	return func() bool {
		s := m.Session()
		return s != nil && s.ID == id
	}
}

func stateIs(m *Manager, state State) func() bool {
	return func() bool { return m.Snapshot().State == state }
}

func TestManager_BootstrapWithSession(t *testing.T) {
	user := &model.Session{ID: uuid.New(), Email: "ana@kurasi.id"}
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, Role: model.RoleSeller, FullName: "Ana"})

	m := newTestManager(t, newFakeProvider(returning(user, nil)), profiles)
	assert.Equal(t, StateBootstrapping, m.Snapshot().State)
	assert.Nil(t, m.Session())

	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	require.Eventually(t, stateIs(m, StateProfileEnriched), time.Second, 5*time.Millisecond)
	snap := m.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, user.ID, snap.Session.ID)
	assert.Equal(t, model.RoleSeller, snap.Role())
	assert.Equal(t, "Ana", snap.Session.Profile.FullName)
}

func TestManager_BootstrapAnonymous(t *testing.T) {
	tests := []struct {
		name  string
		fetch func(context.Context) (*model.Session, error)
	}{
		{name: "no stored session", fetch: returning(nil, nil)},
		{name: "fetch error", fetch: returning(nil, model.NewTransportError("get session", assert.AnError))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, newFakeProvider(tt.fetch), newFakeProfiles())
			require.NoError(t, m.Start(context.Background()))
			waitReady(t, m)

			snap := m.Snapshot()
			assert.Equal(t, StateAnonymous, snap.State)
			assert.False(t, snap.Authenticated())
			assert.Equal(t, model.Role(""), snap.Role())
		})
	}
}

func TestManager_WatchdogThenLateArrival(t *testing.T) {
	gate := newGatedFetch()
	user := &model.Session{ID: uuid.New()}
	m := newTestManager(t, newFakeProvider(gate.fetch), newFakeProfiles(), WithWatchdog(50*time.Millisecond))

	started := time.Now()
	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
	assert.Equal(t, StateAnonymous, m.Snapshot().State)

	gate.release <- user
	require.Eventually(t, sessionIs(m, user.ID), time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAuthenticated, m.Snapshot().State)
}

func TestManager_EventAfterWatchdogApplies(t *testing.T) {
	gate := newGatedFetch()
	provider := newFakeProvider(gate.fetch)
	m := newTestManager(t, provider, newFakeProfiles(), WithWatchdog(20*time.Millisecond))

	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)
	require.Equal(t, StateAnonymous, m.Snapshot().State)

	user := &model.Session{ID: uuid.New()}
	provider.emit(model.AuthEventSignedIn, user)
	require.Eventually(t, sessionIs(m, user.ID), time.Second, 5*time.Millisecond)
}

func TestManager_EventSupersedesLaterFetch(t *testing.T) {
	gate := newGatedFetch()
	provider := newFakeProvider(gate.fetch)
	profiles := newFakeProfiles()
	m := newTestManager(t, provider, profiles)

	require.NoError(t, m.Start(context.Background()))

	fromEvent := &model.Session{ID: uuid.New()}
	stale := &model.Session{ID: uuid.New()}

	provider.emit(model.AuthEventSignedIn, fromEvent)
	require.Eventually(t, sessionIs(m, fromEvent.ID), time.Second, 5*time.Millisecond)

	gate.release <- stale
	require.Never(t, func() bool { return profiles.lookedUp(stale.ID) || sessionIs(m, stale.ID)() },
		100*time.Millisecond, 5*time.Millisecond)
	assert.True(t, sessionIs(m, fromEvent.ID)())
}

func TestManager_SignOutWhileBootstrapping(t *testing.T) {
	gate := newGatedFetch()
	provider := newFakeProvider(gate.fetch)
	m := newTestManager(t, provider, newFakeProfiles())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.SignOut(context.Background()))
	waitReady(t, m)
	assert.Equal(t, StateAnonymous, m.Snapshot().State)

	late := &model.Session{ID: uuid.New()}
	gate.release <- late
	require.Never(t, sessionIs(m, late.ID), 100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_SignInAndOut(t *testing.T) {
	provider := newFakeProvider(returning(nil, nil))
	m := newTestManager(t, provider, newFakeProfiles())
	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	_, err := m.SignIn(context.Background(), model.Credentials{Email: "ana@kurasi.id"})
	var validation *model.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "Invalid login credentials", model.UserMessage(err))

	s, err := m.SignIn(context.Background(), model.Credentials{Email: "ana@kurasi.id", Password: "rahasia"})
	require.NoError(t, err)
	require.Eventually(t, sessionIs(m, s.ID), time.Second, 5*time.Millisecond)

	require.NoError(t, m.SignOut(context.Background()))
	require.Eventually(t, stateIs(m, StateAnonymous), time.Second, 5*time.Millisecond)
	assert.Nil(t, m.Session())

	s, err = m.SignUp(context.Background(), model.Credentials{Email: "budi@kurasi.id", Password: "rahasia"})
	require.NoError(t, err)
	require.Eventually(t, sessionIs(m, s.ID), time.Second, 5*time.Millisecond)
}

func TestManager_ProfileFailureDegradesToMember(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	profiles := newFakeProfiles()
	profiles.err = assert.AnError

	m := newTestManager(t, newFakeProvider(returning(user, nil)), profiles)
	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	require.Eventually(t, func() bool { return profiles.lookedUp(user.ID) }, time.Second, 5*time.Millisecond)
	require.Never(t, stateIs(m, StateProfileEnriched), 50*time.Millisecond, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Nil(t, snap.Session.Profile)
	assert.Equal(t, model.RoleMember, snap.Role())
}

func TestManager_RefreshProfileMerges(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, Role: model.RoleSeller, FullName: "Ana"})

	m := newTestManager(t, newFakeProvider(returning(user, nil)), profiles)
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, stateIs(m, StateProfileEnriched), time.Second, 5*time.Millisecond)

	profiles.set(model.Profile{ID: user.ID, Phone: "0812-0000-1111"})
	require.NoError(t, m.RefreshProfile(context.Background()))

	p := m.Session().Profile
	require.NotNil(t, p)
	assert.Equal(t, "Ana", p.FullName)
	assert.Equal(t, "0812-0000-1111", p.Phone)
	assert.Equal(t, model.RoleSeller, p.Role)
}

func TestManager_RefreshProfileWithoutIdentity(t *testing.T) {
	profiles := newFakeProfiles()
	m := newTestManager(t, newFakeProvider(returning(nil, nil)), profiles)

	require.NoError(t, m.RefreshProfile(context.Background()))

	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)
	require.NoError(t, m.RefreshProfile(context.Background()))

	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	assert.Empty(t, profiles.lookups)
}

func TestManager_RefreshProfileError(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	profiles := newFakeProfiles()
	m := newTestManager(t, newFakeProvider(returning(user, nil)), profiles)
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, sessionIs(m, user.ID), time.Second, 5*time.Millisecond)

	profiles.mu.Lock()
	profiles.err = assert.AnError
	profiles.mu.Unlock()

	err := m.RefreshProfile(context.Background())
	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
	assert.True(t, sessionIs(m, user.ID)())
}

func TestManager_TokenRefreshKeepsProfile(t *testing.T) {
	user := &model.Session{ID: uuid.New(), Email: "ana@kurasi.id"}
	provider := newFakeProvider(returning(user, nil))
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, Role: model.RoleAdmin})

	m := newTestManager(t, provider, profiles)
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, stateIs(m, StateProfileEnriched), time.Second, 5*time.Millisecond)

	profiles.mu.Lock()
	profiles.err = assert.AnError
	profiles.mu.Unlock()

	provider.emit(model.AuthEventTokenRefreshed, &model.Session{ID: user.ID, Email: "ana@kurasi.id", EmailVerified: true})
	require.Eventually(t, func() bool {
		s := m.Session()
		return s != nil && s.EmailVerified
	}, time.Second, 5*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StateProfileEnriched, snap.State)
	assert.Equal(t, model.RoleAdmin, snap.Role())
}

func TestManager_UserUpdatedMergesProfile(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	provider := newFakeProvider(returning(user, nil))
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, Role: model.RoleSeller, FullName: "Ana"})

	m := newTestManager(t, provider, profiles)
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, stateIs(m, StateProfileEnriched), time.Second, 5*time.Millisecond)

	provider.emit(model.AuthEventUserUpdated, &model.Session{ID: user.ID, Profile: &model.Profile{Address: "Jl. Braga 5"}})
	require.Eventually(t, func() bool {
		s := m.Session()
		return s.Profile != nil && s.Profile.Address == "Jl. Braga 5"
	}, time.Second, 5*time.Millisecond)

	p := m.Session().Profile
	assert.Equal(t, "Ana", p.FullName)
	assert.Equal(t, model.RoleSeller, p.Role)
}

func TestManager_Watch(t *testing.T) {
	gate := newGatedFetch()
	m := newTestManager(t, newFakeProvider(gate.fetch), newFakeProfiles())

	ch, cancel := m.Watch()
	defer cancel()

	first := <-ch
	assert.Equal(t, StateBootstrapping, first.State)

	require.NoError(t, m.Start(context.Background()))
	user := &model.Session{ID: uuid.New()}
	gate.release <- user

	for snap := range ch {
		if snap.Session != nil && snap.Session.ID == user.ID {
			break
		}
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	provider := newFakeProvider(returning(nil, nil))
	m := NewManager(provider, newFakeProfiles(), testutil.MakeNoopLogger())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, int32(1), provider.subscribes.Load())

	ch, _ := m.Watch()

	m.Close()
	m.Close()
	assert.Equal(t, int32(1), provider.unsubscribes.Load())

	for range ch {
	}

	require.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestManager_CloseBeforeStart(t *testing.T) {
	provider := newFakeProvider(returning(nil, nil))
	m := NewManager(provider, newFakeProfiles(), testutil.MakeNoopLogger())

	m.Close()
	require.ErrorIs(t, m.Start(context.Background()), ErrClosed)
	assert.Zero(t, provider.subscribes.Load())
}

func TestManager_CloseDiscardsLateCompletions(t *testing.T) {
	gate := newGatedFetch()
	provider := newFakeProvider(gate.fetch)
	m := NewManager(provider, newFakeProfiles(), testutil.MakeNoopLogger(), WithWatchdog(20*time.Millisecond))

	require.NoError(t, m.Start(context.Background()))
	m.Close()

	gate.release <- &model.Session{ID: uuid.New()}
	provider.emit(model.AuthEventSignedIn, &model.Session{ID: uuid.New()})
	time.Sleep(60 * time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, StateBootstrapping, snap.State, "watchdog and late results are ignored after Close")
	assert.Nil(t, snap.Session)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "bootstrapping", StateBootstrapping.String())
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "profile_enriched", StateProfileEnriched.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestManager_StaleProfileLookupIsDiscarded(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	provider := newFakeProvider(returning(nil, nil))
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, Role: model.RoleSeller, FullName: "Old Name"})

	m := newTestManager(t, provider, profiles)
	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	held := profiles.holdNext()
	provider.emit(model.AuthEventSignedIn, user)
	<-held.entered

	provider.emit(model.AuthEventUserUpdated, &model.Session{ID: user.ID, Profile: &model.Profile{FullName: "New Name"}})
	require.Eventually(t, func() bool {
		s := m.Session()
		return s != nil && s.Profile != nil && s.Profile.FullName == "New Name"
	}, time.Second, 5*time.Millisecond)

	close(held.release)
	require.Never(t, func() bool {
		s := m.Session()
		return s == nil || s.Profile == nil || s.Profile.FullName != "New Name"
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StateProfileEnriched, m.Snapshot().State)
}

func TestManager_RefreshProfileSupersedesPendingLookup(t *testing.T) {
	user := &model.Session{ID: uuid.New()}
	provider := newFakeProvider(returning(nil, nil))
	profiles := newFakeProfiles()
	profiles.set(model.Profile{ID: user.ID, FullName: "Old Name"})

	m := newTestManager(t, provider, profiles)
	require.NoError(t, m.Start(context.Background()))
	waitReady(t, m)

	held := profiles.holdNext()
	provider.emit(model.AuthEventSignedIn, user)
	<-held.entered

	profiles.set(model.Profile{ID: user.ID, FullName: "New Name"})
	require.NoError(t, m.RefreshProfile(context.Background()))
	require.Equal(t, "New Name", m.Session().Profile.FullName)

	close(held.release)
	require.Never(t, func() bool {
		return m.Session().Profile.FullName != "New Name"
	}, 100*time.Millisecond, 5*time.Millisecond)
}
