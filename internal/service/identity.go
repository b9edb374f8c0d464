package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

// DefaultAuthKey is the device storage key holding the persisted token pair.
const DefaultAuthKey = "kurasi_auth"

const minPasswordLength = 6

const (
	msgInvalidCredentials = "Invalid login credentials"
	msgUserExists         = "User already registered"
	msgInvalidEmail       = "Unable to validate email address: invalid format"
	msgShortPassword      = "Password should be at least 6 characters"
)

// Identity is the identity provider backed by the user store. It keeps the
// device's token pair in local storage and reports changes to subscribers.
type Identity struct {
	users    model.UserStore
	profiles model.ProfileStore
	tokens   *TokenService
	kv       model.KeyValueStore
	authKey  string
	logger   *logger.Logger

	// stateMu serializes operations that read or replace the stored pair.
	stateMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[uint64]func(model.AuthEvent)
	nextSub uint64
}

var _ model.IdentityProvider = (*Identity)(nil)

func NewIdentity(
	users model.UserStore,
	profiles model.ProfileStore,
	tokens *TokenService,
	kv model.KeyValueStore,
	logger *logger.Logger,
) *Identity {
	return &Identity{
		users:    users,
		profiles: profiles,
		tokens:   tokens,
		kv:       kv,
		authKey:  DefaultAuthKey,
		logger:   logger,
		subs:     make(map[uint64]func(model.AuthEvent)),
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe registers fn for identity events. fn is called outside any
// provider lock and must not block for long.
func (i *Identity) Subscribe(fn func(model.AuthEvent)) model.Subscription {
	i.subsMu.Lock()
	id := i.nextSub
	i.nextSub++
	i.subs[id] = fn
	i.subsMu.Unlock()

	return &subscription{cancel: func() {
		i.subsMu.Lock()
		delete(i.subs, id)
		i.subsMu.Unlock()
	}}
}

func (i *Identity) emit(kind model.AuthEventKind, session *model.Session) {
	i.subsMu.Lock()
	fns := make([]func(model.AuthEvent), 0, len(i.subs))
	for _, fn := range i.subs {
		fns = append(fns, fn)
	}
	i.subsMu.Unlock()

	for _, fn := range fns {
		event := model.AuthEvent{Kind: kind}
		if session != nil {
			s := session.Clone()
			event.Session = &s
		}
		fn(event)
	}
}

// GetCurrentSession returns the session stored on this device, or nil when
// there is none. An expired access token is refreshed transparently; a
// refresh token the server no longer honours clears local state.
func (i *Identity) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	session, refreshed, err := i.currentSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}

	if refreshed {
		i.emit(model.AuthEventTokenRefreshed, session)
	}

	return session, nil
}

func (i *Identity) currentSession(ctx context.Context) (*model.Session, bool, error) {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()

	pair, ok, err := i.loadPair()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	session, err := i.tokens.Session(pair.AccessToken)
	if err == nil {
		return &session, false, nil
	}
	if !errors.Is(err, model.ErrAccessTokenExpired) {
		i.logger.Info("Identity: stored access token rejected, clearing",
			"error", err.Error())
		i.clearPair()
		return nil, false, nil
	}

	newPair, session, err := i.tokens.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		if isInvalidGrant(err) {
			i.logger.Info("Identity: refresh token no longer valid, clearing",
				"error", err.Error())
			i.clearPair()
			return nil, false, nil
		}
		i.logger.Error("Identity: failed to refresh session",
			"error", err.Error())
		return nil, false, model.NewTransportError("refresh session", err)
	}

	if err := i.storePair(newPair); err != nil {
		i.logger.Warn("Identity: failed to persist refreshed tokens",
			"user_id", session.ID,
			"error", err.Error())
	}

	return &session, true, nil
}

// SignIn authenticates with email and password.
func (i *Identity) SignIn(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	email := normalizeEmail(creds.Email)

	user, err := i.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewValidationError("credentials", msgInvalidCredentials)
		}
		i.logger.Error("Identity: failed to get user by email",
			"email", email,
			"error", err.Error())
		return nil, model.NewTransportError("sign in", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		i.logger.Info("Identity: password mismatch",
			"user_id", user.ID)
		return nil, model.NewValidationError("credentials", msgInvalidCredentials)
	}

	return i.startSession(ctx, user.Session())
}

// SignUp registers a new identity with a member profile and signs it in.
func (i *Identity) SignUp(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	email := normalizeEmail(creds.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, model.NewValidationError("email", msgInvalidEmail)
	}
	if len(creds.Password) < minPasswordLength {
		return nil, model.NewValidationError("password", msgShortPassword)
	}

	_, err := i.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, model.NewValidationError("email", msgUserExists)
	case !errors.Is(err, model.ErrNotFound):
		i.logger.Error("Identity: failed to get user by email",
			"email", email,
			"error", err.Error())
		return nil, model.NewTransportError("sign up", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user, err := i.users.Create(ctx, model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return nil, model.NewValidationError("email", msgUserExists)
		}
		i.logger.Error("Identity: failed to create user",
			"email", email,
			"error", err.Error())
		return nil, model.NewTransportError("sign up", err)
	}

	profile := model.Profile{
		ID:       user.ID,
		Role:     model.RoleMember,
		FullName: strings.TrimSpace(creds.FullName),
	}
	if err := i.profiles.Create(ctx, profile); err != nil {
		i.logger.Warn("Identity: failed to create profile",
			"user_id", user.ID,
			"error", err.Error())
	}

	i.logger.Info("Identity: user registered",
		"user_id", user.ID)

	return i.startSession(ctx, user.Session())
}

func (i *Identity) startSession(ctx context.Context, session model.Session) (*model.Session, error) {
	pair, err := i.tokens.Issue(ctx, session)
	if err != nil {
		i.logger.Error("Identity: failed to issue tokens",
			"user_id", session.ID,
			"error", err.Error())
		return nil, model.NewTransportError("issue tokens", err)
	}

	i.stateMu.Lock()
	err = i.storePair(pair)
	i.stateMu.Unlock()
	if err != nil {
		i.logger.Warn("Identity: failed to persist tokens",
			"user_id", session.ID,
			"error", err.Error())
	}

	i.emit(model.AuthEventSignedIn, &session)

	return &session, nil
}

// UpdateProfile stores the editable profile fields of the signed-in user and
// reports USER_UPDATED with the merged session.
func (i *Identity) UpdateProfile(ctx context.Context, profile model.Profile) (*model.Session, error) {
	i.stateMu.Lock()
	pair, ok, err := i.loadPair()
	i.stateMu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.NewPermissionError("You must be signed in to update your profile")
	}

	session, err := i.tokens.Session(pair.AccessToken)
	if err != nil {
		current, err := i.GetCurrentSession(ctx)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, model.NewPermissionError("You must be signed in to update your profile")
		}
		session = *current
	}

	profile.ID = session.ID
	profile.Role = ""
	if err := i.profiles.Update(ctx, profile); err != nil {
		i.logger.Error("Identity: failed to update profile",
			"user_id", session.ID,
			"error", err.Error())
		return nil, model.NewTransportError("update profile", err)
	}

	session.Profile = &profile
	i.emit(model.AuthEventUserUpdated, &session)

	return &session, nil
}

// SignOut revokes the stored refresh token and clears local state.
// Subscribers observe SIGNED_OUT even when revocation fails remotely.
func (i *Identity) SignOut(ctx context.Context) error {
	i.stateMu.Lock()
	pair, ok, err := i.loadPair()
	if err == nil && ok {
		if err := i.tokens.RevokeByToken(ctx, pair.RefreshToken); err != nil {
			i.logger.Warn("Identity: failed to revoke refresh token",
				"error", err.Error())
		}
	}
	clearErr := i.kv.Set(i.authKey, "")
	i.stateMu.Unlock()

	i.emit(model.AuthEventSignedOut, nil)

	if clearErr != nil {
		return fmt.Errorf("failed to clear stored tokens: %w", clearErr)
	}
	return nil
}

func (i *Identity) loadPair() (TokenPair, bool, error) {
	raw, ok, err := i.kv.Get(i.authKey)
	if err != nil {
		return TokenPair{}, false, fmt.Errorf("failed to read stored tokens: %w", err)
	}
	if !ok || raw == "" {
		return TokenPair{}, false, nil
	}

	var pair TokenPair
	if err := json.Unmarshal([]byte(raw), &pair); err != nil || pair.RefreshToken == "" {
		i.logger.Warn("Identity: stored tokens are unreadable, clearing")
		i.clearPair()
		return TokenPair{}, false, nil
	}

	return pair, true, nil
}

func (i *Identity) storePair(pair TokenPair) error {
	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	return i.kv.Set(i.authKey, string(raw))
}

func (i *Identity) clearPair() {
	if err := i.kv.Set(i.authKey, ""); err != nil {
		i.logger.Warn("Identity: failed to clear stored tokens",
			"error", err.Error())
	}
}

func isInvalidGrant(err error) bool {
	return errors.Is(err, model.ErrTokenRevoked) ||
		errors.Is(err, model.ErrTokenExpired) ||
		errors.Is(err, model.ErrTokenMismatch) ||
		errors.Is(err, model.ErrTokenInvalid) ||
		errors.Is(err, model.ErrNotFound)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
