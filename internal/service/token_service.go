package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

// TokenPair is the credential material a device keeps between runs.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenService provides high-level operations for issuing, refreshing,
// and revoking tokens. It composes the TokenManager and RefreshTokenStore.
type TokenService struct {
	manager model.TokenManager
	store   model.RefreshTokenStore
	users   model.UserStore
	logger  *logger.Logger
}

func NewTokenService(manager model.TokenManager, store model.RefreshTokenStore, users model.UserStore, logger *logger.Logger) *TokenService {
	return &TokenService{manager: manager, store: store, users: users, logger: logger}
}

// Keep in sync with the token manager. Used only for persistence; validity
// is checked against the JWT claims at parse time.
const (
	refreshTTL = 30 * 24 * time.Hour
)

// Issue creates a fresh token pair for session and records the refresh token.
func (s *TokenService) Issue(ctx context.Context, session model.Session) (TokenPair, error) {
	return s.issue(ctx, session, nil)
}

// Refresh rotates presentedRefresh: the stored token is revoked and a new
// pair is issued for the current state of the user record.
func (s *TokenService) Refresh(ctx context.Context, presentedRefresh string) (TokenPair, model.Session, error) {
	userID, jti, err := s.manager.ParseRefreshToken(presentedRefresh)
	if err != nil {
		if errors.Is(err, model.ErrTokenExpired) {
			return TokenPair{}, model.Session{}, err
		}
		return TokenPair{}, model.Session{}, fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}

	rt, err := s.store.GetByJTI(ctx, jti)
	if err != nil {
		return TokenPair{}, model.Session{}, err
	}

	if err := validateRecord(rt, hashRefresh(presentedRefresh), time.Now()); err != nil {
		return TokenPair{}, model.Session{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return TokenPair{}, model.Session{}, fmt.Errorf("load user: %w", err)
	}

	if err := s.store.RevokeByJTI(ctx, jti); err != nil {
		return TokenPair{}, model.Session{}, fmt.Errorf("revoke old refresh: %w", err)
	}

	session := user.Session()
	rotatedFrom := rt.JTI
	pair, err := s.issue(ctx, session, &rotatedFrom)
	if err != nil {
		return TokenPair{}, model.Session{}, err
	}

	s.logger.Debug("refresh token rotated", "user_id", userID, "rotated_from", rotatedFrom)

	return pair, session, nil
}

func (s *TokenService) issue(ctx context.Context, session model.Session, rotatedFrom *string) (TokenPair, error) {
	access, err := s.manager.GenerateAccessToken(session)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access: %w", err)
	}

	refresh, jti, err := s.manager.GenerateRefreshToken(session.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh: %w", err)
	}

	now := time.Now()
	rt := model.RefreshToken{
		ID:             uuid.New(),
		JTI:            jti,
		UserID:         session.ID,
		TokenHash:      hashRefresh(refresh),
		IssuedAt:       now,
		ExpiresAt:      now.Add(refreshTTL),
		RotatedFromJTI: rotatedFrom,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, rt); err != nil {
		return TokenPair{}, fmt.Errorf("persist refresh: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RevokeByToken revokes the stored record behind presentedRefresh.
func (s *TokenService) RevokeByToken(ctx context.Context, presentedRefresh string) error {
	_, jti, err := s.manager.ParseRefreshToken(presentedRefresh)
	if err != nil {
		return err
	}
	return s.store.RevokeByJTI(ctx, jti)
}

func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return s.store.RevokeAllByUser(ctx, userID)
}

// Session resolves an access token to the principal it was issued for.
func (s *TokenService) Session(token string) (model.Session, error) {
	return s.manager.ParseAccessToken(token)
}

func hashRefresh(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}

func validateRecord(rt model.RefreshToken, presentedHash []byte, now time.Time) error {
	if rt.RevokedAt != nil {
		return model.ErrTokenRevoked
	}
	if now.After(rt.ExpiresAt) {
		return model.ErrTokenExpired
	}
	if !equalBytes(rt.TokenHash, presentedHash) {
		return model.ErrTokenMismatch
	}
	return nil
}

func equalBytes(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
