package model

import (
	"context"

	"github.com/google/uuid"
)

// Role is the marketplace role stored on a profile.
type Role string

const (
	RoleMember Role = "member"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Profile is the role and contact record attached one-to-one to an identity.
// Empty strings mean the field is absent.
type Profile struct {
	ID        uuid.UUID
	Role      Role
	FullName  string
	Phone     string
	Address   string
	AvatarURL string
}

// Merge returns p with every non-empty field of other applied on top.
func (p Profile) Merge(other Profile) Profile {
	if other.ID != uuid.Nil {
		p.ID = other.ID
	}
	if other.Role != "" {
		p.Role = other.Role
	}
	if other.FullName != "" {
		p.FullName = other.FullName
	}
	if other.Phone != "" {
		p.Phone = other.Phone
	}
	if other.Address != "" {
		p.Address = other.Address
	}
	if other.AvatarURL != "" {
		p.AvatarURL = other.AvatarURL
	}
	return p
}

// Session is the authenticated principal, optionally enriched with its
// profile. Profile is nil until the profile lookup resolves.
type Session struct {
	ID            uuid.UUID
	Email         string
	EmailVerified bool
	Profile       *Profile
}

// Role returns the profile role, or RoleMember when no profile role is known.
func (s Session) Role() Role {
	if s.Profile == nil || s.Profile.Role == "" {
		return RoleMember
	}
	return s.Profile.Role
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

// AuthEventKind enumerates identity provider change events.
type AuthEventKind string

const (
	AuthEventSignedIn       AuthEventKind = "SIGNED_IN"
	AuthEventSignedOut      AuthEventKind = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent is delivered to identity subscribers. Session is nil for
// sign-out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// Credentials carries sign-in and sign-up input.
type Credentials struct {
	Email    string
	Password string
	FullName string
}

// Subscription is a handle to an identity event subscription.
type Subscription interface {
	Unsubscribe()
}

// IdentityProvider is the remote authentication capability.
type IdentityProvider interface {
	GetCurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(AuthEvent)) Subscription
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignUp(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
}

// ProfileStore defines persistence operations for profiles.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (Profile, error)
	Create(ctx context.Context, profile Profile) error
	Update(ctx context.Context, profile Profile) error
}
