package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore defines persistence operations for identities.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	Create(ctx context.Context, user User) (User, error)
}

// User represents a stored identity with its password hash.
type User struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  []byte
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Session returns the principal view of u without profile data.
func (u User) Session() Session {
	return Session{ID: u.ID, Email: u.Email, EmailVerified: u.EmailVerified}
}
