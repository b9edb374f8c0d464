package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dtroode/kurasi/internal/model"
)

var _ model.ProfileStore = (*ProfileRepository)(nil)

type ProfileRepository struct {
	db *Connection
}

func NewProfileRepository(db *Connection) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	const query = `
	SELECT id, role, COALESCE(full_name, ''), COALESCE(phone, ''), COALESCE(address, ''), COALESCE(avatar_url, '')
	FROM profiles WHERE id = $1`

	var p model.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Role, &p.FullName, &p.Phone, &p.Address, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, model.ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile model.Profile) error {
	const query = `
	INSERT INTO profiles (id, role, full_name, phone, address, avatar_url)
	VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))`

	role := profile.Role
	if role == "" {
		role = model.RoleMember
	}

	_, err := r.db.Exec(ctx, query,
		profile.ID, role, profile.FullName, profile.Phone, profile.Address, profile.AvatarURL,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicate
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// Update overwrites the contact fields that are non-empty in profile. The
// role is never changed here.
func (r *ProfileRepository) Update(ctx context.Context, profile model.Profile) error {
	const query = `
	UPDATE profiles SET
		full_name = COALESCE(NULLIF($2, ''), full_name),
		phone = COALESCE(NULLIF($3, ''), phone),
		address = COALESCE(NULLIF($4, ''), address),
		avatar_url = COALESCE(NULLIF($5, ''), avatar_url),
		updated_at = NOW()
	WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		profile.ID, profile.FullName, profile.Phone, profile.Address, profile.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
