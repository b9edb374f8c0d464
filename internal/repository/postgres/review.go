package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dtroode/kurasi/internal/model"
)

var _ model.ReviewStore = (*ReviewRepository)(nil)

type ReviewRepository struct {
	db *Connection
}

func NewReviewRepository(db *Connection) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) HasReviewed(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM reviews WHERE user_id = $1 AND product_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, productID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check review: %w", err)
	}
	return exists, nil
}

// Create inserts review. A second review of the same product by the same
// user yields model.ErrDuplicate.
func (r *ReviewRepository) Create(ctx context.Context, review model.Review) (model.Review, error) {
	const query = `
	INSERT INTO reviews (id, product_id, user_id, rating, comment, image_url)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	RETURNING created_at`

	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, query,
		review.ID, review.ProductID, review.UserID, review.Rating, review.Comment, review.ImageURL,
	).Scan(&review.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Review{}, model.ErrDuplicate
		}
		return model.Review{}, fmt.Errorf("failed to create review: %w", err)
	}
	return review, nil
}

// ListByProduct returns the product's reviews newest first with author
// display fields.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.Review, error) {
	const query = `
	SELECT rv.id, rv.product_id, rv.user_id, rv.rating, rv.comment, COALESCE(rv.image_url, ''), rv.created_at,
		COALESCE(p.full_name, ''), COALESCE(p.avatar_url, '')
	FROM reviews rv
	LEFT JOIN profiles p ON p.id = rv.user_id
	WHERE rv.product_id = $1
	ORDER BY rv.created_at DESC`

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	reviews, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Review, error) {
		var rv model.Review
		err := row.Scan(
			&rv.ID, &rv.ProductID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.ImageURL, &rv.CreatedAt,
			&rv.AuthorName, &rv.AuthorAvatarURL,
		)
		return rv, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reviews: %w", err)
	}
	return reviews, nil
}

func (r *ReviewRepository) RatingsByProduct(ctx context.Context, productID uuid.UUID) ([]int, error) {
	const query = `SELECT rating FROM reviews WHERE product_id = $1`
	return r.ratings(ctx, query, productID)
}

// RatingsBySeller returns the ratings of every review across the seller's
// products.
func (r *ReviewRepository) RatingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]int, error) {
	const query = `
	SELECT rv.rating FROM reviews rv
	JOIN products p ON p.id = rv.product_id
	WHERE p.seller_id = $1`
	return r.ratings(ctx, query, sellerID)
}

func (r *ReviewRepository) ratings(ctx context.Context, query string, id uuid.UUID) ([]int, error) {
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}

	ratings, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ratings: %w", err)
	}
	return ratings, nil
}
