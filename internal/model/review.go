package model

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Review is a buyer's rating of a purchased listing.
type Review struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	UserID    uuid.UUID
	Rating    int
	Comment   string
	ImageURL  string
	CreatedAt time.Time

	AuthorName      string
	AuthorAvatarURL string
}

// Upload is a file supplied by the user alongside a form.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ReviewInput is the review form as submitted.
type ReviewInput struct {
	ProductID uuid.UUID
	UserID    uuid.UUID
	Rating    int
	Comment   string
	Image     *Upload
}

// ReviewStore defines persistence operations for reviews.
type ReviewStore interface {
	HasReviewed(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	Create(ctx context.Context, review Review) (Review, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]Review, error)
	RatingsByProduct(ctx context.Context, productID uuid.UUID) ([]int, error)
	RatingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]int, error)
}

// PurchaseStore answers purchase-history questions.
type PurchaseStore interface {
	HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}
