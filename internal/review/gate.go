// Package review decides whether a buyer may review a listing and runs the
// review submission workflow.
package review

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/metrics"
	"github.com/dtroode/kurasi/internal/model"
)

// DefaultBucket holds review photos.
const DefaultBucket = "review-images"

const (
	msgRatingRange    = "Rating must be between 1 and 5"
	msgEmptyComment   = "Please write a comment"
	msgAlreadyWrote   = "You have already reviewed this product"
	msgSignInToReview = "You must be signed in to write a review"
	msgNotEligible    = "You can only review products you have purchased"
	defaultImageExt   = "jpg"
	outcomeOK         = "ok"
	outcomeInvalid    = "invalid"
	outcomeIneligible = "ineligible"
	outcomeDuplicate  = "duplicate"
	outcomeFailed     = "failed"
)

type memoKey struct {
	userID    uuid.UUID
	productID uuid.UUID
}

// Gate answers review eligibility and stores reviews.
type Gate struct {
	purchases model.PurchaseStore
	reviews   model.ReviewStore
	blobs     model.BlobStorage
	bucket    string
	policy    *bluemonday.Policy
	logger    *logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time

	mu        sync.Mutex
	submitted map[memoKey]struct{}
}

// Option configures a Gate.
type Option func(*Gate)

// WithBucket overrides DefaultBucket.
func WithBucket(bucket string) Option {
	return func(g *Gate) {
		if bucket != "" {
			g.bucket = bucket
		}
	}
}

// WithMetrics reports eligibility checks and submissions to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.metrics = r
		}
	}
}

func NewGate(
	purchases model.PurchaseStore,
	reviews model.ReviewStore,
	blobs model.BlobStorage,
	logger *logger.Logger,
	opts ...Option,
) *Gate {
	g := &Gate{
		purchases: purchases,
		reviews:   reviews,
		blobs:     blobs,
		bucket:    DefaultBucket,
		policy:    bluemonday.StrictPolicy(),
		logger:    logger,
		metrics:   metrics.Nop{},
		now:       time.Now,
		submitted: make(map[memoKey]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanReview reports whether userID bought productID and has not reviewed it
// yet. Both reads run concurrently and the answer is only derived once both
// have resolved. Any failed read yields false with a TransportError.
func (g *Gate) CanReview(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	if userID == uuid.Nil || productID == uuid.Nil {
		return false, nil
	}
	if g.wasSubmitted(userID, productID) {
		return false, nil
	}

	purchased, reviewed, err := g.eligibility(ctx, userID, productID)
	if err != nil {
		g.metrics.RecordEligibilityCheck(false, err)
		return false, err
	}

	// a submit may have landed while the reads were in flight
	eligible := purchased && !reviewed && !g.wasSubmitted(userID, productID)
	g.metrics.RecordEligibilityCheck(eligible, nil)
	return eligible, nil
}

// eligibility runs the purchase and review reads concurrently and returns
// once both have resolved.
func (g *Gate) eligibility(ctx context.Context, userID, productID uuid.UUID) (purchased, reviewed bool, err error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		ok, err := g.purchases.HasPurchased(egCtx, userID, productID)
		if err != nil {
			return fmt.Errorf("failed to check purchases: %w", err)
		}
		purchased = ok
		return nil
	})
	eg.Go(func() error {
		ok, err := g.reviews.HasReviewed(egCtx, userID, productID)
		if err != nil {
			return fmt.Errorf("failed to check reviews: %w", err)
		}
		reviewed = ok
		return nil
	})

	if err := eg.Wait(); err != nil {
		g.logger.Error("Review: eligibility check failed",
			"user_id", userID,
			"product_id", productID,
			"error", err.Error())
		return false, false, model.NewTransportError("check review eligibility", err)
	}
	return purchased, reviewed, nil
}

// Submit validates and stores a review. Eligibility is checked against the
// stores again, so a buyer who never purchased the product or already
// reviewed it gets a PermissionError whatever the caller believed. The
// optional image is uploaded first and removed again if the review cannot
// be stored.
func (g *Gate) Submit(ctx context.Context, in model.ReviewInput) (model.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		g.metrics.RecordReviewSubmission(outcomeInvalid)
		return model.Review{}, model.NewValidationError("rating", msgRatingRange)
	}
	comment := g.sanitize(in.Comment)
	if comment == "" {
		g.metrics.RecordReviewSubmission(outcomeInvalid)
		return model.Review{}, model.NewValidationError("comment", msgEmptyComment)
	}
	if err := g.checkEligible(ctx, in.UserID, in.ProductID); err != nil {
		return model.Review{}, err
	}

	review := model.Review{
		ID:        uuid.New(),
		ProductID: in.ProductID,
		UserID:    in.UserID,
		Rating:    in.Rating,
		Comment:   comment,
		CreatedAt: g.now(),
	}

	var objectPath string
	if in.Image != nil {
		objectPath = g.imagePath(in.UserID, in.Image.Name)
		if err := g.blobs.Upload(ctx, g.bucket, objectPath, in.Image.Body, in.Image.Size, in.Image.ContentType); err != nil {
			g.logger.Error("Review: failed to upload image",
				"user_id", in.UserID,
				"path", objectPath,
				"error", err.Error())
			g.metrics.RecordReviewSubmission(outcomeFailed)
			return model.Review{}, model.NewTransportError("upload review image", err)
		}
		review.ImageURL = g.blobs.PublicURL(g.bucket, objectPath)
	}

	created, err := g.reviews.Create(ctx, review)
	if err != nil {
		if objectPath != "" {
			g.removeImage(ctx, objectPath)
		}
		if errors.Is(err, model.ErrDuplicate) {
			g.markSubmitted(in.UserID, in.ProductID)
			g.metrics.RecordReviewSubmission(outcomeDuplicate)
			return model.Review{}, model.NewPermissionError(msgAlreadyWrote)
		}
		g.logger.Error("Review: failed to create review",
			"user_id", in.UserID,
			"product_id", in.ProductID,
			"error", err.Error())
		g.metrics.RecordReviewSubmission(outcomeFailed)
		return model.Review{}, model.NewTransportError("submit review", err)
	}

	g.markSubmitted(in.UserID, in.ProductID)
	g.metrics.RecordReviewSubmission(outcomeOK)
	g.logger.Info("Review: review submitted",
		"review_id", created.ID,
		"product_id", created.ProductID,
		"rating", created.Rating)

	return created, nil
}

func (g *Gate) checkEligible(ctx context.Context, userID, productID uuid.UUID) error {
	if userID == uuid.Nil {
		g.metrics.RecordReviewSubmission(outcomeIneligible)
		return model.NewPermissionError(msgSignInToReview)
	}
	if g.wasSubmitted(userID, productID) {
		g.metrics.RecordReviewSubmission(outcomeDuplicate)
		return model.NewPermissionError(msgAlreadyWrote)
	}

	purchased, reviewed, err := g.eligibility(ctx, userID, productID)
	switch {
	case err != nil:
		g.metrics.RecordReviewSubmission(outcomeFailed)
		return err
	case !purchased:
		g.logger.Warn("Review: rejected review without purchase",
			"user_id", userID,
			"product_id", productID)
		g.metrics.RecordReviewSubmission(outcomeIneligible)
		return model.NewPermissionError(msgNotEligible)
	case reviewed:
		g.markSubmitted(userID, productID)
		g.metrics.RecordReviewSubmission(outcomeDuplicate)
		return model.NewPermissionError(msgAlreadyWrote)
	}
	return nil
}

// Reviews lists the reviews of productID, newest first.
func (g *Gate) Reviews(ctx context.Context, productID uuid.UUID) ([]model.Review, error) {
	reviews, err := g.reviews.ListByProduct(ctx, productID)
	if err != nil {
		return nil, model.NewTransportError("list reviews", err)
	}
	return reviews, nil
}

// ProductRating summarizes the ratings of one listing.
func (g *Gate) ProductRating(ctx context.Context, productID uuid.UUID) (Summary, error) {
	ratings, err := g.reviews.RatingsByProduct(ctx, productID)
	if err != nil {
		return Summary{}, model.NewTransportError("product rating", err)
	}
	return Summarize(ratings), nil
}

// SellerRating summarizes the ratings of every listing of a seller.
func (g *Gate) SellerRating(ctx context.Context, sellerID uuid.UUID) (Summary, error) {
	ratings, err := g.reviews.RatingsBySeller(ctx, sellerID)
	if err != nil {
		return Summary{}, model.NewTransportError("seller rating", err)
	}
	return Summarize(ratings), nil
}

func (g *Gate) sanitize(comment string) string {
	return strings.TrimSpace(html.UnescapeString(g.policy.Sanitize(comment)))
}

func (g *Gate) imagePath(userID uuid.UUID, name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		ext = defaultImageExt
	}
	return fmt.Sprintf("%s/%d.%s", userID, g.now().UnixMilli(), ext)
}

func (g *Gate) removeImage(ctx context.Context, objectPath string) {
	if err := g.blobs.Delete(ctx, g.bucket, objectPath); err != nil {
		g.logger.Warn("Review: failed to remove orphaned image",
			"path", objectPath,
			"error", err.Error())
	}
}

func (g *Gate) wasSubmitted(userID, productID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.submitted[memoKey{userID: userID, productID: productID}]
	return ok
}

func (g *Gate) markSubmitted(userID, productID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted[memoKey{userID: userID, productID: productID}] = struct{}{}
}
