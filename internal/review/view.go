package review

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

const msgInFlight = "Your review is already being submitted"

// View is the review state of one product-detail view. Eligibility stays
// false until both reads of the latest Refresh have resolved.
type View struct {
	gate      *Gate
	productID uuid.UUID
	logger    *logger.Logger

	mu         sync.Mutex
	gen        uint64
	userID     uuid.UUID
	eligible   bool
	submitting bool
	reviews    []model.Review
}

func NewView(gate *Gate, productID uuid.UUID, logger *logger.Logger) *View {
	return &View{
		gate:      gate,
		productID: productID,
		logger:    logger,
	}
}

// Refresh recomputes eligibility for session and reloads the review list.
// Results of a Refresh superseded by a newer Refresh or a submission are
// discarded.
func (v *View) Refresh(ctx context.Context, session *model.Session) error {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.eligible = false
	v.userID = uuid.Nil
	if session != nil {
		v.userID = session.ID
	}
	userID := v.userID
	v.mu.Unlock()

	eligible, eligErr := v.gate.CanReview(ctx, userID, v.productID)
	reviews, listErr := v.gate.Reviews(ctx, v.productID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.gen {
		v.logger.Debug("Review: discarding superseded refresh",
			"product_id", v.productID)
		return nil
	}
	if eligErr == nil {
		v.eligible = eligible
	}
	if listErr == nil {
		v.reviews = reviews
	}

	if eligErr != nil {
		return eligErr
	}
	return listErr
}

// CanReview reports the last fully resolved eligibility.
func (v *View) CanReview() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.eligible
}

// Reviews returns the loaded review list.
func (v *View) Reviews() []model.Review {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Review, len(v.reviews))
	copy(out, v.reviews)
	return out
}

// Submit stores a review for the viewed product as the refreshed identity.
// Eligibility drops to false as soon as the review is stored. On failure
// the caller keeps its input and may retry.
func (v *View) Submit(ctx context.Context, in model.ReviewInput) (model.Review, error) {
	v.mu.Lock()
	switch {
	case v.userID == uuid.Nil:
		v.mu.Unlock()
		return model.Review{}, model.NewPermissionError(msgSignInToReview)
	case v.submitting:
		v.mu.Unlock()
		return model.Review{}, model.NewPermissionError(msgInFlight)
	case !v.eligible:
		v.mu.Unlock()
		return model.Review{}, model.NewPermissionError(msgNotEligible)
	}
	v.submitting = true
	in.UserID = v.userID
	in.ProductID = v.productID
	v.mu.Unlock()

	created, err := v.gate.Submit(ctx, in)

	v.mu.Lock()
	v.submitting = false
	if err == nil || isPermission(err) {
		v.eligible = false
		v.gen++
	}
	v.mu.Unlock()

	if err != nil {
		return model.Review{}, err
	}

	reviews, err := v.gate.Reviews(ctx, v.productID)
	if err != nil {
		v.logger.Warn("Review: failed to reload reviews",
			"product_id", v.productID,
			"error", err.Error())
		return created, nil
	}

	v.mu.Lock()
	v.reviews = reviews
	v.mu.Unlock()

	return created, nil
}

func isPermission(err error) bool {
	var permission *model.PermissionError
	return errors.As(err, &permission)
}
