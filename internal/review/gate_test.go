package review

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/kurasi/internal/mocks"
	"github.com/dtroode/kurasi/internal/model"
	"github.com/dtroode/kurasi/internal/testutil"
)

// answer is a pending boolean read released by the test.
type answer struct {
	ok  bool
	err error
}

type gatedPurchases struct {
	release chan answer
}

func (g *gatedPurchases) HasPurchased(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	select {
	case a := <-g.release:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// gatedReviews gates HasReviewed and keeps created reviews in memory.
type gatedReviews struct {
	release chan answer

	mu      sync.Mutex
	created []model.Review
	err     error
}

func (g *gatedReviews) HasReviewed(ctx context.Context, _, _ uuid.UUID) (bool, error) {
	select {
	case a := <-g.release:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (g *gatedReviews) Create(_ context.Context, review model.Review) (model.Review, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return model.Review{}, g.err
	}
	g.created = append(g.created, review)
	return review, nil
}

func (g *gatedReviews) ListByProduct(_ context.Context, productID uuid.UUID) ([]model.Review, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.Review
	for _, r := range g.created {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *gatedReviews) RatingsByProduct(context.Context, uuid.UUID) ([]int, error) { return nil, nil }

func (g *gatedReviews) RatingsBySeller(context.Context, uuid.UUID) ([]int, error) { return nil, nil }

func newGated() (*gatedPurchases, *gatedReviews) {
	return &gatedPurchases{release: make(chan answer, 1)}, &gatedReviews{release: make(chan answer, 1)}
}

// eligibleStores answers one eligibility check with purchased and not yet
// reviewed.
func eligibleStores(t *testing.T) (*mocks.PurchaseStore, *mocks.ReviewStore) {
	purchases := mocks.NewPurchaseStore(t)
	reviews := mocks.NewReviewStore(t)
	purchases.On("HasPurchased", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	reviews.On("HasReviewed", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()
	return purchases, reviews
}

type result struct {
	ok  bool
	err error
}

func TestGate_CanReviewWaitsForBothReads(t *testing.T) {
	tests := []struct {
		name          string
		purchased     bool
		reviewed      bool
		purchaseFirst bool
		expected      bool
	}{
		{name: "purchased, not reviewed, purchase first", purchased: true, purchaseFirst: true, expected: true},
		{name: "purchased, not reviewed, review first", purchased: true, expected: true},
		{name: "purchased and reviewed, purchase first", purchased: true, reviewed: true, purchaseFirst: true},
		{name: "purchased and reviewed, review first", purchased: true, reviewed: true},
		{name: "not purchased, purchase first", purchaseFirst: true},
		{name: "not purchased, review first"},
		{name: "not purchased but reviewed", reviewed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purchases, reviews := newGated()
			gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

			done := make(chan result, 1)
			go func() {
				ok, err := gate.CanReview(context.Background(), uuid.New(), uuid.New())
				done <- result{ok: ok, err: err}
			}()

			first := func() { purchases.release <- answer{ok: tt.purchased} }
			second := func() { reviews.release <- answer{ok: tt.reviewed} }
			if !tt.purchaseFirst {
				first, second = second, first
			}

			first()
			select {
			case r := <-done:
				t.Fatalf("resolved after a single read: %+v", r)
			case <-time.After(30 * time.Millisecond):
			}

			second()
			select {
			case r := <-done:
				require.NoError(t, r.err)
				assert.Equal(t, tt.expected, r.ok)
			case <-time.After(time.Second):
				t.Fatal("never resolved")
			}
		})
	}
}

func TestGate_CanReviewReadFailure(t *testing.T) {
	purchases := mocks.NewPurchaseStore(t)
	reviews := mocks.NewReviewStore(t)
	userID, productID := uuid.New(), uuid.New()

	purchases.On("HasPurchased", mock.Anything, userID, productID).Return(true, nil)
	reviews.On("HasReviewed", mock.Anything, userID, productID).Return(false, assert.AnError)

	gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())
	ok, err := gate.CanReview(context.Background(), userID, productID)

	assert.False(t, ok)
	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGate_CanReviewWithoutIdentity(t *testing.T) {
	gate := NewGate(mocks.NewPurchaseStore(t), mocks.NewReviewStore(t), mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

	ok, err := gate.CanReview(context.Background(), uuid.Nil, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_SubmitFlipsEligibilityWithoutRefetch(t *testing.T) {
	purchases := mocks.NewPurchaseStore(t)
	reviews := mocks.NewReviewStore(t)
	user, p1 := uuid.New(), uuid.New()

	purchases.On("HasPurchased", mock.Anything, user, p1).Return(true, nil).Twice()
	reviews.On("HasReviewed", mock.Anything, user, p1).Return(false, nil).Twice()
	reviews.On("Create", mock.Anything, mock.MatchedBy(func(r model.Review) bool {
		return r.UserID == user && r.ProductID == p1 && r.Rating == 5 && r.Comment == "Batiknya halus"
	})).Return(func(_ context.Context, r model.Review) model.Review { return r }, nil).Once()

	gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

	ok, err := gate.CanReview(context.Background(), user, p1)
	require.NoError(t, err)
	require.True(t, ok)

	created, err := gate.Submit(context.Background(), model.ReviewInput{
		ProductID: p1,
		UserID:    user,
		Rating:    5,
		Comment:   "  Batiknya halus  ",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Empty(t, created.ImageURL)

	ok, err = gate.CanReview(context.Background(), user, p1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   model.ReviewInput
		field   string
		message string
	}{
		{name: "rating too low", input: model.ReviewInput{Rating: 0, Comment: "ok"}, field: "rating", message: msgRatingRange},
		{name: "rating too high", input: model.ReviewInput{Rating: 6, Comment: "ok"}, field: "rating", message: msgRatingRange},
		{name: "empty comment", input: model.ReviewInput{Rating: 4, Comment: "   "}, field: "comment", message: msgEmptyComment},
		{name: "markup only comment", input: model.ReviewInput{Rating: 4, Comment: "<script>alert(1)</script>"}, field: "comment", message: msgEmptyComment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(mocks.NewPurchaseStore(t), mocks.NewReviewStore(t), mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

			_, err := gate.Submit(context.Background(), tt.input)

			var validation *model.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)
			assert.Equal(t, tt.message, model.UserMessage(err))
		})
	}
}

func TestGate_SubmitSanitizesComment(t *testing.T) {
	purchases, reviews := eligibleStores(t)
	reviews.On("Create", mock.Anything, mock.MatchedBy(func(r model.Review) bool {
		return r.Comment == "Bagus, it's lovely"
	})).Return(model.Review{}, nil).Once()

	gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())
	_, err := gate.Submit(context.Background(), model.ReviewInput{
		UserID:    uuid.New(),
		ProductID: uuid.New(),
		Rating:    4,
		Comment:   "<b>Bagus</b>, it's lovely",
	})
	require.NoError(t, err)
}

func TestGate_SubmitWithImage(t *testing.T) {
	purchases, reviews := eligibleStores(t)
	blobs := mocks.NewBlobStorage(t)
	user := uuid.New()
	at := time.UnixMilli(1700000000123)
	expectedPath := user.String() + "/1700000000123.png"

	blobs.On("Upload", mock.Anything, "reviews", expectedPath, mock.Anything, int64(3), "image/png").Return(nil).Once()
	blobs.On("PublicURL", "reviews", expectedPath).Return("http://cdn/reviews/" + expectedPath).Once()
	reviews.On("Create", mock.Anything, mock.MatchedBy(func(r model.Review) bool {
		return r.ImageURL == "http://cdn/reviews/"+expectedPath
	})).Return(func(_ context.Context, r model.Review) model.Review { return r }, nil).Once()

	gate := NewGate(purchases, reviews, blobs, testutil.MakeNoopLogger(), WithBucket("reviews"))
	gate.now = func() time.Time { return at }

	created, err := gate.Submit(context.Background(), model.ReviewInput{
		UserID:    user,
		ProductID: uuid.New(),
		Rating:    3,
		Comment:   "Warnanya pas",
		Image:     &model.Upload{Name: "Foto.PNG", ContentType: "image/png", Size: 3, Body: bytes.NewReader([]byte{1, 2, 3})},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn/reviews/"+expectedPath, created.ImageURL)
}

func TestGate_SubmitImageUploadFailure(t *testing.T) {
	purchases, reviews := eligibleStores(t)
	blobs := mocks.NewBlobStorage(t)
	blobs.On("Upload", mock.Anything, DefaultBucket, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError).Once()

	gate := NewGate(purchases, reviews, blobs, testutil.MakeNoopLogger())
	_, err := gate.Submit(context.Background(), model.ReviewInput{
		UserID:  uuid.New(),
		Rating:  5,
		Comment: "Mantap",
		Image:   &model.Upload{Name: "foto", Size: -1, Body: bytes.NewReader(nil)},
	})

	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestGate_SubmitFailureRemovesImage(t *testing.T) {
	purchases, reviews := eligibleStores(t)
	blobs := mocks.NewBlobStorage(t)

	blobs.On("Upload", mock.Anything, DefaultBucket, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	blobs.On("PublicURL", DefaultBucket, mock.Anything).Return("http://cdn/x.jpg").Once()
	blobs.On("Delete", mock.Anything, DefaultBucket, mock.MatchedBy(func(p string) bool {
		return len(p) > 4 && p[len(p)-4:] == ".jpg"
	})).Return(nil).Once()
	reviews.On("Create", mock.Anything, mock.Anything).Return(model.Review{}, assert.AnError).Once()

	gate := NewGate(purchases, reviews, blobs, testutil.MakeNoopLogger())
	_, err := gate.Submit(context.Background(), model.ReviewInput{
		UserID:  uuid.New(),
		Rating:  5,
		Comment: "Mantap",
		Image:   &model.Upload{Name: "foto", Size: 0, Body: bytes.NewReader(nil)},
	})

	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, assert.AnError.Error(), model.UserMessage(err))
}

func TestGate_SubmitDuplicate(t *testing.T) {
	purchases, reviews := eligibleStores(t)
	user, product := uuid.New(), uuid.New()

	reviews.On("Create", mock.Anything, mock.Anything).Return(model.Review{}, model.ErrDuplicate).Once()

	gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())
	_, err := gate.Submit(context.Background(), model.ReviewInput{UserID: user, ProductID: product, Rating: 2, Comment: "Kurang"})

	var permission *model.PermissionError
	require.ErrorAs(t, err, &permission)
	assert.Equal(t, msgAlreadyWrote, permission.Message)

	ok, err := gate.CanReview(context.Background(), user, product)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_SubmitRechecksEligibility(t *testing.T) {
	tests := []struct {
		name      string
		purchased bool
		reviewed  bool
		message   string
	}{
		{name: "never purchased", message: msgNotEligible},
		{name: "never purchased but reviewed", reviewed: true, message: msgNotEligible},
		{name: "already reviewed", purchased: true, reviewed: true, message: msgAlreadyWrote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purchases := mocks.NewPurchaseStore(t)
			reviews := mocks.NewReviewStore(t)
			user, product := uuid.New(), uuid.New()
			purchases.On("HasPurchased", mock.Anything, user, product).Return(tt.purchased, nil).Once()
			reviews.On("HasReviewed", mock.Anything, user, product).Return(tt.reviewed, nil).Once()

			// no Create and no Upload expectations: nothing may be written
			gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())
			_, err := gate.Submit(context.Background(), model.ReviewInput{
				UserID:    user,
				ProductID: product,
				Rating:    5,
				Comment:   "Bagus sekali",
				Image:     &model.Upload{Name: "foto.jpg", Size: 1, Body: bytes.NewReader([]byte{1})},
			})

			var permission *model.PermissionError
			require.ErrorAs(t, err, &permission)
			assert.Equal(t, tt.message, permission.Message)
		})
	}
}

func TestGate_SubmitWithoutIdentity(t *testing.T) {
	gate := NewGate(mocks.NewPurchaseStore(t), mocks.NewReviewStore(t), mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

	_, err := gate.Submit(context.Background(), model.ReviewInput{ProductID: uuid.New(), Rating: 5, Comment: "Bagus"})

	var permission *model.PermissionError
	require.ErrorAs(t, err, &permission)
	assert.Equal(t, msgSignInToReview, permission.Message)
}

func TestGate_SubmitEligibilityReadFailure(t *testing.T) {
	purchases := mocks.NewPurchaseStore(t)
	reviews := mocks.NewReviewStore(t)
	purchases.On("HasPurchased", mock.Anything, mock.Anything, mock.Anything).Return(false, assert.AnError).Once()
	reviews.On("HasReviewed", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Maybe()

	gate := NewGate(purchases, reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())
	_, err := gate.Submit(context.Background(), model.ReviewInput{UserID: uuid.New(), ProductID: uuid.New(), Rating: 5, Comment: "Bagus"})

	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGate_Ratings(t *testing.T) {
	reviews := mocks.NewReviewStore(t)
	product, seller := uuid.New(), uuid.New()

	reviews.On("RatingsByProduct", mock.Anything, product).Return([]int{5, 4, 4}, nil).Once()
	reviews.On("RatingsBySeller", mock.Anything, seller).Return(nil, assert.AnError).Once()

	gate := NewGate(mocks.NewPurchaseStore(t), reviews, mocks.NewBlobStorage(t), testutil.MakeNoopLogger())

	summary, err := gate.ProductRating(context.Background(), product)
	require.NoError(t, err)
	assert.Equal(t, "4.3", summary.String())
	assert.Equal(t, 3, summary.Count)

	_, err = gate.SellerRating(context.Background(), seller)
	var transport *model.TransportError
	require.ErrorAs(t, err, &transport)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		ratings  []int
		expected string
		count    int
	}{
		{name: "no ratings", ratings: nil, expected: "no reviews"},
		{name: "single", ratings: []int{5}, expected: "5.0", count: 1},
		{name: "half", ratings: []int{4, 5}, expected: "4.5", count: 2},
		{name: "repeating", ratings: []int{5, 4, 4}, expected: "4.3", count: 3},
		{name: "rounds half up", ratings: []int{5, 4, 4, 4}, expected: "4.3", count: 4},
		{name: "low", ratings: []int{1, 2}, expected: "1.5", count: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.ratings)
			assert.Equal(t, tt.expected, s.String())
			assert.Equal(t, tt.count, s.Count)
		})
	}
}
