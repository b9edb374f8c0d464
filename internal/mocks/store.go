package mocks

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dtroode/kurasi/internal/model"
)

func register(m *mock.Mock, t mock.TestingT) {
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
}

// UserStore is a mock of model.UserStore.
type UserStore struct {
	mock.Mock
}

var _ model.UserStore = (*UserStore)(nil)

func NewUserStore(t mock.TestingT) *UserStore {
	m := &UserStore{}
	register(&m.Mock, t)
	return m
}

func (m *UserStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserStore) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.User), args.Error(1)
}

func (m *UserStore) Create(ctx context.Context, user model.User) (model.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(model.User), args.Error(1)
}

// ProfileStore is a mock of model.ProfileStore.
type ProfileStore struct {
	mock.Mock
}

var _ model.ProfileStore = (*ProfileStore)(nil)

func NewProfileStore(t mock.TestingT) *ProfileStore {
	m := &ProfileStore{}
	register(&m.Mock, t)
	return m
}

func (m *ProfileStore) GetByID(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Profile), args.Error(1)
}

func (m *ProfileStore) Create(ctx context.Context, profile model.Profile) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *ProfileStore) Update(ctx context.Context, profile model.Profile) error {
	return m.Called(ctx, profile).Error(0)
}

// ReviewStore is a mock of model.ReviewStore.
type ReviewStore struct {
	mock.Mock
}

var _ model.ReviewStore = (*ReviewStore)(nil)

func NewReviewStore(t mock.TestingT) *ReviewStore {
	m := &ReviewStore{}
	register(&m.Mock, t)
	return m
}

func (m *ReviewStore) HasReviewed(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

func (m *ReviewStore) Create(ctx context.Context, review model.Review) (model.Review, error) {
	args := m.Called(ctx, review)
	if fn, ok := args.Get(0).(func(context.Context, model.Review) model.Review); ok {
		return fn(ctx, review), args.Error(1)
	}
	return args.Get(0).(model.Review), args.Error(1)
}

func (m *ReviewStore) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.Review, error) {
	args := m.Called(ctx, productID)
	reviews, _ := args.Get(0).([]model.Review)
	return reviews, args.Error(1)
}

func (m *ReviewStore) RatingsByProduct(ctx context.Context, productID uuid.UUID) ([]int, error) {
	args := m.Called(ctx, productID)
	ratings, _ := args.Get(0).([]int)
	return ratings, args.Error(1)
}

func (m *ReviewStore) RatingsBySeller(ctx context.Context, sellerID uuid.UUID) ([]int, error) {
	args := m.Called(ctx, sellerID)
	ratings, _ := args.Get(0).([]int)
	return ratings, args.Error(1)
}

// PurchaseStore is a mock of model.PurchaseStore.
type PurchaseStore struct {
	mock.Mock
}

var _ model.PurchaseStore = (*PurchaseStore)(nil)

func NewPurchaseStore(t mock.TestingT) *PurchaseStore {
	m := &PurchaseStore{}
	register(&m.Mock, t)
	return m
}

func (m *PurchaseStore) HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

// OrderStore is a mock of model.OrderStore.
type OrderStore struct {
	mock.Mock
}

var _ model.OrderStore = (*OrderStore)(nil)

func NewOrderStore(t mock.TestingT) *OrderStore {
	m := &OrderStore{}
	register(&m.Mock, t)
	return m
}

func (m *OrderStore) Create(ctx context.Context, order model.Order) (model.Order, error) {
	args := m.Called(ctx, order)
	if fn, ok := args.Get(0).(func(context.Context, model.Order) model.Order); ok {
		return fn(ctx, order), args.Error(1)
	}
	return args.Get(0).(model.Order), args.Error(1)
}

func (m *OrderStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	args := m.Called(ctx, userID)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Error(1)
}

// BlobStorage is a mock of model.BlobStorage.
type BlobStorage struct {
	mock.Mock
}

var _ model.BlobStorage = (*BlobStorage)(nil)

func NewBlobStorage(t mock.TestingT) *BlobStorage {
	m := &BlobStorage{}
	register(&m.Mock, t)
	return m
}

func (m *BlobStorage) Upload(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error {
	return m.Called(ctx, bucket, path, body, size, contentType).Error(0)
}

func (m *BlobStorage) Delete(ctx context.Context, bucket, path string) error {
	return m.Called(ctx, bucket, path).Error(0)
}

func (m *BlobStorage) PublicURL(bucket, path string) string {
	return m.Called(bucket, path).String(0)
}
