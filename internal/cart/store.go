// Package cart keeps the device-local shopping cart.
package cart

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

// DefaultKey is the storage key the cart is persisted under.
const DefaultKey = "kurasi_cart"

// Store is the cart. Every effective mutation is followed by exactly one
// synchronous write of the whole cart to the key-value store.
type Store struct {
	kv     model.KeyValueStore
	key    string
	logger *logger.Logger

	mu       sync.Mutex
	items    []model.CartItem
	open     bool
	degraded bool
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// New creates a Store rehydrated from kv. Missing or unreadable data yields
// an empty cart.
func New(kv model.KeyValueStore, logger *logger.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.items = s.load()
	return s
}

func (s *Store) load() []model.CartItem {
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		s.logger.Warn("Cart: failed to read stored cart",
			"key", s.key,
			"error", err.Error())
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var stored []model.CartItem
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("Cart: stored cart is corrupt, starting empty",
			"key", s.key,
			"error", err.Error())
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(stored))
	items := make([]model.CartItem, 0, len(stored))
	for _, it := range stored {
		if _, dup := seen[it.ID]; dup || validate(it) != nil {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return items
}

func validate(item model.CartItem) error {
	if item.ID == uuid.Nil {
		return model.NewValidationError("id", "Item has no identifier")
	}
	if item.Price.IsNegative() {
		return model.NewValidationError("price", "Item price cannot be negative")
	}
	return nil
}

// AddItem appends item unless an item with the same ID is already present.
func (s *Store) AddItem(item model.CartItem) error {
	if err := validate(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(item.ID) >= 0 {
		return nil
	}
	s.items = append(s.items, item)
	s.persistLocked()
	return nil
}

// RemoveItem drops the item with id. Absent ids are ignored.
func (s *Store) RemoveItem(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.persistLocked()
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return
	}
	s.items = nil
	s.persistLocked()
}

func (s *Store) indexLocked(id uuid.UUID) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked() {
	if s.degraded {
		return
	}

	items := s.items
	if items == nil {
		items = []model.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err == nil {
		err = s.kv.Set(s.key, string(raw))
	}
	if err != nil {
		s.degraded = true
		s.logger.Error("Cart: failed to persist cart, continuing in memory",
			"key", s.key,
			"error", fmt.Errorf("failed to write cart: %w", err).Error())
	}
}

// Items returns the cart contents in insertion order.
func (s *Store) Items() []model.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CartItem(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Contains(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(id) >= 0
}

// Total is the sum of item prices, computed on every call.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, it := range s.items {
		total = total.Add(it.Price)
	}
	return total
}

// FormatTotal renders Total as Indonesian Rupiah.
func (s *Store) FormatTotal() string {
	return FormatRupiah(s.Total())
}

// ToggleVisibility flips the cart drawer state and returns the new value.
func (s *Store) ToggleVisibility() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
	return s.open
}

func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Store) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
}
