package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is a snapshot of a listing taken when it was added to the cart.
// Listings are one-of-a-kind, so there is no quantity.
type CartItem struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Description string          `json:"description"`
}

// KeyValueStore is durable device-local storage. Calls are synchronous.
type KeyValueStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}
