package model

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod enumerates the offline payment options.
type PaymentMethod string

const (
	PaymentManualTransfer PaymentMethod = "manual_transfer"
	PaymentCashOnDelivery PaymentMethod = "cod"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentManualTransfer || m == PaymentCashOnDelivery
}

// OrderStatus enumerates order states.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderCompleted OrderStatus = "completed"
)

// Order is a placed order with its lines.
type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	TotalAmount     decimal.Decimal
	ShippingAddress string
	Status          OrderStatus
	PaymentMethod   PaymentMethod
	CreatedAt       time.Time
	Lines           []OrderLine
}

// OrderLine is one purchased listing. Quantity is always 1.
type OrderLine struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

// OrderStore defines persistence operations for orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) (Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
}
