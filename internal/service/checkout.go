package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

const (
	msgEmptyCart      = "Your cart is empty"
	msgNoAddress      = "Please provide a shipping address"
	msgBadPayment     = "Please choose a payment method"
	msgSignInRequired = "You must be signed in to place an order"
)

// Cart is the part of the cart store checkout reads and drains.
type Cart interface {
	Items() []model.CartItem
	RemoveItem(id uuid.UUID)
}

// CheckoutRequest is the checkout form as submitted.
type CheckoutRequest struct {
	ShippingAddress string
	PaymentMethod   model.PaymentMethod
}

// Checkout turns the cart into a paid order.
type Checkout struct {
	orders model.OrderStore
	logger *logger.Logger
}

func NewCheckout(orders model.OrderStore, logger *logger.Logger) *Checkout {
	return &Checkout{orders: orders, logger: logger}
}

// PlaceOrder validates the request, stores the order with one line per cart
// item and removes the ordered items from the cart. Items added while the
// order is being stored stay in the cart. The cart is left untouched on any
// failure.
func (c *Checkout) PlaceOrder(ctx context.Context, session *model.Session, cart Cart, req CheckoutRequest) (model.Order, error) {
	if session == nil {
		return model.Order{}, model.NewPermissionError(msgSignInRequired)
	}

	items := cart.Items()
	if len(items) == 0 {
		return model.Order{}, model.NewValidationError("cart", msgEmptyCart)
	}

	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" && session.Profile != nil {
		address = strings.TrimSpace(session.Profile.Address)
	}
	if address == "" {
		return model.Order{}, model.NewValidationError("shipping_address", msgNoAddress)
	}

	if !req.PaymentMethod.Valid() {
		return model.Order{}, model.NewValidationError("payment_method", msgBadPayment)
	}

	orderID := uuid.New()
	total := decimal.Zero
	lines := make([]model.OrderLine, 0, len(items))
	for _, item := range items {
		total = total.Add(item.Price)
		lines = append(lines, model.OrderLine{
			ID:          uuid.New(),
			OrderID:     orderID,
			ProductID:   item.ID,
			ProductName: item.Name,
			Quantity:    1,
			Price:       item.Price,
		})
	}

	order, err := c.orders.Create(ctx, model.Order{
		ID:              orderID,
		UserID:          session.ID,
		TotalAmount:     total,
		ShippingAddress: address,
		Status:          model.OrderPaid,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       time.Now(),
		Lines:           lines,
	})
	if err != nil {
		c.logger.Error("Checkout: failed to create order",
			"user_id", session.ID,
			"items", len(items),
			"error", err.Error())
		return model.Order{}, model.NewTransportError("place order", err)
	}

	for _, item := range items {
		cart.RemoveItem(item.ID)
	}

	c.logger.Info("Checkout: order placed",
		"order_id", order.ID,
		"user_id", session.ID,
		"total", order.TotalAmount.String())

	return order, nil
}

// History returns the orders of the signed-in user, newest first.
func (c *Checkout) History(ctx context.Context, session *model.Session) ([]model.Order, error) {
	if session == nil {
		return nil, model.NewPermissionError(msgSignInRequired)
	}

	orders, err := c.orders.ListByUser(ctx, session.ID)
	if err != nil {
		return nil, model.NewTransportError("list orders", fmt.Errorf("failed to list orders: %w", err))
	}
	return orders, nil
}
