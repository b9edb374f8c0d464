package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dtroode/kurasi/internal/model"
)

var (
	_ model.OrderStore    = (*OrderRepository)(nil)
	_ model.PurchaseStore = (*OrderRepository)(nil)
)

// purchasedStatuses are the order states that count as a completed purchase.
var purchasedStatuses = []string{
	string(model.OrderPaid),
	string(model.OrderShipped),
	string(model.OrderCompleted),
}

type OrderRepository struct {
	db *Connection
}

func NewOrderRepository(db *Connection) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create stores the order and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order model.Order) (model.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const orderQuery = `
	INSERT INTO orders (id, user_id, total_amount, shipping_address, status, payment_method, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at`

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	err = tx.QueryRow(ctx, orderQuery,
		order.ID, order.UserID, order.TotalAmount, order.ShippingAddress,
		order.Status, order.PaymentMethod, order.CreatedAt,
	).Scan(&order.CreatedAt)
	if err != nil {
		return model.Order{}, fmt.Errorf("failed to create order: %w", err)
	}

	const lineQuery = `
	INSERT INTO order_items (id, order_id, product_id, quantity, price)
	VALUES ($1, $2, $3, $4, $5)`

	order.Lines = append([]model.OrderLine(nil), order.Lines...)
	batch := &pgx.Batch{}
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.OrderID = order.ID
		batch.Queue(lineQuery, line.ID, line.OrderID, line.ProductID, line.Quantity, line.Price)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return model.Order{}, fmt.Errorf("failed to create order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, fmt.Errorf("failed to commit order: %w", err)
	}

	return order, nil
}

// ListByUser returns the user's orders newest first, each with its lines.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	const query = `
	SELECT o.id, o.user_id, o.total_amount, o.shipping_address, o.status, o.payment_method, o.created_at,
		i.id, i.product_id, COALESCE(p.name, ''), i.quantity, i.price
	FROM orders o
	LEFT JOIN order_items i ON i.order_id = o.id
	LEFT JOIN products p ON p.id = i.product_id
	WHERE o.user_id = $1
	ORDER BY o.created_at DESC, o.id, i.id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			o           model.Order
			lineID      *uuid.UUID
			productID   *uuid.UUID
			productName string
			quantity    *int
			price       decimal.NullDecimal
		)
		err := rows.Scan(
			&o.ID, &o.UserID, &o.TotalAmount, &o.ShippingAddress, &o.Status, &o.PaymentMethod, &o.CreatedAt,
			&lineID, &productID, &productName, &quantity, &price,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		pos, ok := index[o.ID]
		if !ok {
			pos = len(orders)
			index[o.ID] = pos
			orders = append(orders, o)
		}
		if lineID == nil {
			continue
		}

		line := model.OrderLine{
			ID:          *lineID,
			OrderID:     o.ID,
			ProductID:   *productID,
			ProductName: productName,
			Quantity:    *quantity,
			Price:       price.Decimal,
		}
		orders[pos].Lines = append(orders[pos].Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	return orders, nil
}

// HasPurchased reports whether userID holds at least one order line for
// productID in a purchased state.
func (r *OrderRepository) HasPurchased(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	const query = `
	SELECT EXISTS (
		SELECT 1 FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.product_id = $1 AND o.user_id = $2 AND o.status = ANY($3)
	)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, productID, userID, purchasedStatuses).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check purchase: %w", err)
	}
	return exists, nil
}
