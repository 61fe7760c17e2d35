package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
)

// OrderStore persists orders. Items and the payment transaction travel with
// the order row as JSONB; money columns are NUMERIC.
type OrderStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewOrderStore creates the store.
func NewOrderStore(pool *pgxpool.Pool, logger *zap.Logger) *OrderStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderStore{pool: pool, logger: logger}
}

const orderColumns = `
	id, user_id, status, shipping_address, notes, items, prescription_id,
	subtotal, delivery_fee, payment_fee, payment,
	items_unopened, delivered_at, version, created_at, updated_at
`

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	payment, err := json.Marshal(o.Payment)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = from(ctx, s.pool).Exec(ctx, query,
		o.ID, o.UserID, o.Status, o.ShippingAddress, o.Notes, items, nullable(o.PrescriptionID),
		o.Subtotal, o.DeliveryFee, o.PaymentFee, payment,
		o.ItemsUnopened, o.DeliveredAt, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get returns one order by id.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(from(ctx, s.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &errs.NotFoundError{Entity: "order", ID: id}
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// Update writes an order back, keyed on the previous version.
func (s *OrderStore) Update(ctx context.Context, o *order.Order) error {
	payment, err := json.Marshal(o.Payment)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $1, payment = $2, items_unopened = $3,
		    delivered_at = $4, updated_at = $5, version = $6
		WHERE id = $7 AND version = $8
	`
	tag, err := from(ctx, s.pool).Exec(ctx, query,
		o.Status, payment, o.ItemsUnopened,
		o.DeliveredAt, o.UpdatedAt, o.Version,
		o.ID, o.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &errs.ConcurrentModificationError{Entity: "order", ID: o.ID}
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*order.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := from(ctx, s.pool).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o              order.Order
		items          []byte
		payment        []byte
		prescriptionID *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.ShippingAddress, &o.Notes, &items, &prescriptionID,
		&o.Subtotal, &o.DeliveryFee, &o.PaymentFee, &payment,
		&o.ItemsUnopened, &o.DeliveredAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if prescriptionID != nil {
		o.PrescriptionID = *prescriptionID
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(payment, &o.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &o, nil
}
