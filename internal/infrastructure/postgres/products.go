package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// ProductStore reads the local product table and performs the stock
// decrement inside the order placement transaction.
type ProductStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewProductStore creates the store.
func NewProductStore(pool *pgxpool.Pool, logger *zap.Logger) *ProductStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductStore{pool: pool, logger: logger}
}

// GetProduct returns one active product. Inactive products are reported as
// not found so delisted medicines cannot be ordered.
func (s *ProductStore) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	query := `
		SELECT id, name, price, stock, requires_prescription, is_active, low_stock_threshold
		FROM products WHERE id = $1
	`
	var p catalog.Product
	err := from(ctx, s.pool).QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.Stock,
		&p.RequiresPrescription, &p.IsActive, &p.LowStockThreshold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Product{}, &errs.NotFoundError{Entity: "product", ID: id}
		}
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	if !p.IsActive {
		return catalog.Product{}, &errs.NotFoundError{Entity: "product", ID: id}
	}
	return p, nil
}

// DecrementStock atomically takes qty units off the shelf. The guard in the
// WHERE clause makes oversell impossible even under concurrent placements.
func (s *ProductStore) DecrementStock(ctx context.Context, productID string, qty int) error {
	query := `
		UPDATE products SET stock = stock - $1
		WHERE id = $2 AND stock >= $1
	`
	tag, err := from(ctx, s.pool).Exec(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var available int
		if err := from(ctx, s.pool).QueryRow(ctx,
			`SELECT stock FROM products WHERE id = $1`, productID).Scan(&available); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &errs.NotFoundError{Entity: "product", ID: productID}
			}
			return fmt.Errorf("read stock: %w", err)
		}
		return &errs.StockError{ProductID: productID, Requested: qty, Available: available}
	}

	var remaining, threshold int
	if err := from(ctx, s.pool).QueryRow(ctx,
		`SELECT stock, low_stock_threshold FROM products WHERE id = $1`, productID).
		Scan(&remaining, &threshold); err == nil && remaining <= threshold {
		s.logger.Warn("product stock low",
			zap.String("product_id", productID),
			zap.Int("remaining", remaining),
			zap.Int("threshold", threshold))
	}
	return nil
}
