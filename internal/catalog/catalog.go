// Package catalog models the product catalog at its lookup boundary. The
// core reads prices, stock, and the prescription flag; catalog CRUD itself
// lives elsewhere.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is the read model the validation engine resolves per order line.
type Product struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Price                decimal.Decimal `json:"price"`
	Stock                int             `json:"stock"`
	RequiresPrescription bool            `json:"requires_prescription"`
	IsActive             bool            `json:"is_active"`
	LowStockThreshold    int             `json:"low_stock_threshold"`
}

// IsLowStock reports whether stock has reached the restock threshold.
func (p Product) IsLowStock() bool { return p.Stock <= p.LowStockThreshold }

// Lookup resolves products by id. Implementations must return
// *errs.NotFoundError for unknown or inactive products and
// *errs.DependencyTimeoutError when the backing service does not answer in
// time.
type Lookup interface {
	GetProduct(ctx context.Context, id string) (Product, error)
}
