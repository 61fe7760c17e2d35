// Package store declares the persistence contracts the services depend on.
// Implementations: internal/infrastructure/postgres (pgx) and
// internal/store/memory (tests, local development).
package store

import (
	"context"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/consultation"
	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
)

// PrescriptionStore persists prescription records. Update is a
// compare-and-set keyed on the previous version: the stored row must be at
// p.Version-1 or the call fails with *errs.ConcurrentModificationError.
type PrescriptionStore interface {
	Create(ctx context.Context, p *prescription.Prescription) error
	Get(ctx context.Context, id string) (*prescription.Prescription, error)
	Update(ctx context.Context, p *prescription.Prescription) error
	ListByUser(ctx context.Context, userID string) ([]*prescription.Prescription, error)
	ListByStatus(ctx context.Context, status prescription.Status, limit int) ([]*prescription.Prescription, error)
}

// OrderStore persists orders together with their items and payment
// transaction. Update carries the same compare-and-set contract as
// PrescriptionStore.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	Update(ctx context.Context, o *order.Order) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*order.Order, error)
}

// ProductStore is the catalog lookup plus the transactional stock decrement
// the order placement pipeline coordinates with. DecrementStock fails with
// *errs.StockError when qty exceeds availability.
type ProductStore interface {
	catalog.Lookup
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// ConsultationStore persists consultation requests.
type ConsultationStore interface {
	Create(ctx context.Context, c *consultation.Consultation) error
	Get(ctx context.Context, id string) (*consultation.Consultation, error)
	Update(ctx context.Context, c *consultation.Consultation) error
	ListByUser(ctx context.Context, userID string) ([]*consultation.Consultation, error)
	ListPending(ctx context.Context, limit int) ([]*consultation.Consultation, error)
}

// EventSink records a logical event alongside the state change producing it.
// The Postgres implementation writes a transactional-outbox row inside the
// ambient transaction; delivery happens asynchronously in the relay.
type EventSink interface {
	Emit(ctx context.Context, ev event.Event) error
}

// TxManager runs fn inside a single transaction; every store call made with
// the ctx passed to fn joins it. Any error aborts the whole transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
