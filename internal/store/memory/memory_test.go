package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
)

func seedOrder(t *testing.T, s *Store, id, userID string) {
	t.Helper()
	o := &order.Order{
		ID:        id,
		UserID:    userID,
		Status:    order.StatusPlaced,
		Subtotal:  decimal.NewFromInt(200),
		CreatedAt: time.Now(),
	}
	if err := s.Orders().Create(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func TestOrderUpdateComparesVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedOrder(t, s, "o1", "u1")

	// Two readers load version 0; only the first writer may land.
	a, _ := s.Orders().Get(ctx, "o1")
	b, _ := s.Orders().Get(ctx, "o1")

	a.Status = order.StatusVerified
	a.Version++
	if err := s.Orders().Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}

	b.Status = order.StatusCancelled
	b.Version++
	err := s.Orders().Update(ctx, b)
	var cm *errs.ConcurrentModificationError
	if !errors.As(err, &cm) {
		t.Fatalf("second update: got %v, want ConcurrentModificationError", err)
	}

	cur, _ := s.Orders().Get(ctx, "o1")
	if cur.Status != order.StatusVerified {
		t.Errorf("status = %s, want VERIFIED (loser must not overwrite)", cur.Status)
	}
}

func TestPrescriptionUpdateComparesVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &prescription.Prescription{ID: "rx1", UserID: "u1", Status: prescription.StatusPending}
	if err := s.Prescriptions().Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	stale := *p
	p.Status = prescription.StatusApproved
	p.Version++
	if err := s.Prescriptions().Update(ctx, p); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale.Status = prescription.StatusRejected
	stale.Version++
	err := s.Prescriptions().Update(ctx, &stale)
	var cm *errs.ConcurrentModificationError
	if !errors.As(err, &cm) {
		t.Fatalf("stale update: got %v, want ConcurrentModificationError", err)
	}
}

func TestDecrementStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SeedProduct(catalog.Product{ID: "p1", Price: decimal.NewFromInt(10), Stock: 5, IsActive: true})

	if err := s.DecrementStock(ctx, "p1", 3); err != nil {
		t.Fatal(err)
	}
	err := s.DecrementStock(ctx, "p1", 3)
	var se *errs.StockError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StockError", err)
	}
	if se.Available != 2 {
		t.Errorf("available = %d, want 2", se.Available)
	}

	_, err = s.GetProduct(ctx, "missing")
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("got %v, want NotFoundError", err)
	}
}

func TestGetProductHidesInactive(t *testing.T) {
	s := New()
	s.SeedProduct(catalog.Product{ID: "p1", Stock: 5, IsActive: false})
	_, err := s.GetProduct(context.Background(), "p1")
	var nf *errs.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want NotFoundError for inactive product", err)
	}
}

func TestTransactionRollsBackAllWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SeedProduct(catalog.Product{ID: "p1", Stock: 10, IsActive: true})
	seedOrder(t, s, "o1", "u1")

	boom := errors.New("boom")
	err := NewTx(s).WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.DecrementStock(ctx, "p1", 4); err != nil {
			return err
		}
		seedOrder(t, s, "o2", "u1")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	p, _ := s.GetProduct(ctx, "p1")
	if p.Stock != 10 {
		t.Errorf("stock = %d, want 10 after rollback", p.Stock)
	}
	if _, err := s.Orders().Get(ctx, "o2"); err == nil {
		t.Error("order o2 survived rollback")
	}
}

func TestTransactionCommitKeepsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SeedProduct(catalog.Product{ID: "p1", Stock: 10, IsActive: true})

	err := NewTx(s).WithTransaction(ctx, func(ctx context.Context) error {
		return s.DecrementStock(ctx, "p1", 4)
	})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.Stock != 6 {
		t.Errorf("stock = %d, want 6", p.Stock)
	}
}

func TestNestedTransactionJoins(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SeedProduct(catalog.Product{ID: "p1", Stock: 10, IsActive: true})

	tx := NewTx(s)
	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		// The inner call must join rather than deadlock, and its writes
		// roll back with the outer failure.
		return tx.WithTransaction(ctx, func(ctx context.Context) error {
			if err := s.DecrementStock(ctx, "p1", 4); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatal(err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.Stock != 10 {
		t.Errorf("stock = %d, want 10", p.Stock)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedOrder(t, s, "o1", "u1")

	a, _ := s.Orders().Get(ctx, "o1")
	a.Status = order.StatusCancelled

	b, _ := s.Orders().Get(ctx, "o1")
	if b.Status != order.StatusPlaced {
		t.Error("mutating a read leaked into the store")
	}
}
