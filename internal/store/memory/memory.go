// Package memory provides in-memory store implementations with the same
// compare-and-set and transaction semantics as the Postgres stores. Used by
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/consultation"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
	"github.com/mypharma/pharmacy-core/internal/store"
)

// Store is the shared in-memory backing. Per-entity store interfaces are
// exposed through Prescriptions(), Orders(), and Consultations(); Store
// itself implements ProductStore and EventSink.
type Store struct {
	mu            sync.RWMutex
	products      map[string]catalog.Product
	prescriptions map[string]prescription.Prescription
	orders        map[string]order.Order
	consultations map[string]consultation.Consultation
	events        []event.Event
}

// New creates an empty store.
func New() *Store {
	return &Store{
		products:      make(map[string]catalog.Product),
		prescriptions: make(map[string]prescription.Prescription),
		orders:        make(map[string]order.Order),
		consultations: make(map[string]consultation.Consultation),
	}
}

var (
	_ store.ProductStore = (*Store)(nil)
	_ store.EventSink    = (*Store)(nil)
)

// transaction-aware locking: inside WithTransaction the global write lock is
// already held, so individual calls must not re-lock.
type txKey struct{}

func inTx(ctx context.Context) bool {
	v, ok := ctx.Value(txKey{}).(bool)
	return ok && v
}

func (s *Store) rlock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Tx is the in-memory TxManager: a global write lock with snapshot rollback,
// so a failing step undoes every write of the transaction.
type Tx struct{ s *Store }

// NewTx creates a transaction manager over s.
func NewTx(s *Store) *Tx { return &Tx{s: s} }

var _ store.TxManager = (*Tx)(nil)

// WithTransaction implements store.TxManager. Nested calls join the ambient
// transaction.
func (t *Tx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	snap := t.s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	products      map[string]catalog.Product
	prescriptions map[string]prescription.Prescription
	orders        map[string]order.Order
	consultations map[string]consultation.Consultation
	eventCount    int
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		products:      copyMap(s.products),
		prescriptions: copyMap(s.prescriptions),
		orders:        copyMap(s.orders),
		consultations: copyMap(s.consultations),
		eventCount:    len(s.events),
	}
}

func (s *Store) restore(snap snapshot) {
	s.products = snap.products
	s.prescriptions = snap.prescriptions
	s.orders = snap.orders
	s.consultations = snap.consultations
	s.events = s.events[:snap.eventCount]
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- ProductStore ----

// SeedProduct inserts or replaces a product. Bootstrap and test helper.
func (s *Store) SeedProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// GetProduct implements catalog.Lookup.
func (s *Store) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	defer s.rlock(ctx)()
	p, ok := s.products[id]
	if !ok || !p.IsActive {
		return catalog.Product{}, &errs.NotFoundError{Entity: "product", ID: id}
	}
	return p, nil
}

// DecrementStock implements store.ProductStore.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int) error {
	defer s.wlock(ctx)()
	p, ok := s.products[productID]
	if !ok || !p.IsActive {
		return &errs.NotFoundError{Entity: "product", ID: productID}
	}
	if p.Stock < qty {
		return &errs.StockError{ProductID: productID, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	s.products[productID] = p
	return nil
}

// ---- EventSink ----

// Emit implements store.EventSink.
func (s *Store) Emit(ctx context.Context, ev event.Event) error {
	defer s.wlock(ctx)()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all emitted events in emission order.
func (s *Store) Events() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.Event(nil), s.events...)
}

// ---- PrescriptionStore ----

// Prescriptions returns the prescription store view.
func (s *Store) Prescriptions() *Prescriptions { return &Prescriptions{s: s} }

// Prescriptions implements store.PrescriptionStore over Store.
type Prescriptions struct{ s *Store }

var _ store.PrescriptionStore = (*Prescriptions)(nil)

func (ps *Prescriptions) Create(ctx context.Context, p *prescription.Prescription) error {
	defer ps.s.wlock(ctx)()
	ps.s.prescriptions[p.ID] = clonePrescription(*p)
	return nil
}

func (ps *Prescriptions) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	defer ps.s.rlock(ctx)()
	p, ok := ps.s.prescriptions[id]
	if !ok {
		return nil, &errs.NotFoundError{Entity: "prescription", ID: id}
	}
	cp := clonePrescription(p)
	return &cp, nil
}

func (ps *Prescriptions) Update(ctx context.Context, p *prescription.Prescription) error {
	defer ps.s.wlock(ctx)()
	cur, ok := ps.s.prescriptions[p.ID]
	if !ok {
		return &errs.NotFoundError{Entity: "prescription", ID: p.ID}
	}
	if cur.Version != p.Version-1 {
		return &errs.ConcurrentModificationError{Entity: "prescription", ID: p.ID}
	}
	ps.s.prescriptions[p.ID] = clonePrescription(*p)
	return nil
}

func (ps *Prescriptions) ListByUser(ctx context.Context, userID string) ([]*prescription.Prescription, error) {
	defer ps.s.rlock(ctx)()
	var out []*prescription.Prescription
	for _, p := range ps.s.prescriptions {
		if p.UserID == userID {
			cp := clonePrescription(p)
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out, func(p *prescription.Prescription) int64 { return p.CreatedAt.UnixNano() })
	return out, nil
}

func (ps *Prescriptions) ListByStatus(ctx context.Context, status prescription.Status, limit int) ([]*prescription.Prescription, error) {
	defer ps.s.rlock(ctx)()
	var out []*prescription.Prescription
	for _, p := range ps.s.prescriptions {
		if p.Status == status {
			cp := clonePrescription(p)
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out, func(p *prescription.Prescription) int64 { return p.CreatedAt.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePrescription(p prescription.Prescription) prescription.Prescription {
	p.Items = append([]prescription.Item(nil), p.Items...)
	return p
}

// ---- OrderStore ----

// Orders returns the order store view.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Orders implements store.OrderStore over Store.
type Orders struct{ s *Store }

var _ store.OrderStore = (*Orders)(nil)

func (os *Orders) Create(ctx context.Context, o *order.Order) error {
	defer os.s.wlock(ctx)()
	os.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (os *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	defer os.s.rlock(ctx)()
	o, ok := os.s.orders[id]
	if !ok {
		return nil, &errs.NotFoundError{Entity: "order", ID: id}
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (os *Orders) Update(ctx context.Context, o *order.Order) error {
	defer os.s.wlock(ctx)()
	cur, ok := os.s.orders[o.ID]
	if !ok {
		return &errs.NotFoundError{Entity: "order", ID: o.ID}
	}
	if cur.Version != o.Version-1 {
		return &errs.ConcurrentModificationError{Entity: "order", ID: o.ID}
	}
	os.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (os *Orders) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*order.Order, error) {
	defer os.s.rlock(ctx)()
	var out []*order.Order
	for _, o := range os.s.orders {
		if o.UserID == userID {
			cp := cloneOrder(o)
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out, func(o *order.Order) int64 { return o.CreatedAt.UnixNano() })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	o.Payment.AppliedTxnIDs = append([]string(nil), o.Payment.AppliedTxnIDs...)
	return o
}

// ---- ConsultationStore ----

// Consultations returns the consultation store view.
func (s *Store) Consultations() *Consultations { return &Consultations{s: s} }

// Consultations implements store.ConsultationStore over Store.
type Consultations struct{ s *Store }

var _ store.ConsultationStore = (*Consultations)(nil)

func (cs *Consultations) Create(ctx context.Context, c *consultation.Consultation) error {
	defer cs.s.wlock(ctx)()
	cs.s.consultations[c.ID] = *c
	return nil
}

func (cs *Consultations) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	defer cs.s.rlock(ctx)()
	c, ok := cs.s.consultations[id]
	if !ok {
		return nil, &errs.NotFoundError{Entity: "consultation", ID: id}
	}
	cp := c
	return &cp, nil
}

func (cs *Consultations) Update(ctx context.Context, c *consultation.Consultation) error {
	defer cs.s.wlock(ctx)()
	if _, ok := cs.s.consultations[c.ID]; !ok {
		return &errs.NotFoundError{Entity: "consultation", ID: c.ID}
	}
	cs.s.consultations[c.ID] = *c
	return nil
}

func (cs *Consultations) ListByUser(ctx context.Context, userID string) ([]*consultation.Consultation, error) {
	defer cs.s.rlock(ctx)()
	var out []*consultation.Consultation
	for _, c := range cs.s.consultations {
		if c.UserID == userID {
			cp := c
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out, func(c *consultation.Consultation) int64 { return c.CreatedAt.UnixNano() })
	return out, nil
}

func (cs *Consultations) ListPending(ctx context.Context, limit int) ([]*consultation.Consultation, error) {
	defer cs.s.rlock(ctx)()
	var out []*consultation.Consultation
	for _, c := range cs.s.consultations {
		if c.Status == consultation.StatusPending {
			cp := c
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out, func(c *consultation.Consultation) int64 { return c.CreatedAt.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst[T any](xs []T, key func(T) int64) {
	sort.SliceStable(xs, func(i, j int) bool { return key(xs[i]) > key(xs[j]) })
}
