// Package checkout implements the order validation engine: the single choke
// point every order-creation request passes through, plus the order status
// and payment callback operations that follow from it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
	"github.com/mypharma/pharmacy-core/internal/domain/rbac"
	"github.com/mypharma/pharmacy-core/internal/store"
)

// Engine validates and commits order operations. All writes of one operation
// share a single transaction; a failure anywhere rolls everything back.
type Engine struct {
	products      store.ProductStore
	prescriptions store.PrescriptionStore
	orders        store.OrderStore
	tx            store.TxManager
	events        store.EventSink
	policy        *rbac.Policy
	cfg           Config
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewEngine wires the validation engine.
func NewEngine(
	products store.ProductStore,
	prescriptions store.PrescriptionStore,
	orders store.OrderStore,
	tx store.TxManager,
	events store.EventSink,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		products:      products,
		prescriptions: prescriptions,
		orders:        orders,
		tx:            tx,
		events:        events,
		policy:        rbac.NewPolicy(),
		cfg:           cfg,
		logger:        logger,
		tracer:        otel.Tracer("checkout-engine"),
		now:           time.Now,
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Line is one requested order line.
type Line struct {
	ProductID string
	Quantity  int
}

// PlaceOrderInput is the order-creation request.
type PlaceOrderInput struct {
	Items           []Line
	ShippingAddress string
	Notes           string
	PrescriptionID  string
	PaymentMethod   order.PaymentMethod
	DeliveryZone    string
}

// PlaceOrder runs the full validation pipeline and commits the order, its
// payment transaction, the stock decrements, and the prescription USED flip
// in one transaction.
func (e *Engine) PlaceOrder(ctx context.Context, actor rbac.Actor, in PlaceOrderInput) (*order.Order, error) {
	ctx, span := e.tracer.Start(ctx, "place_order",
		trace.WithAttributes(attribute.Int("lines", len(in.Items))))
	defer span.End()

	if err := e.policy.Authorize(actor, rbac.ActionPlaceOrder, actor.ID); err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, &errs.ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	for _, l := range in.Items {
		if l.ProductID == "" || l.Quantity <= 0 {
			return nil, &errs.ValidationError{Field: "items", Reason: "each line needs a product and a positive quantity"}
		}
	}
	if in.ShippingAddress == "" {
		return nil, &errs.ValidationError{Field: "shipping_address", Reason: "required"}
	}
	if !order.ValidMethod(in.PaymentMethod) {
		return nil, &errs.ValidationError{Field: "payment_method", Reason: "must be COD, BKASH, or NAGAD"}
	}

	var placed *order.Order
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := e.validateAndBuild(ctx, actor, in)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", actor.ID),
		zap.String("total", placed.Total().String()),
		zap.Bool("prescription", placed.PrescriptionID != ""),
	)
	span.SetAttributes(attribute.String("order_id", placed.ID))
	return placed, nil
}

// validateAndBuild is steps 1-8 of the pipeline, run inside the transaction.
func (e *Engine) validateAndBuild(ctx context.Context, actor rbac.Actor, in PlaceOrderInput) (*order.Order, error) {
	now := e.now()

	// Resolve products and aggregate quantities per product up front: the
	// prescribed-quantity limit and the stock decrement both apply to the
	// sum across lines, not per line.
	products := make(map[string]catalog.Product)
	aggregate := make(map[string]int)
	for _, l := range in.Items {
		if _, ok := products[l.ProductID]; !ok {
			p, err := e.products.GetProduct(ctx, l.ProductID)
			if err != nil {
				return nil, err
			}
			products[l.ProductID] = p
		}
		aggregate[l.ProductID] += l.Quantity
	}

	for id, qty := range aggregate {
		if p := products[id]; p.Stock < qty {
			return nil, &errs.StockError{ProductID: id, Requested: qty, Available: p.Stock}
		}
	}

	subtotal := decimal.Zero
	items := make([]order.Item, 0, len(in.Items))
	for _, l := range in.Items {
		p := products[l.ProductID]
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		items = append(items, order.Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
		})
	}
	if subtotal.LessThan(e.cfg.MinOrderValue) {
		return nil, &errs.ValidationError{
			Field:  "subtotal",
			Reason: fmt.Sprintf("order subtotal %s is below the minimum %s", subtotal, e.cfg.MinOrderValue),
		}
	}

	rx, err := e.checkPrescription(ctx, actor, in.PrescriptionID, products, aggregate)
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		ID:              uuid.New().String(),
		UserID:          actor.ID,
		Status:          order.StatusPlaced,
		ShippingAddress: in.ShippingAddress,
		Notes:           in.Notes,
		Items:           items,
		Subtotal:        subtotal,
		DeliveryFee:     e.cfg.DeliveryFee(subtotal, in.DeliveryZone),
		PaymentFee:      e.cfg.PaymentFee(subtotal, in.PaymentMethod),
		Payment:         order.NewPayment(in.PaymentMethod),
		ItemsUnopened:   true,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	for id, qty := range aggregate {
		if err := e.products.DecrementStock(ctx, id, qty); err != nil {
			return nil, err
		}
	}

	if rx != nil {
		if err := rx.MarkUsed(o.ID, actor.ID); err != nil {
			return nil, err
		}
		if err := e.prescriptions.Update(ctx, rx); err != nil {
			return nil, err
		}
		o.PrescriptionID = rx.ID
	}

	if err := e.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	ev, err := event.New(event.OrderPlaced, o.ID, string(o.Status), o)
	if err != nil {
		return nil, err
	}
	if err := e.events.Emit(ctx, ev); err != nil {
		return nil, err
	}
	return o, nil
}

// checkPrescription enforces the Rx gate: when any product requires a
// prescription, an APPROVED prescription owned by the actor must cover every
// such product with enough prescribed quantity for the aggregate ordered
// amount. Returns the prescription to consume, or nil when none is needed.
func (e *Engine) checkPrescription(
	ctx context.Context,
	actor rbac.Actor,
	prescriptionID string,
	products map[string]catalog.Product,
	aggregate map[string]int,
) (*prescription.Prescription, error) {
	var rxProducts []string
	for id, p := range products {
		if p.RequiresPrescription {
			rxProducts = append(rxProducts, id)
		}
	}
	sort.Strings(rxProducts)
	if len(rxProducts) == 0 {
		// A prescription supplied for an OTC-only order is ignored, not
		// consumed.
		return nil, nil
	}

	if prescriptionID == "" {
		return nil, &errs.PrescriptionRequiredError{ProductID: rxProducts[0], Reason: "no prescription supplied"}
	}

	rx, err := e.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil, &errs.PrescriptionRequiredError{ProductID: rxProducts[0], Reason: "prescription not found"}
		}
		return nil, err
	}
	if rx.UserID != actor.ID {
		return nil, &errs.PrescriptionRequiredError{ProductID: rxProducts[0], Reason: "prescription is not owned by you"}
	}
	switch rx.Status {
	case prescription.StatusApproved:
	case prescription.StatusUsed, prescription.StatusRejected:
		// Already consumed or rejected: an illegal-state usage rather than a
		// missing prescription.
		return nil, &errs.StateError{Entity: "prescription", Current: string(rx.Status), Attempt: "use"}
	default:
		return nil, &errs.PrescriptionRequiredError{ProductID: rxProducts[0], Reason: "prescription is not approved"}
	}

	prescribed := rx.ItemQuantities()
	for _, id := range rxProducts {
		limit, listed := prescribed[id]
		if !listed {
			return nil, &errs.MedicineMismatchError{ProductID: id, ProductName: products[id].Name}
		}
		if aggregate[id] > limit {
			return nil, &errs.QuantityExceededError{ProductID: id, Ordered: aggregate[id], Prescribed: limit}
		}
	}
	return rx, nil
}

// Advance moves the order's status. Pharmacy and super admins may take any
// legal step along the chain (or cancel before shipping); the owning user
// may only cancel, and only before shipping. A concurrent conflicting
// transition loses with a StateError, never a silent overwrite.
func (e *Engine) Advance(ctx context.Context, actor rbac.Actor, orderID string, target order.Status) (*order.Order, error) {
	ctx, span := e.tracer.Start(ctx, "advance_order",
		trace.WithAttributes(
			attribute.String("order_id", orderID),
			attribute.String("target", string(target)),
		))
	defer span.End()

	var updated *order.Order
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := e.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}

		if rbac.IsOrderManager(actor.Role) {
			if err := e.policy.Authorize(actor, rbac.ActionAdvanceOrder, o.UserID); err != nil {
				return err
			}
		} else {
			if target != order.StatusCancelled {
				return &errs.AuthorizationError{Role: string(actor.Role), Action: string(rbac.ActionAdvanceOrder)}
			}
			if err := e.policy.Authorize(actor, rbac.ActionCancelOrder, o.UserID); err != nil {
				return err
			}
		}

		if err := o.Advance(target, e.now()); err != nil {
			return err
		}
		if err := e.orders.Update(ctx, o); err != nil {
			var conflict *errs.ConcurrentModificationError
			if errors.As(err, &conflict) {
				// Someone else moved the order first; the precondition this
				// transition was based on is stale.
				return &errs.StateError{Entity: "order", Current: "stale", Attempt: "advance to " + string(target)}
			}
			return err
		}

		evType := event.OrderStatusChanged
		if target == order.StatusCancelled {
			evType = event.OrderCancelled
		}
		ev, err := event.New(evType, o.ID, string(o.Status), nil)
		if err != nil {
			return err
		}
		if err := e.events.Emit(ctx, ev); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.Info("order status changed",
		zap.String("order_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("actor", actor.ID),
	)
	return updated, nil
}

// ReturnEligibility checks whether the actor may initiate a return for the
// order: delivered within the return window, items unopened. The return
// record itself is processed outside this core.
func (e *Engine) ReturnEligibility(ctx context.Context, actor rbac.Actor, orderID string) error {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := e.policy.Authorize(actor, rbac.ActionReturnOrder, o.UserID); err != nil {
		return err
	}
	return o.ReturnEligible(e.now(), e.cfg.ReturnWindow)
}

// GetOrder returns one order visible to the actor: its owner or an order
// manager.
func (e *Engine) GetOrder(ctx context.Context, actor rbac.Actor, orderID string) (*order.Order, error) {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Authorize(actor, rbac.ActionViewOrder, o.UserID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns the actor's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, actor rbac.Actor, limit, offset int) ([]*order.Order, error) {
	if err := e.policy.Authorize(actor, rbac.ActionViewOrder, actor.ID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return e.orders.ListByUser(ctx, actor.ID, limit, offset)
}

// GatewayResult is the payload the payment gateway webhook delivers.
type GatewayResult struct {
	TransactionID string
	OrderID       string
	Status        order.PaymentStatus
}

// HandleGatewayCallback applies a gateway settlement to the matching payment
// transaction. Idempotent on TransactionID: replays do not double-apply.
func (e *Engine) HandleGatewayCallback(ctx context.Context, res GatewayResult) error {
	ctx, span := e.tracer.Start(ctx, "gateway_callback",
		trace.WithAttributes(
			attribute.String("order_id", res.OrderID),
			attribute.String("txn_id", res.TransactionID),
		))
	defer span.End()

	if res.TransactionID == "" {
		return &errs.ValidationError{Field: "transaction_id", Reason: "required"}
	}

	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := e.orders.Get(ctx, res.OrderID)
		if err != nil {
			return err
		}
		applied, err := o.Payment.ApplyGatewayResult(res.TransactionID, res.Status)
		if err != nil {
			return err
		}
		if !applied {
			e.logger.Info("gateway callback replayed, ignoring",
				zap.String("order_id", res.OrderID),
				zap.String("txn_id", res.TransactionID))
			return nil
		}
		o.Version++
		if err := e.orders.Update(ctx, o); err != nil {
			return err
		}
		ev, err := event.New(event.PaymentUpdated, o.ID, string(o.Payment.Status), nil)
		if err != nil {
			return err
		}
		return e.events.Emit(ctx, ev)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}
