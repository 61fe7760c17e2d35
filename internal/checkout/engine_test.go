package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
	"github.com/mypharma/pharmacy-core/internal/domain/rbac"
	"github.com/mypharma/pharmacy-core/internal/store"
	"github.com/mypharma/pharmacy-core/internal/store/memory"
)

var engNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func user(id string) rbac.Actor {
	return rbac.Actor{ID: id, Role: rbac.RoleRegisteredUser, Status: rbac.StatusActive}
}

var admin = rbac.Actor{ID: "admin-1", Role: rbac.RolePharmacyAdmin, Status: rbac.StatusActive}

// flakySink lets a test fail the event write to exercise rollback.
type flakySink struct {
	inner store.EventSink
	fail  bool
}

func (f *flakySink) Emit(ctx context.Context, ev event.Event) error {
	if f.fail {
		return errors.New("event sink unavailable")
	}
	return f.inner.Emit(ctx, ev)
}

type fixture struct {
	eng  *Engine
	mem  *memory.Store
	sink *flakySink
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	mem.SeedProduct(catalog.Product{ID: "para-500", Name: "Paracetamol 500mg", Price: dec("60"), Stock: 100, IsActive: true, LowStockThreshold: 5})
	mem.SeedProduct(catalog.Product{ID: "amox-250", Name: "Amoxicillin 250mg", Price: dec("120"), Stock: 50, RequiresPrescription: true, IsActive: true, LowStockThreshold: 5})
	mem.SeedProduct(catalog.Product{ID: "vit-c", Name: "Vitamin C 500mg", Price: dec("49.99"), Stock: 30, IsActive: true})
	mem.SeedProduct(catalog.Product{ID: "saline", Name: "Normal Saline 1L", Price: dec("50"), Stock: 20, IsActive: true})

	f := &fixture{mem: mem, now: engNow}
	f.sink = &flakySink{inner: mem}
	f.eng = NewEngine(
		mem, mem.Prescriptions(), mem.Orders(), memory.NewTx(mem), f.sink,
		DefaultConfig(), zap.NewNop(),
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seedRx(t *testing.T, id, userID string, status prescription.Status, items ...prescription.Item) {
	t.Helper()
	p := &prescription.Prescription{
		ID:              id,
		UserID:          userID,
		FileRef:         "s3://prescriptions/" + id + ".pdf",
		Status:          status,
		DoctorName:      "Dr. Rahman",
		DoctorRegNumber: "BMDC-41233",
		HasSignature:    true,
		Items:           items,
		Version:         1,
		CreatedAt:       engNow,
	}
	if err := f.mem.Prescriptions().Create(context.Background(), p); err != nil {
		t.Fatalf("seed prescription: %v", err)
	}
}

func (f *fixture) place(t *testing.T, actor rbac.Actor, in PlaceOrderInput) *order.Order {
	t.Helper()
	o, err := f.eng.PlaceOrder(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return o
}

func otcInput(lines ...Line) PlaceOrderInput {
	return PlaceOrderInput{
		Items:           lines,
		ShippingAddress: "12 Green Road, Dhaka",
		PaymentMethod:   order.PaymentCOD,
		DeliveryZone:    ZoneCity,
	}
}

func TestPlaceOrderOTC(t *testing.T) {
	f := newFixture(t)

	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))

	if o.Status != order.StatusPlaced {
		t.Errorf("status = %s, want PLACED", o.Status)
	}
	if !o.Subtotal.Equal(dec("120")) {
		t.Errorf("subtotal = %s, want 120", o.Subtotal)
	}
	if !o.DeliveryFee.Equal(dec("50")) {
		t.Errorf("delivery fee = %s, want 50 (city)", o.DeliveryFee)
	}
	if !o.Total().Equal(dec("170")) {
		t.Errorf("total = %s, want 170", o.Total())
	}
	if o.Payment.Status != order.PaymentSuccess {
		t.Errorf("COD payment status = %s, want SUCCESS", o.Payment.Status)
	}
	if !o.ItemsUnopened {
		t.Error("new order must start unopened")
	}

	p, err := f.mem.GetProduct(context.Background(), "para-500")
	if err != nil {
		t.Fatal(err)
	}
	if p.Stock != 98 {
		t.Errorf("stock = %d, want 98", p.Stock)
	}

	evs := f.mem.Events()
	if len(evs) != 1 || evs[0].Type != event.OrderPlaced {
		t.Fatalf("events = %v, want one order.placed", evs)
	}
	if evs[0].EntityID != o.ID {
		t.Errorf("event entity = %s, want %s", evs[0].EntityID, o.ID)
	}
}

func TestPlaceOrderMinimumValue(t *testing.T) {
	f := newFixture(t)

	// 2 x 49.99 sits just under the 100 minimum.
	_, err := f.eng.PlaceOrder(context.Background(), user("u1"),
		otcInput(Line{ProductID: "vit-c", Quantity: 2}))
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("subtotal 99.98: got %v, want ValidationError", err)
	}

	// 2 x 50 meets it exactly; the minimum is inclusive.
	f.place(t, user("u1"), otcInput(Line{ProductID: "saline", Quantity: 2}))
}

func TestPlaceOrderInputValidation(t *testing.T) {
	f := newFixture(t)
	base := otcInput(Line{ProductID: "para-500", Quantity: 2})

	tests := []struct {
		name   string
		mutate func(*PlaceOrderInput)
	}{
		{"no items", func(in *PlaceOrderInput) { in.Items = nil }},
		{"zero quantity", func(in *PlaceOrderInput) { in.Items[0].Quantity = 0 }},
		{"missing address", func(in *PlaceOrderInput) { in.ShippingAddress = "" }},
		{"unknown payment method", func(in *PlaceOrderInput) { in.PaymentMethod = "PAYPAL" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Items = append([]Line(nil), base.Items...)
			tt.mutate(&in)
			_, err := f.eng.PlaceOrder(context.Background(), user("u1"), in)
			var ve *errs.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestPlaceOrderGuestDenied(t *testing.T) {
	f := newFixture(t)
	guest := rbac.Actor{Role: rbac.RoleGuest, Status: rbac.StatusActive}
	_, err := f.eng.PlaceOrder(context.Background(), guest,
		otcInput(Line{ProductID: "para-500", Quantity: 2}))
	var ae *errs.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v, want AuthorizationError", err)
	}
}

func TestPlaceOrderPrescriptionGate(t *testing.T) {
	f := newFixture(t)
	f.seedRx(t, "rx-pending", "u1", prescription.StatusPending)
	f.seedRx(t, "rx-rejected", "u1", prescription.StatusRejected)
	f.seedRx(t, "rx-used", "u1", prescription.StatusUsed,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})
	f.seedRx(t, "rx-foreign", "u2", prescription.StatusApproved,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})

	in := otcInput(Line{ProductID: "amox-250", Quantity: 2})

	tests := []struct {
		name string
		rxID string
		// required distinguishes "supply a valid prescription" responses
		// from illegal-state usage of a consumed or rejected one.
		required bool
	}{
		{"no prescription supplied", "", true},
		{"prescription not found", "rx-missing", true},
		{"still pending", "rx-pending", true},
		{"owned by someone else", "rx-foreign", true},
		{"already used", "rx-used", false},
		{"rejected", "rx-rejected", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := in
			req.PrescriptionID = tt.rxID
			_, err := f.eng.PlaceOrder(context.Background(), user("u1"), req)
			if tt.required {
				var pr *errs.PrescriptionRequiredError
				if !errors.As(err, &pr) {
					t.Errorf("got %v, want PrescriptionRequiredError", err)
				}
				return
			}
			var se *errs.StateError
			if !errors.As(err, &se) {
				t.Errorf("got %v, want StateError", err)
			}
		})
	}
}

func TestPlaceOrderMedicineMismatch(t *testing.T) {
	f := newFixture(t)
	// The prescription covers a different medicine than the one ordered.
	f.seedRx(t, "rx-1", "u1", prescription.StatusApproved,
		prescription.Item{ProductID: "some-other-med", QuantityPrescribed: 10})

	in := otcInput(Line{ProductID: "amox-250", Quantity: 2})
	in.PrescriptionID = "rx-1"
	_, err := f.eng.PlaceOrder(context.Background(), user("u1"), in)
	var mm *errs.MedicineMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("got %v, want MedicineMismatchError", err)
	}
}

func TestPlaceOrderQuantityAggregatesAcrossLines(t *testing.T) {
	f := newFixture(t)
	f.seedRx(t, "rx-1", "u1", prescription.StatusApproved,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})

	// 6 + 5 across two lines exceeds the prescribed 10 even though each
	// line alone is within it.
	in := otcInput(
		Line{ProductID: "amox-250", Quantity: 6},
		Line{ProductID: "amox-250", Quantity: 5},
	)
	in.PrescriptionID = "rx-1"
	_, err := f.eng.PlaceOrder(context.Background(), user("u1"), in)
	var qe *errs.QuantityExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("got %v, want QuantityExceededError", err)
	}
	if qe.Ordered != 11 || qe.Prescribed != 10 {
		t.Errorf("ordered/prescribed = %d/%d, want 11/10", qe.Ordered, qe.Prescribed)
	}

	// 6 + 4 fits.
	in.Items = []Line{
		{ProductID: "amox-250", Quantity: 6},
		{ProductID: "amox-250", Quantity: 4},
	}
	f.place(t, user("u1"), in)
}

func TestPlaceOrderConsumesPrescription(t *testing.T) {
	f := newFixture(t)
	f.seedRx(t, "rx-1", "u1", prescription.StatusApproved,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})

	in := otcInput(Line{ProductID: "amox-250", Quantity: 2})
	in.PrescriptionID = "rx-1"
	o := f.place(t, user("u1"), in)

	rx, err := f.mem.Prescriptions().Get(context.Background(), "rx-1")
	if err != nil {
		t.Fatal(err)
	}
	if rx.Status != prescription.StatusUsed {
		t.Errorf("prescription status = %s, want USED", rx.Status)
	}
	if rx.UsedByOrderID != o.ID {
		t.Errorf("used_by_order_id = %s, want %s", rx.UsedByOrderID, o.ID)
	}
	if o.PrescriptionID != "rx-1" {
		t.Errorf("order prescription = %s, want rx-1", o.PrescriptionID)
	}

	// The same prescription cannot back a second order.
	_, err = f.eng.PlaceOrder(context.Background(), user("u1"), in)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("second use: got %v, want StateError", err)
	}
}

func TestPlaceOrderIgnoresPrescriptionForOTCOnly(t *testing.T) {
	f := newFixture(t)
	f.seedRx(t, "rx-1", "u1", prescription.StatusApproved,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})

	in := otcInput(Line{ProductID: "para-500", Quantity: 2})
	in.PrescriptionID = "rx-1"
	o := f.place(t, user("u1"), in)

	if o.PrescriptionID != "" {
		t.Errorf("OTC order recorded prescription %s", o.PrescriptionID)
	}
	rx, _ := f.mem.Prescriptions().Get(context.Background(), "rx-1")
	if rx.Status != prescription.StatusApproved {
		t.Errorf("prescription was consumed: %s", rx.Status)
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.PlaceOrder(context.Background(), user("u1"),
		otcInput(Line{ProductID: "para-500", Quantity: 101}))
	var se *errs.StockError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StockError", err)
	}
	if se.Requested != 101 || se.Available != 100 {
		t.Errorf("requested/available = %d/%d, want 101/100", se.Requested, se.Available)
	}
}

func TestPlaceOrderRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.seedRx(t, "rx-1", "u1", prescription.StatusApproved,
		prescription.Item{ProductID: "amox-250", QuantityPrescribed: 10})
	f.sink.fail = true

	in := otcInput(Line{ProductID: "amox-250", Quantity: 2})
	in.PrescriptionID = "rx-1"
	if _, err := f.eng.PlaceOrder(context.Background(), user("u1"), in); err == nil {
		t.Fatal("expected failure from event sink")
	}

	// Nothing the transaction wrote may survive.
	p, _ := f.mem.GetProduct(context.Background(), "amox-250")
	if p.Stock != 50 {
		t.Errorf("stock = %d, want 50 after rollback", p.Stock)
	}
	rx, _ := f.mem.Prescriptions().Get(context.Background(), "rx-1")
	if rx.Status != prescription.StatusApproved {
		t.Errorf("prescription = %s, want APPROVED after rollback", rx.Status)
	}
	orders, _ := f.mem.Orders().ListByUser(context.Background(), "u1", 10, 0)
	if len(orders) != 0 {
		t.Errorf("found %d orders after rollback", len(orders))
	}
	if evs := f.mem.Events(); len(evs) != 0 {
		t.Errorf("found %d events after rollback", len(evs))
	}
}

func TestAdvanceLifecycle(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))

	for _, target := range []order.Status{
		order.StatusVerified, order.StatusPacked, order.StatusShipped, order.StatusDelivered,
	} {
		updated, err := f.eng.Advance(context.Background(), admin, o.ID, target)
		if err != nil {
			t.Fatalf("advance to %s: %v", target, err)
		}
		if updated.Status != target {
			t.Fatalf("status = %s, want %s", updated.Status, target)
		}
	}

	final, _ := f.mem.Orders().Get(context.Background(), o.ID)
	if final.DeliveredAt == nil || !final.DeliveredAt.Equal(engNow) {
		t.Errorf("delivered_at = %v, want %v", final.DeliveredAt, engNow)
	}

	// A skipped step is rejected.
	o2 := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))
	_, err := f.eng.Advance(context.Background(), admin, o2.ID, order.StatusShipped)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("skip step: got %v, want StateError", err)
	}
}

func TestAdvanceUserMayOnlyCancel(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))

	// The owner cannot move the order forward.
	_, err := f.eng.Advance(context.Background(), user("u1"), o.ID, order.StatusVerified)
	var ae *errs.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("forward by owner: got %v, want AuthorizationError", err)
	}

	// A stranger cannot cancel it.
	_, err = f.eng.Advance(context.Background(), user("u2"), o.ID, order.StatusCancelled)
	if !errors.As(err, &ae) {
		t.Fatalf("cancel by stranger: got %v, want AuthorizationError", err)
	}

	// The owner can cancel before shipping.
	updated, err := f.eng.Advance(context.Background(), user("u1"), o.ID, order.StatusCancelled)
	if err != nil {
		t.Fatalf("cancel by owner: %v", err)
	}
	if updated.Status != order.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", updated.Status)
	}
}

func TestAdvanceNoCancelAfterShipping(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))
	for _, target := range []order.Status{order.StatusVerified, order.StatusPacked, order.StatusShipped} {
		if _, err := f.eng.Advance(context.Background(), admin, o.ID, target); err != nil {
			t.Fatal(err)
		}
	}
	_, err := f.eng.Advance(context.Background(), admin, o.ID, order.StatusCancelled)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StateError", err)
	}
}

func TestReturnEligibility(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))

	// Not delivered yet.
	err := f.eng.ReturnEligibility(context.Background(), user("u1"), o.ID)
	var rw *errs.ReturnWindowError
	if !errors.As(err, &rw) {
		t.Fatalf("undelivered: got %v, want ReturnWindowError", err)
	}

	for _, target := range []order.Status{
		order.StatusVerified, order.StatusPacked, order.StatusShipped, order.StatusDelivered,
	} {
		if _, err := f.eng.Advance(context.Background(), admin, o.ID, target); err != nil {
			t.Fatal(err)
		}
	}

	// Exactly at the window boundary is still eligible.
	f.now = engNow.Add(7 * 24 * time.Hour)
	if err := f.eng.ReturnEligibility(context.Background(), user("u1"), o.ID); err != nil {
		t.Errorf("at boundary: %v", err)
	}

	// One hour past, the window has closed.
	f.now = engNow.Add(7*24*time.Hour + time.Hour)
	err = f.eng.ReturnEligibility(context.Background(), user("u1"), o.ID)
	if !errors.As(err, &rw) {
		t.Errorf("past window: got %v, want ReturnWindowError", err)
	}
}

func TestGatewayCallback(t *testing.T) {
	f := newFixture(t)
	in := otcInput(Line{ProductID: "para-500", Quantity: 2})
	in.PaymentMethod = order.PaymentBkash
	o := f.place(t, user("u1"), in)
	if o.Payment.Status != order.PaymentInitiated {
		t.Fatalf("gateway payment starts %s, want INITIATED", o.Payment.Status)
	}

	res := GatewayResult{TransactionID: "TXN-1", OrderID: o.ID, Status: order.PaymentSuccess}
	if err := f.eng.HandleGatewayCallback(context.Background(), res); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	settled, _ := f.mem.Orders().Get(context.Background(), o.ID)
	if settled.Payment.Status != order.PaymentSuccess || settled.Payment.GatewayTxnID != "TXN-1" {
		t.Fatalf("payment = %+v, want SUCCESS via TXN-1", settled.Payment)
	}
	eventsAfterFirst := len(f.mem.Events())

	// Replaying the same transaction id is a silent no-op.
	if err := f.eng.HandleGatewayCallback(context.Background(), res); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := len(f.mem.Events()); got != eventsAfterFirst {
		t.Errorf("replay emitted events: %d -> %d", eventsAfterFirst, got)
	}

	// A different transaction id against a settled payment conflicts.
	res.TransactionID = "TXN-2"
	err := f.eng.HandleGatewayCallback(context.Background(), res)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("conflicting txn: got %v, want StateError", err)
	}

	// Missing transaction id is rejected up front.
	err = f.eng.HandleGatewayCallback(context.Background(), GatewayResult{OrderID: o.ID, Status: order.PaymentSuccess})
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty txn id: got %v, want ValidationError", err)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))

	if _, err := f.eng.GetOrder(context.Background(), user("u1"), o.ID); err != nil {
		t.Errorf("owner: %v", err)
	}
	if _, err := f.eng.GetOrder(context.Background(), admin, o.ID); err != nil {
		t.Errorf("admin: %v", err)
	}
	_, err := f.eng.GetOrder(context.Background(), user("u2"), o.ID)
	var ae *errs.AuthorizationError
	if !errors.As(err, &ae) {
		t.Errorf("stranger: got %v, want AuthorizationError", err)
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.place(t, user("u1"), otcInput(Line{ProductID: "para-500", Quantity: 2}))
	f.place(t, user("u1"), otcInput(Line{ProductID: "saline", Quantity: 2}))
	f.place(t, user("u2"), otcInput(Line{ProductID: "para-500", Quantity: 3}))

	orders, err := f.eng.ListOrders(context.Background(), user("u1"), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	for _, o := range orders {
		if o.UserID != "u1" {
			t.Errorf("leaked order of %s", o.UserID)
		}
	}
}
