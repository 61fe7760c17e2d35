package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPlaced, StatusVerified, true},
		{StatusVerified, StatusPacked, true},
		{StatusPacked, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPlaced, StatusPacked, false},
		{StatusPlaced, StatusDelivered, false},
		{StatusDelivered, StatusVerified, false},
		{StatusPlaced, StatusCancelled, true},
		{StatusVerified, StatusCancelled, true},
		{StatusPacked, StatusCancelled, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusVerified, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusPlaced:    false,
		StatusShipped:   false,
		StatusDelivered: true,
		StatusCancelled: true,
	} {
		if Terminal(s) != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, !want, want)
		}
	}
}

func TestAdvance(t *testing.T) {
	o := &Order{ID: "o1", Status: StatusShipped, Version: 3}
	if err := o.Advance(StatusDelivered, now); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if o.Status != StatusDelivered || o.DeliveredAt == nil || !o.DeliveredAt.Equal(now) {
		t.Errorf("delivery not recorded: %+v", o)
	}
	if o.Version != 4 {
		t.Errorf("version = %d, want 4", o.Version)
	}

	err := o.Advance(StatusCancelled, now)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError cancelling delivered order, got %v", err)
	}
}

func TestReturnEligible(t *testing.T) {
	window := 7 * 24 * time.Hour
	delivered := now.Add(-3 * 24 * time.Hour)

	base := func() *Order {
		return &Order{ID: "o1", Status: StatusDelivered, DeliveredAt: &delivered, ItemsUnopened: true}
	}

	if err := base().ReturnEligible(now, window); err != nil {
		t.Fatalf("expected eligible: %v", err)
	}

	o := base()
	o.ItemsUnopened = false
	if err := o.ReturnEligible(now, window); err == nil {
		t.Error("opened items passed eligibility")
	}

	o = base()
	late := now.Add(-8 * 24 * time.Hour)
	o.DeliveredAt = &late
	if err := o.ReturnEligible(now, window); err == nil {
		t.Error("expired window passed eligibility")
	}

	// Exactly at the window boundary is still eligible.
	o = base()
	edge := now.Add(-window)
	o.DeliveredAt = &edge
	if err := o.ReturnEligible(now, window); err != nil {
		t.Errorf("boundary delivery rejected: %v", err)
	}

	o = base()
	o.Status = StatusShipped
	o.DeliveredAt = nil
	var rw *errs.ReturnWindowError
	if err := o.ReturnEligible(now, window); !errors.As(err, &rw) {
		t.Errorf("expected ReturnWindowError for undelivered order, got %v", err)
	}
}

func TestNewPayment(t *testing.T) {
	if p := NewPayment(PaymentCOD); p.Status != PaymentSuccess {
		t.Errorf("COD status = %s, want SUCCESS", p.Status)
	}
	if p := NewPayment(PaymentBkash); p.Status != PaymentInitiated {
		t.Errorf("BKASH status = %s, want INITIATED", p.Status)
	}
	if p := NewPayment(PaymentNagad); p.Status != PaymentInitiated {
		t.Errorf("NAGAD status = %s, want INITIATED", p.Status)
	}
}

func TestApplyGatewayResultIdempotent(t *testing.T) {
	p := NewPayment(PaymentBkash)

	applied, err := p.ApplyGatewayResult("txn-1", PaymentSuccess)
	if err != nil || !applied {
		t.Fatalf("first apply: applied=%v err=%v", applied, err)
	}
	if p.Status != PaymentSuccess || p.GatewayTxnID != "txn-1" {
		t.Errorf("unexpected payment state: %+v", p)
	}

	// Replay of the same transaction id is a no-op.
	applied, err = p.ApplyGatewayResult("txn-1", PaymentSuccess)
	if err != nil || applied {
		t.Fatalf("replay: applied=%v err=%v", applied, err)
	}

	// A different transaction against a settled payment conflicts.
	_, err = p.ApplyGatewayResult("txn-2", PaymentFailed)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestApplyGatewayResultValidatesStatus(t *testing.T) {
	p := NewPayment(PaymentNagad)
	_, err := p.ApplyGatewayResult("txn-1", PaymentPending)
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTotal(t *testing.T) {
	o := &Order{
		Subtotal:    dec("450.00"),
		DeliveryFee: dec("50.00"),
		PaymentFee:  dec("6.75"),
	}
	if got := o.Total(); !got.Equal(dec("506.75")) {
		t.Errorf("total = %s, want 506.75", got)
	}
}
