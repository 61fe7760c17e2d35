// Package order implements the order record, its payment transaction, and
// the status lifecycle PLACED -> VERIFIED -> PACKED -> SHIPPED -> DELIVERED
// with CANCELLED reachable before shipping.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// Status represents order status
type Status string

const (
	StatusPlaced    Status = "PLACED"
	StatusVerified  Status = "VERIFIED"
	StatusPacked    Status = "PACKED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// forward maps each status to its single legal successor in the chain.
var forward = map[Status]Status{
	StatusPlaced:   StatusVerified,
	StatusVerified: StatusPacked,
	StatusPacked:   StatusShipped,
	StatusShipped:  StatusDelivered,
}

// cancellable lists the statuses CANCELLED is reachable from.
var cancellable = map[Status]bool{
	StatusPlaced:   true,
	StatusVerified: true,
	StatusPacked:   true,
}

// CanTransition reports whether from -> to is a legal move: one step along
// the forward chain, or cancellation before shipping.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return cancellable[from]
	}
	return forward[from] == to
}

// Terminal reports whether no further transitions exist from s.
func Terminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Item is an order line; UnitPrice is captured at placement and never
// re-read from the catalog afterwards.
type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Order is the placed order aggregate. Version backs the compare-and-set
// status updates in the stores.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	Notes           string          `json:"notes,omitempty"`
	Items           []Item          `json:"items"`
	PrescriptionID  string          `json:"prescription_id,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	PaymentFee      decimal.Decimal `json:"payment_fee"`
	Payment         Payment         `json:"payment"`
	ItemsUnopened   bool            `json:"items_unopened"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Total is subtotal plus delivery and payment fees.
func (o *Order) Total() decimal.Decimal {
	return o.Subtotal.Add(o.DeliveryFee).Add(o.PaymentFee)
}

// Advance moves the order to target, enforcing transition legality. The
// caller has already applied the access policy; stores enforce the same move
// as a compare-and-set on the current status.
func (o *Order) Advance(target Status, now time.Time) error {
	if !CanTransition(o.Status, target) {
		return &errs.StateError{Entity: "order", Current: string(o.Status), Attempt: "advance to " + string(target)}
	}
	o.Status = target
	o.UpdatedAt = now.UTC()
	if target == StatusDelivered {
		t := now.UTC()
		o.DeliveredAt = &t
	}
	o.Version++
	return nil
}

// ReturnEligible reports whether a return may be initiated: delivered within
// the window, items still unopened.
func (o *Order) ReturnEligible(now time.Time, window time.Duration) error {
	if o.Status != StatusDelivered || o.DeliveredAt == nil {
		return &errs.ReturnWindowError{OrderID: o.ID, Reason: "order has not been delivered"}
	}
	if now.Sub(*o.DeliveredAt) > window {
		return &errs.ReturnWindowError{OrderID: o.ID, Reason: "return window has closed"}
	}
	if !o.ItemsUnopened {
		return &errs.ReturnWindowError{OrderID: o.ID, Reason: "items are not marked unopened"}
	}
	return nil
}
