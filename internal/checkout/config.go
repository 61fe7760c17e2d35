package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mypharma/pharmacy-core/internal/domain/order"
)

// Delivery zones recognised by the fee table. Unknown zones price as
// ZoneOther.
const (
	ZoneCity   = "city"
	ZoneSuburb = "suburb"
	ZoneOther  = "other"
)

// Config carries the business constants the validation engine enforces.
// Injected at construction so tests can vary them per case.
type Config struct {
	// MinOrderValue is the minimum subtotal (before fees), inclusive.
	MinOrderValue decimal.Decimal
	// FreeDeliveryAbove waives the delivery fee once subtotal reaches it.
	FreeDeliveryAbove decimal.Decimal
	// DeliveryFees maps zone to base fee.
	DeliveryFees map[string]decimal.Decimal
	// PaymentFeeRates maps gateway methods to their subtotal fraction.
	PaymentFeeRates map[order.PaymentMethod]decimal.Decimal
	// ReturnWindow is how long after delivery a return may be initiated.
	ReturnWindow time.Duration
}

// DefaultConfig returns the platform defaults (amounts in BDT).
func DefaultConfig() Config {
	return Config{
		MinOrderValue:     decimal.NewFromInt(100),
		FreeDeliveryAbove: decimal.NewFromInt(500),
		DeliveryFees: map[string]decimal.Decimal{
			ZoneCity:   decimal.NewFromInt(50),
			ZoneSuburb: decimal.NewFromInt(100),
			ZoneOther:  decimal.NewFromInt(150),
		},
		PaymentFeeRates: map[order.PaymentMethod]decimal.Decimal{
			order.PaymentBkash: decimal.RequireFromString("0.015"),
			order.PaymentNagad: decimal.RequireFromString("0.015"),
		},
		ReturnWindow: 7 * 24 * time.Hour,
	}
}

// DeliveryFee prices the zone, waiving the fee entirely once the subtotal
// reaches the free-delivery threshold.
func (c Config) DeliveryFee(subtotal decimal.Decimal, zone string) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(c.FreeDeliveryAbove) {
		return decimal.Zero
	}
	if fee, ok := c.DeliveryFees[zone]; ok {
		return fee
	}
	return c.DeliveryFees[ZoneOther]
}

// PaymentFee computes the method surcharge, rounded to the currency's two
// minor-unit digits. COD carries no fee.
func (c Config) PaymentFee(subtotal decimal.Decimal, method order.PaymentMethod) decimal.Decimal {
	rate, ok := c.PaymentFeeRates[method]
	if !ok {
		return decimal.Zero
	}
	return subtotal.Mul(rate).Round(2)
}
