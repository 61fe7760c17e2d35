package order

import "github.com/mypharma/pharmacy-core/internal/domain/errs"

// PaymentMethod is how the buyer pays.
type PaymentMethod string

const (
	PaymentCOD   PaymentMethod = "COD"
	PaymentBkash PaymentMethod = "BKASH"
	PaymentNagad PaymentMethod = "NAGAD"
)

// ValidMethod reports whether m is a supported payment method.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case PaymentCOD, PaymentBkash, PaymentNagad:
		return true
	}
	return false
}

// Gateway reports whether the method settles through an external gateway
// rather than on delivery.
func (m PaymentMethod) Gateway() bool { return m == PaymentBkash || m == PaymentNagad }

// PaymentStatus is the payment transaction lifecycle.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is the transaction created alongside the order. COD settles
// synchronously; gateway methods stay INITIATED until the webhook confirms.
type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	GatewayTxnID  string        `json:"gateway_txn_id,omitempty"`
	// Set once a gateway callback has been applied; replays are no-ops.
	AppliedTxnIDs []string `json:"applied_txn_ids,omitempty"`
}

// NewPayment builds the initial payment transaction for method.
func NewPayment(method PaymentMethod) Payment {
	if method.Gateway() {
		return Payment{Method: method, Status: PaymentInitiated}
	}
	// COD: PENDING then immediately SUCCESS within the same transaction.
	return Payment{Method: method, Status: PaymentSuccess}
}

// ApplyGatewayResult records a gateway callback. Idempotent on txnID: a
// replay of an already-applied transaction id is a no-op. A conflicting
// second settlement under a different id is a state error.
func (p *Payment) ApplyGatewayResult(txnID string, status PaymentStatus) (applied bool, err error) {
	if status != PaymentSuccess && status != PaymentFailed {
		return false, &errs.ValidationError{Field: "status", Reason: "gateway result must be SUCCESS or FAILED"}
	}
	for _, id := range p.AppliedTxnIDs {
		if id == txnID {
			return false, nil
		}
	}
	if p.Status == PaymentSuccess || p.Status == PaymentFailed {
		return false, &errs.StateError{Entity: "payment", Current: string(p.Status), Attempt: "apply gateway result"}
	}
	p.Status = status
	p.GatewayTxnID = txnID
	p.AppliedTxnIDs = append(p.AppliedTxnIDs, txnID)
	return true, nil
}
