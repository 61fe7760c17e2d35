// Package event defines the logical events the core emits toward the
// notification dispatcher. Delivery is a collaborator concern; the core only
// records the event alongside the state change that produced it.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names a logical event.
type Type string

const (
	PrescriptionApproved Type = "prescription.approved"
	PrescriptionRejected Type = "prescription.rejected"
	OrderPlaced          Type = "order.placed"
	OrderStatusChanged   Type = "order.statusChanged"
	OrderCancelled       Type = "order.cancelled"
	PaymentUpdated       Type = "payment.updated"
)

// Event carries the affected entity id and its new state.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	EntityID   string          `json:"entity_id"`
	NewState   string          `json:"new_state"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event; payload is marshalled as-is and may be nil.
func New(t Type, entityID, newState string, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		EntityID:   entityID,
		NewState:   newState,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}
