// Package consultation implements doctor consultation requests:
// PENDING -> IN_PROGRESS -> CLOSED.
package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// Status represents consultation status
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
)

// Consultation is a patient's question routed to a doctor.
type Consultation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DoctorID  string    `json:"doctor_id,omitempty"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Response  string    `json:"response,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request creates a new PENDING consultation owned by userID.
func Request(userID, subject, message string, now time.Time) (*Consultation, error) {
	if subject == "" {
		return nil, &errs.ValidationError{Field: "subject", Reason: "required"}
	}
	if message == "" {
		return nil, &errs.ValidationError{Field: "message", Reason: "required"}
	}
	t := now.UTC()
	return &Consultation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Subject:   subject,
		Message:   message,
		Status:    StatusPending,
		CreatedAt: t,
		UpdatedAt: t,
	}, nil
}

// Claim assigns a pending consultation to a doctor.
func (c *Consultation) Claim(doctorID string, now time.Time) error {
	if c.Status != StatusPending {
		return &errs.StateError{Entity: "consultation", Current: string(c.Status), Attempt: "claim"}
	}
	c.DoctorID = doctorID
	c.Status = StatusInProgress
	c.UpdatedAt = now.UTC()
	return nil
}

// Respond records the doctor's answer and closes the consultation.
func (c *Consultation) Respond(doctorID, response string, now time.Time) error {
	if c.Status == StatusClosed {
		return &errs.StateError{Entity: "consultation", Current: string(c.Status), Attempt: "respond"}
	}
	if response == "" {
		return &errs.ValidationError{Field: "response", Reason: "required"}
	}
	if c.DoctorID != "" && c.DoctorID != doctorID {
		return &errs.AuthorizationError{Role: "DOCTOR", Action: "consultation.respond"}
	}
	c.DoctorID = doctorID
	c.Response = response
	c.Status = StatusClosed
	c.UpdatedAt = now.UTC()
	return nil
}
