package consultation

import (
	"errors"
	"testing"
	"time"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestRequestValidation(t *testing.T) {
	if _, err := Request("u1", "", "can I take these together?", now); err == nil {
		t.Error("empty subject was accepted")
	}
	if _, err := Request("u1", "drug interaction", "", now); err == nil {
		t.Error("empty message was accepted")
	}

	c, err := Request("u1", "drug interaction", "can I take these together?", now)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", c.Status)
	}
	if c.DoctorID != "" {
		t.Errorf("new consultation has doctor %s", c.DoctorID)
	}
}

func TestClaim(t *testing.T) {
	c, _ := Request("u1", "dosage", "how often?", now)
	if err := c.Claim("dr-1", now); err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusInProgress || c.DoctorID != "dr-1" {
		t.Errorf("after claim: %s by %s", c.Status, c.DoctorID)
	}

	// A second doctor cannot claim it again.
	err := c.Claim("dr-2", now)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StateError", err)
	}
	if c.DoctorID != "dr-1" {
		t.Errorf("doctor changed to %s", c.DoctorID)
	}
}

func TestRespond(t *testing.T) {
	c, _ := Request("u1", "dosage", "how often?", now)
	if err := c.Claim("dr-1", now); err != nil {
		t.Fatal(err)
	}

	// Only the assigned doctor may answer.
	err := c.Respond("dr-2", "every 8 hours", now)
	var ae *errs.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v, want AuthorizationError", err)
	}

	if err := c.Respond("dr-1", "", now); err == nil {
		t.Error("empty response was accepted")
	}

	if err := c.Respond("dr-1", "every 8 hours", now); err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusClosed || c.Response != "every 8 hours" {
		t.Errorf("after respond: %s %q", c.Status, c.Response)
	}

	// Closed consultations take no further answers.
	err = c.Respond("dr-1", "actually every 12", now)
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StateError", err)
	}
}

func TestRespondWithoutClaim(t *testing.T) {
	// Answering an unclaimed consultation implicitly assigns the doctor.
	c, _ := Request("u1", "dosage", "how often?", now)
	if err := c.Respond("dr-1", "every 8 hours", now); err != nil {
		t.Fatal(err)
	}
	if c.DoctorID != "dr-1" || c.Status != StatusClosed {
		t.Errorf("after respond: %s by %s", c.Status, c.DoctorID)
	}
}
