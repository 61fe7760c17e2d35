package prescription

import (
	"errors"
	"testing"
	"time"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func validFile() FileMeta {
	return FileMeta{Ref: "s3://rx/abc.pdf", Name: "abc.pdf", ContentType: "application/pdf", SizeBytes: 1024}
}

func TestUploadFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		file    FileMeta
		wantErr bool
	}{
		{"pdf ok", FileMeta{Ref: "r", Name: "rx.pdf", ContentType: "application/pdf", SizeBytes: 100}, false},
		{"jpeg ok", FileMeta{Ref: "r", Name: "rx.jpg", ContentType: "image/jpeg", SizeBytes: 100}, false},
		{"png by extension", FileMeta{Ref: "r", Name: "rx.PNG", SizeBytes: 100}, false},
		{"exactly 10MB", FileMeta{Ref: "r", Name: "rx.pdf", SizeBytes: MaxFileSizeBytes}, false},
		{"over 10MB", FileMeta{Ref: "r", Name: "rx.pdf", SizeBytes: MaxFileSizeBytes + 1}, true},
		{"gif rejected", FileMeta{Ref: "r", Name: "rx.gif", ContentType: "image/gif", SizeBytes: 100}, true},
		{"no ref", FileMeta{Name: "rx.pdf", SizeBytes: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Upload("user-1", tt.file, nil, "", now)
			if tt.wantErr {
				var ve *errs.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUploadIssueDate(t *testing.T) {
	fresh := now.AddDate(0, 0, -30)
	boundary := now.AddDate(0, 0, -6*31)
	tooOld := boundary.AddDate(0, 0, -1)

	if _, err := Upload("u", validFile(), &fresh, "", now); err != nil {
		t.Fatalf("fresh issue date rejected: %v", err)
	}
	if _, err := Upload("u", validFile(), &boundary, "", now); err != nil {
		t.Fatalf("boundary issue date rejected: %v", err)
	}
	if _, err := Upload("u", validFile(), &tooOld, "", now); err == nil {
		t.Fatal("expected error for issue date past six months")
	}
	// Issue date is optional.
	if _, err := Upload("u", validFile(), nil, "", now); err != nil {
		t.Fatalf("nil issue date rejected: %v", err)
	}
}

func TestUploadStartsPending(t *testing.T) {
	p, err := Upload("user-1", validFile(), nil, "A. Rahman", now)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", p.Status)
	}
	if p.UserID != "user-1" || p.ID == "" {
		t.Errorf("unexpected identity: %+v", p)
	}
	if p.Version != 0 {
		t.Errorf("version = %d, want 0", p.Version)
	}
}

func approval() Verification {
	return Verification{
		VerifierID:      "admin-1",
		Decision:        DecisionApprove,
		DoctorName:      "Dr. Khan",
		DoctorRegNumber: "BMDC-1234",
		HasSignature:    true,
		Items:           []Item{{ProductID: "med-1", QuantityPrescribed: 10}},
	}
}

func TestVerifyApprovalRequiresCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Verification)
	}{
		{"missing doctor name", func(v *Verification) { v.DoctorName = "" }},
		{"missing reg number", func(v *Verification) { v.DoctorRegNumber = "" }},
		{"no signature", func(v *Verification) { v.HasSignature = false }},
		{"no items", func(v *Verification) { v.Items = nil }},
		{"zero quantity item", func(v *Verification) { v.Items = []Item{{ProductID: "med-1"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := Upload("u", validFile(), nil, "", now)
			v := approval()
			tt.mutate(&v)
			err := p.Verify(v, now)
			var ve *errs.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if p.Status != StatusPending {
				t.Errorf("failed approval mutated status to %s", p.Status)
			}
		})
	}
}

func TestVerifyApprove(t *testing.T) {
	p, _ := Upload("u", validFile(), nil, "", now)
	if err := p.Verify(approval(), now); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Status != StatusApproved {
		t.Errorf("status = %s, want APPROVED", p.Status)
	}
	if p.VerifiedBy != "admin-1" || p.VerifiedAt == nil {
		t.Error("verifier audit fields not set")
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
}

func TestVerifyRejectNeedsNoDoctorData(t *testing.T) {
	p, _ := Upload("u", validFile(), nil, "", now)
	if err := p.Verify(Verification{VerifierID: "admin-1", Decision: DecisionReject, Notes: "illegible"}, now); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Status != StatusRejected {
		t.Errorf("status = %s, want REJECTED", p.Status)
	}
}

func TestVerifyOnlyFromPending(t *testing.T) {
	for _, start := range []Status{StatusApproved, StatusRejected, StatusUsed} {
		p, _ := Upload("u", validFile(), nil, "", now)
		p.Status = start
		err := p.Verify(approval(), now)
		var se *errs.StateError
		if !errors.As(err, &se) {
			t.Errorf("verify from %s: expected StateError, got %v", start, err)
		}
	}
}

func TestMarkUsed(t *testing.T) {
	p, _ := Upload("owner", validFile(), nil, "", now)
	if err := p.Verify(approval(), now); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := p.MarkUsed("order-1", "other-user"); err == nil {
		t.Fatal("expected error marking used by non-owner")
	}
	if err := p.MarkUsed("order-1", "owner"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if p.Status != StatusUsed || p.UsedByOrderID != "order-1" {
		t.Errorf("unexpected state after use: %+v", p)
	}

	// Used prescriptions are spent.
	err := p.MarkUsed("order-2", "owner")
	var se *errs.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError on second use, got %v", err)
	}
}

func TestItemQuantities(t *testing.T) {
	p := &Prescription{Items: []Item{
		{ProductID: "a", QuantityPrescribed: 5},
		{ProductID: "b", QuantityPrescribed: 3},
	}}
	q := p.ItemQuantities()
	if q["a"] != 5 || q["b"] != 3 {
		t.Errorf("quantities = %v", q)
	}
}
