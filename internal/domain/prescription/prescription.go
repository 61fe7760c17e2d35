// Package prescription implements the prescription record and its state
// machine: PENDING -> APPROVED -> USED, or PENDING -> REJECTED.
package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// Status represents prescription status
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusUsed     Status = "USED"
)

// File upload policy: JPG, PNG, PDF only, at most 10MB, and the prescription
// must have been issued within the last six months (31-day months).
const (
	MaxFileSizeBytes = 10 * 1024 * 1024
	MaxAgeMonths     = 6
)

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
}

var allowedExtensions = []string{".jpg", ".jpeg", ".png", ".pdf"}

// Item is a medicine listed on the prescription, set at approval. Ordered
// quantities are validated against QuantityPrescribed in aggregate.
type Item struct {
	ProductID          string `json:"product_id"`
	QuantityPrescribed int    `json:"quantity_prescribed"`
}

// Prescription is the uploaded document plus its verification outcome.
// Version backs optimistic locking in the stores.
type Prescription struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	FileRef         string     `json:"file_ref"`
	Status          Status     `json:"status"`
	IssueDate       *time.Time `json:"issue_date,omitempty"`
	PatientName     string     `json:"patient_name_on_rx,omitempty"`
	DoctorName      string     `json:"doctor_name,omitempty"`
	DoctorRegNumber string     `json:"doctor_reg_number,omitempty"`
	HasSignature    bool       `json:"has_signature"`
	VerifiedBy      string     `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Items           []Item     `json:"items,omitempty"`
	UsedByOrderID   string     `json:"used_by_order_id,omitempty"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
}

// FileMeta describes the uploaded file. The core validates metadata only;
// bytes live in object storage behind FileRef.
type FileMeta struct {
	Ref         string
	Name        string
	ContentType string
	SizeBytes   int64
}

// Upload validates the file metadata and issue date and returns a new
// prescription in PENDING owned by userID.
func Upload(userID string, file FileMeta, issueDate *time.Time, patientName string, now time.Time) (*Prescription, error) {
	if err := validateFile(file); err != nil {
		return nil, err
	}
	if err := validateIssueDate(issueDate, now); err != nil {
		return nil, err
	}
	p := &Prescription{
		ID:          uuid.New().String(),
		UserID:      userID,
		FileRef:     file.Ref,
		Status:      StatusPending,
		IssueDate:   issueDate,
		PatientName: patientName,
		CreatedAt:   now.UTC(),
	}
	return p, nil
}

func validateFile(file FileMeta) error {
	if file.Ref == "" {
		return &errs.ValidationError{Field: "file", Reason: "no file provided"}
	}
	if file.SizeBytes > MaxFileSizeBytes {
		return &errs.ValidationError{Field: "file", Reason: "file size must not exceed 10MB"}
	}
	name := strings.ToLower(file.Name)
	ct := strings.ToLower(file.ContentType)
	if ct != "" && allowedContentTypes[ct] {
		return nil
	}
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(name, ext) {
			return nil
		}
	}
	return &errs.ValidationError{Field: "file", Reason: "allowed formats: JPG, PNG, PDF only"}
}

func validateIssueDate(issueDate *time.Time, now time.Time) error {
	if issueDate == nil {
		return nil
	}
	cutoff := now.AddDate(0, 0, -MaxAgeMonths*31)
	if issueDate.Before(cutoff) {
		return &errs.ValidationError{Field: "issue_date", Reason: "prescription must not be older than 6 months"}
	}
	return nil
}

// Decision is the verifier's outcome.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Verification carries everything a verifier supplies in one call. Doctor
// fields and items are required for approval only.
type Verification struct {
	VerifierID      string
	Decision        Decision
	Notes           string
	DoctorName      string
	DoctorRegNumber string
	HasSignature    bool
	Items           []Item
}

// Verify applies the verifier's decision. Only PENDING prescriptions can be
// verified; approval requires complete doctor metadata and a non-empty item
// list, which becomes the prescription's item collection.
func (p *Prescription) Verify(v Verification, now time.Time) error {
	if p.Status != StatusPending {
		return &errs.StateError{Entity: "prescription", Current: string(p.Status), Attempt: "verify"}
	}

	switch v.Decision {
	case DecisionApprove:
		if v.DoctorName == "" {
			return &errs.ValidationError{Field: "doctor_name", Reason: "required when approving"}
		}
		if v.DoctorRegNumber == "" {
			return &errs.ValidationError{Field: "doctor_reg_number", Reason: "required when approving"}
		}
		if !v.HasSignature {
			return &errs.ValidationError{Field: "has_signature", Reason: "must be true when approving"}
		}
		if len(v.Items) == 0 {
			return &errs.ValidationError{Field: "items", Reason: "at least one prescribed medicine is required when approving"}
		}
		for _, it := range v.Items {
			if it.ProductID == "" || it.QuantityPrescribed <= 0 {
				return &errs.ValidationError{Field: "items", Reason: "each item needs a product and a positive prescribed quantity"}
			}
		}
		p.Status = StatusApproved
		p.DoctorName = v.DoctorName
		p.DoctorRegNumber = v.DoctorRegNumber
		p.HasSignature = true
		p.Items = append([]Item(nil), v.Items...)
	case DecisionReject:
		p.Status = StatusRejected
	default:
		return &errs.ValidationError{Field: "decision", Reason: "must be APPROVE or REJECT"}
	}

	t := now.UTC()
	p.VerifiedBy = v.VerifierID
	p.VerifiedAt = &t
	p.Notes = v.Notes
	p.Version++
	return nil
}

// MarkUsed flips an APPROVED prescription to USED as part of order creation.
// Called only from the order placement transaction.
func (p *Prescription) MarkUsed(orderID, orderOwnerID string) error {
	if p.Status != StatusApproved {
		return &errs.StateError{Entity: "prescription", Current: string(p.Status), Attempt: "use"}
	}
	if p.UserID != orderOwnerID {
		return &errs.StateError{Entity: "prescription", Current: string(p.Status), Attempt: "use by non-owner"}
	}
	p.Status = StatusUsed
	p.UsedByOrderID = orderID
	p.Version++
	return nil
}

// ItemQuantities returns prescribed quantity per product id.
func (p *Prescription) ItemQuantities() map[string]int {
	m := make(map[string]int, len(p.Items))
	for _, it := range p.Items {
		m[it.ProductID] = it.QuantityPrescribed
	}
	return m
}
