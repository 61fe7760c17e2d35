package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
)

// PrescriptionStore persists prescriptions. Items are stored as JSONB; the
// version column backs the compare-and-set on Update.
type PrescriptionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPrescriptionStore creates the store.
func NewPrescriptionStore(pool *pgxpool.Pool, logger *zap.Logger) *PrescriptionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionStore{pool: pool, logger: logger}
}

const prescriptionColumns = `
	id, user_id, file_ref, status, issue_date, patient_name,
	doctor_name, doctor_reg_number, has_signature,
	verified_by, verified_at, notes, items, used_by_order_id,
	version, created_at
`

// Create inserts a new prescription row.
func (s *PrescriptionStore) Create(ctx context.Context, p *prescription.Prescription) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = from(ctx, s.pool).Exec(ctx, query,
		p.ID, p.UserID, p.FileRef, p.Status, p.IssueDate, p.PatientName,
		p.DoctorName, p.DoctorRegNumber, p.HasSignature,
		nullable(p.VerifiedBy), p.VerifiedAt, p.Notes, items, nullable(p.UsedByOrderID),
		p.Version, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

// Get returns one prescription by id.
func (s *PrescriptionStore) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	p, err := scanPrescription(from(ctx, s.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &errs.NotFoundError{Entity: "prescription", ID: id}
		}
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// Update writes a prescription back, keyed on the previous version. Zero
// rows affected means someone else got there first.
func (s *PrescriptionStore) Update(ctx context.Context, p *prescription.Prescription) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	query := `
		UPDATE prescriptions
		SET status = $1, doctor_name = $2, doctor_reg_number = $3,
		    has_signature = $4, verified_by = $5, verified_at = $6,
		    notes = $7, items = $8, used_by_order_id = $9, version = $10
		WHERE id = $11 AND version = $12
	`
	tag, err := from(ctx, s.pool).Exec(ctx, query,
		p.Status, p.DoctorName, p.DoctorRegNumber,
		p.HasSignature, nullable(p.VerifiedBy), p.VerifiedAt,
		p.Notes, items, nullable(p.UsedByOrderID), p.Version,
		p.ID, p.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &errs.ConcurrentModificationError{Entity: "prescription", ID: p.ID}
	}
	return nil
}

// ListByUser returns the user's prescriptions, newest first.
func (s *PrescriptionStore) ListByUser(ctx context.Context, userID string) ([]*prescription.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + `
		FROM prescriptions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := from(ctx, s.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()
	return collectPrescriptions(rows)
}

// ListByStatus returns prescriptions in one status, oldest first, so the
// verification queue is worked in arrival order.
func (s *PrescriptionStore) ListByStatus(ctx context.Context, status prescription.Status, limit int) ([]*prescription.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + `
		FROM prescriptions WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := from(ctx, s.pool).Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions by status: %w", err)
	}
	defer rows.Close()
	return collectPrescriptions(rows)
}

func collectPrescriptions(rows pgx.Rows) ([]*prescription.Prescription, error) {
	var out []*prescription.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	var (
		p             prescription.Prescription
		items         []byte
		verifiedBy    *string
		usedByOrderID *string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.FileRef, &p.Status, &p.IssueDate, &p.PatientName,
		&p.DoctorName, &p.DoctorRegNumber, &p.HasSignature,
		&verifiedBy, &p.VerifiedAt, &p.Notes, &items, &usedByOrderID,
		&p.Version, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedBy != nil {
		p.VerifiedBy = *verifiedBy
	}
	if usedByOrderID != nil {
		p.UsedByOrderID = *usedByOrderID
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return &p, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
