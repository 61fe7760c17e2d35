package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mypharma/pharmacy-core/internal/domain/consultation"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// ConsultationStore persists consultation requests.
type ConsultationStore struct {
	pool *pgxpool.Pool
}

// NewConsultationStore creates the store.
func NewConsultationStore(pool *pgxpool.Pool) *ConsultationStore {
	return &ConsultationStore{pool: pool}
}

const consultationColumns = `
	id, user_id, doctor_id, subject, message, response, status, created_at, updated_at
`

// Create inserts a new consultation row.
func (s *ConsultationStore) Create(ctx context.Context, c *consultation.Consultation) error {
	query := `
		INSERT INTO consultations (` + consultationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := from(ctx, s.pool).Exec(ctx, query,
		c.ID, c.UserID, nullable(c.DoctorID), c.Subject, c.Message,
		c.Response, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

// Get returns one consultation by id.
func (s *ConsultationStore) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1`
	c, err := scanConsultation(from(ctx, s.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &errs.NotFoundError{Entity: "consultation", ID: id}
		}
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

// Update writes the consultation back. Claiming guards on status so two
// doctors cannot both take the same pending request.
func (s *ConsultationStore) Update(ctx context.Context, c *consultation.Consultation) error {
	query := `
		UPDATE consultations
		SET doctor_id = $1, response = $2, status = $3, updated_at = $4
		WHERE id = $5 AND status != $6
	`
	tag, err := from(ctx, s.pool).Exec(ctx, query,
		nullable(c.DoctorID), c.Response, c.Status, c.UpdatedAt,
		c.ID, consultation.StatusClosed,
	)
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &errs.StateError{Entity: "consultation", Current: string(consultation.StatusClosed), Attempt: "update"}
	}
	return nil
}

// ListByUser returns the user's consultations, newest first.
func (s *ConsultationStore) ListByUser(ctx context.Context, userID string) ([]*consultation.Consultation, error) {
	query := `SELECT ` + consultationColumns + `
		FROM consultations WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := from(ctx, s.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()
	return collectConsultations(rows)
}

// ListPending returns the unclaimed queue, oldest first.
func (s *ConsultationStore) ListPending(ctx context.Context, limit int) ([]*consultation.Consultation, error) {
	query := `SELECT ` + consultationColumns + `
		FROM consultations WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := from(ctx, s.pool).Query(ctx, query, consultation.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending consultations: %w", err)
	}
	defer rows.Close()
	return collectConsultations(rows)
}

func collectConsultations(rows pgx.Rows) ([]*consultation.Consultation, error) {
	var out []*consultation.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConsultation(row pgx.Row) (*consultation.Consultation, error) {
	var (
		c        consultation.Consultation
		doctorID *string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &doctorID, &c.Subject, &c.Message,
		&c.Response, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if doctorID != nil {
		c.DoctorID = *doctorID
	}
	return &c, nil
}
