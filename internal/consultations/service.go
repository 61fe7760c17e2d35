// Package consultations routes patient questions to doctors.
package consultations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/consultation"
	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/rbac"
	"github.com/mypharma/pharmacy-core/internal/store"
)

// Service owns the consultation workflow.
type Service struct {
	consultations store.ConsultationStore
	policy        *rbac.Policy
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewService wires the consultation service.
func NewService(consultations store.ConsultationStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		consultations: consultations,
		policy:        rbac.NewPolicy(),
		logger:        logger,
		tracer:        otel.Tracer("consultation-service"),
		now:           time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Request opens a PENDING consultation owned by the actor.
func (s *Service) Request(ctx context.Context, actor rbac.Actor, subject, message string) (*consultation.Consultation, error) {
	ctx, span := s.tracer.Start(ctx, "request_consultation")
	defer span.End()

	if err := s.policy.Authorize(actor, rbac.ActionRequestConsult, actor.ID); err != nil {
		return nil, err
	}
	c, err := consultation.Request(actor.ID, subject, message, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.consultations.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("consultation requested",
		zap.String("consultation_id", c.ID),
		zap.String("user_id", actor.ID),
	)
	return c, nil
}

// Claim moves a pending consultation to IN_PROGRESS under the acting doctor.
func (s *Service) Claim(ctx context.Context, actor rbac.Actor, consultationID string) (*consultation.Consultation, error) {
	if err := s.policy.Authorize(actor, rbac.ActionRespondConsult, ""); err != nil {
		return nil, err
	}
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if err := c.Claim(actor.ID, s.now()); err != nil {
		return nil, err
	}
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Respond records the doctor's answer and closes the consultation.
func (s *Service) Respond(ctx context.Context, actor rbac.Actor, consultationID, response string) (*consultation.Consultation, error) {
	ctx, span := s.tracer.Start(ctx, "respond_consultation")
	defer span.End()

	if err := s.policy.Authorize(actor, rbac.ActionRespondConsult, ""); err != nil {
		return nil, err
	}
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if err := c.Respond(actor.ID, response, s.now()); err != nil {
		return nil, err
	}
	if err := s.consultations.Update(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("consultation closed",
		zap.String("consultation_id", c.ID),
		zap.String("doctor_id", actor.ID),
	)
	return c, nil
}

// Get returns one consultation visible to the actor: its owner, the
// assigned doctor, or an admin.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, consultationID string) (*consultation.Consultation, error) {
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == rbac.RoleDoctor && actor.ID == c.DoctorID {
		return c, nil
	}
	if err := s.policy.Authorize(actor, rbac.ActionViewConsult, c.UserID); err != nil {
		return nil, err
	}
	return c, nil
}

// ListOwn returns the actor's consultations, newest first.
func (s *Service) ListOwn(ctx context.Context, actor rbac.Actor) ([]*consultation.Consultation, error) {
	if err := s.policy.Authorize(actor, rbac.ActionViewConsult, actor.ID); err != nil {
		return nil, err
	}
	return s.consultations.ListByUser(ctx, actor.ID)
}

// ListPending returns the unclaimed queue for doctors.
func (s *Service) ListPending(ctx context.Context, actor rbac.Actor, limit int) ([]*consultation.Consultation, error) {
	if actor.Role != rbac.RoleDoctor && actor.Role != rbac.RoleSuperAdmin {
		return nil, &errs.AuthorizationError{Role: string(actor.Role), Action: string(rbac.ActionRespondConsult)}
	}
	return s.consultations.ListPending(ctx, limit)
}
