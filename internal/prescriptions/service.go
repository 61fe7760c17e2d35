// Package prescriptions provides the upload and verification service over
// the prescription record.
package prescriptions

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
	"github.com/mypharma/pharmacy-core/internal/domain/rbac"
	"github.com/mypharma/pharmacy-core/internal/store"
)

// Service owns prescription upload and verification. Verification decisions
// and their events commit in one transaction.
type Service struct {
	prescriptions store.PrescriptionStore
	tx            store.TxManager
	events        store.EventSink
	policy        *rbac.Policy
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewService wires the prescription service.
func NewService(prescriptions store.PrescriptionStore, tx store.TxManager, events store.EventSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		prescriptions: prescriptions,
		tx:            tx,
		events:        events,
		policy:        rbac.NewPolicy(),
		logger:        logger,
		tracer:        otel.Tracer("prescription-service"),
		now:           time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Upload validates the file metadata and creates a PENDING prescription
// owned by the actor.
func (s *Service) Upload(ctx context.Context, actor rbac.Actor, file prescription.FileMeta, issueDate *time.Time, patientName string) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "upload_prescription")
	defer span.End()

	if err := s.policy.Authorize(actor, rbac.ActionUploadPrescription, actor.ID); err != nil {
		return nil, err
	}

	p, err := prescription.Upload(actor.ID, file, issueDate, patientName, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("prescription uploaded",
		zap.String("prescription_id", p.ID),
		zap.String("user_id", actor.ID),
	)
	span.SetAttributes(attribute.String("prescription_id", p.ID))
	return p, nil
}

// Verify applies a verifier's APPROVE/REJECT decision. Only pharmacy admins
// and super admins may verify; a doctor cannot.
func (s *Service) Verify(ctx context.Context, actor rbac.Actor, prescriptionID string, v prescription.Verification) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "verify_prescription",
		trace.WithAttributes(attribute.String("prescription_id", prescriptionID)))
	defer span.End()

	if !rbac.IsVerifier(actor.Role) {
		return nil, &errs.AuthorizationError{Role: string(actor.Role), Action: string(rbac.ActionVerifyPrescription)}
	}
	if err := s.policy.Authorize(actor, rbac.ActionVerifyPrescription, ""); err != nil {
		return nil, err
	}

	var verified *prescription.Prescription
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.Get(ctx, prescriptionID)
		if err != nil {
			return err
		}
		v.VerifierID = actor.ID
		if err := p.Verify(v, s.now()); err != nil {
			return err
		}
		if err := s.prescriptions.Update(ctx, p); err != nil {
			return err
		}

		evType := event.PrescriptionRejected
		if p.Status == prescription.StatusApproved {
			evType = event.PrescriptionApproved
		}
		ev, err := event.New(evType, p.ID, string(p.Status), nil)
		if err != nil {
			return err
		}
		if err := s.events.Emit(ctx, ev); err != nil {
			return err
		}
		verified = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("prescription verified",
		zap.String("prescription_id", verified.ID),
		zap.String("status", string(verified.Status)),
		zap.String("verifier", actor.ID),
	)
	return verified, nil
}

// Get returns a prescription the actor may see: its owner, or a verifier.
func (s *Service) Get(ctx context.Context, actor rbac.Actor, prescriptionID string) (*prescription.Prescription, error) {
	p, err := s.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, rbac.ActionViewPrescription, p.UserID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListOwn returns the actor's prescriptions, newest first.
func (s *Service) ListOwn(ctx context.Context, actor rbac.Actor) ([]*prescription.Prescription, error) {
	if err := s.policy.Authorize(actor, rbac.ActionViewPrescription, actor.ID); err != nil {
		return nil, err
	}
	return s.prescriptions.ListByUser(ctx, actor.ID)
}

// ListPending returns the verification queue for admins.
func (s *Service) ListPending(ctx context.Context, actor rbac.Actor, limit int) ([]*prescription.Prescription, error) {
	if !rbac.IsVerifier(actor.Role) {
		return nil, &errs.AuthorizationError{Role: string(actor.Role), Action: string(rbac.ActionVerifyPrescription)}
	}
	return s.prescriptions.ListByStatus(ctx, prescription.StatusPending, limit)
}
