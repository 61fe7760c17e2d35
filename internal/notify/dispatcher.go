// Package notify turns order, prescription, and payment events into user
// notifications. Delivery fans out through a bounded worker pool.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/event"
	"github.com/mypharma/pharmacy-core/internal/infrastructure/redpanda"
	"github.com/mypharma/pharmacy-core/pkg/workerpool"
)

// Notification is one message bound for a user channel.
type Notification struct {
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Sender delivers one notification over a concrete channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher consumes event topics and hands notifications to senders.
type Dispatcher struct {
	senders []Sender
	pool    *workerpool.Pool
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher delivering through senders with the
// given worker count.
func NewDispatcher(senders []Sender, workers int, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{senders: senders, logger: logger}

	cfg := workerpool.DefaultConfig()
	if workers > 0 {
		cfg.Workers = workers
	}
	pool, err := workerpool.New(cfg, d.deliver, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() { d.pool.Start() }

// Stop drains pending deliveries.
func (d *Dispatcher) Stop() error { return d.pool.Stop() }

// Handle is the consumer callback: decode the event, build the
// notification, enqueue it. Undecodable payloads are dropped with a log
// line rather than redelivered forever.
func (d *Dispatcher) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var ev event.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		d.logger.Error("dropping undecodable event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	n, ok := Build(ev)
	if !ok {
		return nil
	}

	return d.pool.Submit(&workerpool.Task{
		ID:      ev.ID,
		Payload: n,
		Context: ctx,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, task *workerpool.Task) error {
	n, ok := task.Payload.(Notification)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", task.Payload)
	}
	for _, s := range d.senders {
		if err := s.Send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Build maps an event to its user-facing notification. Events without a
// notification mapping return ok=false.
func Build(ev event.Event) (Notification, bool) {
	n := Notification{
		EventID:  ev.ID,
		Kind:     string(ev.Type),
		EntityID: ev.EntityID,
	}
	switch ev.Type {
	case event.PrescriptionApproved:
		n.Subject = "Prescription approved"
		n.Body = "Your prescription has been approved. You can now order the prescribed medicines."
	case event.PrescriptionRejected:
		n.Subject = "Prescription rejected"
		n.Body = "Your prescription could not be verified. Please upload a clearer copy or contact support."
	case event.OrderPlaced:
		n.Subject = "Order received"
		n.Body = "We have received your order and will start verifying it shortly."
	case event.OrderStatusChanged:
		n.Subject = "Order update"
		n.Body = fmt.Sprintf("Your order is now %s.", ev.NewState)
	case event.OrderCancelled:
		n.Subject = "Order cancelled"
		n.Body = "Your order has been cancelled."
	case event.PaymentUpdated:
		n.Subject = "Payment update"
		n.Body = fmt.Sprintf("Your payment is now %s.", ev.NewState)
	default:
		return Notification{}, false
	}
	return n, true
}

// LogSender writes notifications to the service log. It stands in for the
// SMS and email gateways in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.Info("notification",
		zap.String("event_id", n.EventID),
		zap.String("kind", n.Kind),
		zap.String("entity_id", n.EntityID),
		zap.String("subject", n.Subject),
	)
	return nil
}
