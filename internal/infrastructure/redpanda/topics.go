// Package redpanda provides the Kafka-compatible streaming layer built on
// franz-go: producer, consumer, and topic administration.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/event"
)

// Topic names for the pharmacy core.
const (
	TopicOrderEvents        = "order.events"
	TopicPrescriptionEvents = "prescription.events"
	TopicPaymentEvents      = "payment.events"
	TopicNotifications      = "pharmacy.notifications"
	TopicDeadLetter         = "dead.letter"
)

// TopicFor routes a logical event type to its topic.
func TopicFor(t event.Type) string {
	switch t {
	case event.PrescriptionApproved, event.PrescriptionRejected:
		return TopicPrescriptionEvents
	case event.PaymentUpdated:
		return TopicPaymentEvents
	default:
		return TopicOrderEvents
	}
}

// TopicConfig holds creation parameters for one topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the pharmacy topic set. Replication is 1 for
// local development; production overrides to 3.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	retention := func(ms string) map[string]*string {
		return map[string]*string{
			"retention.ms":     ptr(ms),
			"cleanup.policy":   ptr("delete"),
			"compression.type": ptr("lz4"),
		}
	}

	return []TopicConfig{
		{Name: TopicOrderEvents, Partitions: 6, ReplicationFactor: 1, Configs: retention("604800000")},
		{Name: TopicPrescriptionEvents, Partitions: 6, ReplicationFactor: 1, Configs: retention("604800000")},
		{Name: TopicPaymentEvents, Partitions: 6, ReplicationFactor: 1, Configs: retention("2592000000")},
		{Name: TopicNotifications, Partitions: 3, ReplicationFactor: 1, Configs: retention("86400000")},
		{Name: TopicDeadLetter, Partitions: 3, ReplicationFactor: 1, Configs: retention("604800000")},
	}
}

// Admin wraps kadm for topic management.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client for brokers.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates the pharmacy topics, tolerating ones that already
// exist.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, cfg := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// GroupLag returns per-topic, per-partition lag for a consumer group.
func (a *Admin) GroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
