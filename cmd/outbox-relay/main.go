// Package main provides the outbox relay service entry point. It moves
// committed outbox rows onto the event topics and sweeps exhausted entries
// to the dead-letter topic.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/config"
	"github.com/mypharma/pharmacy-core/internal/infrastructure/postgres"
	"github.com/mypharma/pharmacy-core/internal/infrastructure/redpanda"
	"github.com/mypharma/pharmacy-core/internal/observability/metrics"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load("outbox-relay")
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("topic creation failed", zap.Error(err))
	}

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.PollInterval = cfg.RelayPollInterval
	outboxCfg.BatchSize = cfg.RelayBatchSize
	outbox := postgres.NewOutbox(pool, producer, outboxCfg, logger)
	outbox.Start()

	m := metrics.New()

	// Periodic housekeeping: dead-letter sweep, cleanup, pending gauge.
	houseCtx, houseCancel := context.WithCancel(ctx)
	go housekeeping(houseCtx, outbox, m, logger)

	// Relay health endpoint.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"outbox-relay"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	houseCancel()
	outbox.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutCtx)
	logger.Info("outbox relay stopped")
}

func housekeeping(ctx context.Context, outbox *postgres.Outbox, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if moved, err := outbox.MoveToDeadLetter(ctx); err != nil {
				logger.Error("dead-letter sweep failed", zap.Error(err))
			} else if moved > 0 {
				logger.Warn("entries moved to dead letter", zap.Int64("count", moved))
			}

			if _, err := outbox.CleanupProcessed(ctx, 7*24*time.Hour); err != nil {
				logger.Error("outbox cleanup failed", zap.Error(err))
			}

			if stats, err := outbox.GetStats(ctx); err == nil {
				m.OutboxPending.Set(float64(stats.Pending))
			}
		}
	}
}
