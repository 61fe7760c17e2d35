// Package main provides the notification worker entry point. It consumes
// the event topics and fans notifications out through the dispatcher.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/config"
	"github.com/mypharma/pharmacy-core/internal/infrastructure/redpanda"
	"github.com/mypharma/pharmacy-core/internal/notify"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load("notify-worker")

	dispatcher, err := notify.NewDispatcher(
		[]notify.Sender{notify.NewLogSender(logger)},
		cfg.NotifyWorkers,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher creation failed", zap.Error(err))
	}
	dispatcher.Start()

	consumerCfg := redpanda.DefaultConsumerConfig(
		cfg.Kafka.Brokers,
		cfg.Kafka.ConsumerGroup,
		redpanda.TopicOrderEvents,
		redpanda.TopicPrescriptionEvents,
		redpanda.TopicPaymentEvents,
	)
	consumer, err := redpanda.NewConsumer(consumerCfg, dispatcher.Handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("notify worker started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group", cfg.Kafka.ConsumerGroup))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"notify-worker"}`))
	})
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
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := dispatcher.Stop(); err != nil {
		logger.Error("dispatcher stop error", zap.Error(err))
	}
	server.Close()
	logger.Info("notify worker stopped")
}
