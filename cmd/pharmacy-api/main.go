// Package main provides the pharmacy API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/api/handlers"
	"github.com/mypharma/pharmacy-core/internal/api/middleware"
	"github.com/mypharma/pharmacy-core/internal/catalog"
	"github.com/mypharma/pharmacy-core/internal/checkout"
	"github.com/mypharma/pharmacy-core/internal/config"
	"github.com/mypharma/pharmacy-core/internal/consultations"
	"github.com/mypharma/pharmacy-core/internal/infrastructure/postgres"
	"github.com/mypharma/pharmacy-core/internal/observability/metrics"
	"github.com/mypharma/pharmacy-core/internal/observability/tracing"
	"github.com/mypharma/pharmacy-core/internal/prescriptions"
	"github.com/mypharma/pharmacy-core/internal/store"
	"github.com/mypharma/pharmacy-core/pkg/idempotency"
)

// remoteProducts serves lookups from the external catalog service while
// stock decrements stay against the local table, so placement remains one
// database transaction.
type remoteProducts struct {
	*catalog.Client
	local *postgres.ProductStore
}

func (r remoteProducts) DecrementStock(ctx context.Context, productID string, qty int) error {
	return r.local.DecrementStock(ctx, productID, qty)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load("pharmacy-api")

	ctx := context.Background()
	tp, err := tracing.Init(ctx, tracing.DefaultConfig(cfg.ServiceName, cfg.OTLPEndpoint))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Stores and the transactional outbox sink.
	txm := postgres.NewTxManager(pool)
	prescriptionStore := postgres.NewPrescriptionStore(pool, logger)
	orderStore := postgres.NewOrderStore(pool, logger)
	localProducts := postgres.NewProductStore(pool, logger)
	consultationStore := postgres.NewConsultationStore(pool)
	sink := postgres.NewSink(pool)

	var products store.ProductStore = localProducts
	if cfg.Catalog.BaseURL != "" {
		client, err := catalog.NewClient(catalog.ClientConfig{
			BaseURL: cfg.Catalog.BaseURL,
			Timeout: cfg.Catalog.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("catalog client init failed", zap.Error(err))
		}
		products = remoteProducts{Client: client, local: localProducts}
		logger.Info("using remote catalog", zap.String("url", cfg.Catalog.BaseURL))
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	// Services.
	engine := checkout.NewEngine(products, prescriptionStore, orderStore, txm, sink, checkout.DefaultConfig(), logger)
	prescriptionSvc := prescriptions.NewService(prescriptionStore, txm, sink, logger)
	consultationSvc := consultations.NewService(consultationStore, logger)

	// Handlers.
	prescriptionHandler := handlers.NewPrescriptionHandler(prescriptionSvc, logger)
	orderHandler := handlers.NewOrderHandler(engine, logger)
	paymentHandler := handlers.NewPaymentHandler(engine, inbox, logger)
	consultationHandler := handlers.NewConsultationHandler(consultationSvc, logger)

	metrics.New()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(middleware.IdentityHeaders{
			User:   cfg.IdentityHeaderUser,
			Role:   cfg.IdentityHeaderRole,
			Status: cfg.IdentityHeaderStatus,
		}))
		r.Mount("/prescriptions", prescriptionHandler.Routes())
		r.Mount("/orders", orderHandler.Routes())
		r.Mount("/payments", paymentHandler.Routes())
		r.Mount("/consultations", consultationHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting pharmacy API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"pharmacy-api","version":"1.0.0"}`)
}
