// Package main provides the lifecycle API service entry point.
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

	"github.com/veriscript/lifecycle/internal/analytics"
	"github.com/veriscript/lifecycle/internal/api/handlers"
	"github.com/veriscript/lifecycle/internal/api/middleware"
	"github.com/veriscript/lifecycle/internal/audit"
	"github.com/veriscript/lifecycle/internal/config"
	"github.com/veriscript/lifecycle/internal/infrastructure/postgres"
	"github.com/veriscript/lifecycle/internal/infrastructure/redpanda"
	"github.com/veriscript/lifecycle/internal/lifecycle"
	"github.com/veriscript/lifecycle/internal/notification"
	"github.com/veriscript/lifecycle/internal/observability/metrics"
	"github.com/veriscript/lifecycle/internal/observability/tracing"
	"github.com/veriscript/lifecycle/pkg/idempotency"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	trcfg := tracing.DefaultConfig("lifecycle-api")
	trcfg.Environment = cfg.Env
	if cfg.OTLPEndpoint != "" {
		trcfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	tracer, err := tracing.Init(ctx, trcfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
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

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}

	m := metrics.New()

	store := postgres.NewStore(pool, logger)
	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), logger)
	notifier := notification.NewOutboxNotifier(outbox)
	auditLog := audit.NewWriter(pool, producer, redpanda.TopicAuditTrail, logger)
	aggregator := analytics.NewAggregator(pool, logger)
	markers := idempotency.NewMarkers(pool, logger)

	lcfg := lifecycle.DefaultConfig()
	lcfg.VerifyWindow = cfg.VerifyWindow
	lcfg.SweepWindow = cfg.SweepWindow
	lcfg.SweepBatchSize = cfg.SweepBatchSize
	lcfg.VerifyBaseURL = cfg.VerifyBaseURL
	controller := lifecycle.New(store, auditLog, notifier, aggregator, markers, m, lcfg, logger)

	prescriptionHandler := handlers.NewPrescriptionHandler(controller, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("lifecycle-api"))

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

	// Patient verification is public; everything else needs an API key.
	r.Post("/api/v1/public/prescriptions/{id}/verify", prescriptionHandler.Verify)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/prescriptions", prescriptionHandler.Routes())
		r.Get("/doctors/{id}/stats", prescriptionHandler.DoctorStats)
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := producer.Close(); err != nil {
			logger.Error("producer close error", zap.Error(err))
		}
		if tracer != nil {
			if err := tracer.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracer shutdown error", zap.Error(err))
			}
		}
	}()

	logger.Info("starting lifecycle API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"lifecycle-api","version":"1.0.0"}`)
}
