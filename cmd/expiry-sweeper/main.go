// Package main provides the expiry sweeper service entry point.
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

	"github.com/veriscript/lifecycle/internal/audit"
	"github.com/veriscript/lifecycle/internal/config"
	"github.com/veriscript/lifecycle/internal/infrastructure/postgres"
	"github.com/veriscript/lifecycle/internal/lifecycle"
	"github.com/veriscript/lifecycle/internal/observability/metrics"
	"github.com/veriscript/lifecycle/internal/observability/tracing"
	"github.com/veriscript/lifecycle/pkg/idempotency"
)

// markerRetention bounds how long dispensed transition markers are kept.
// Anything older than the sweep window can no longer be redelivered.
const markerRetention = 90 * 24 * time.Hour

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	trcfg := tracing.DefaultConfig("expiry-sweeper")
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

	m := metrics.New()

	store := postgres.NewStore(pool, logger)
	auditLog := audit.NewWriter(pool, nil, "", logger)
	markers := idempotency.NewMarkers(pool, logger)

	lcfg := lifecycle.DefaultConfig()
	lcfg.VerifyWindow = cfg.VerifyWindow
	lcfg.SweepWindow = cfg.SweepWindow
	lcfg.SweepBatchSize = cfg.SweepBatchSize
	lcfg.VerifyBaseURL = cfg.VerifyBaseURL

	// The sweeper only expires records; creation and dispense side effects
	// never run here, so the notifier and analytics sinks stay unwired.
	controller := lifecycle.New(store, auditLog, nil, nil, markers, m, lcfg, logger)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		sweep := func() {
			expired, err := controller.SweepExpired(loopCtx, time.Now().UTC())
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				return
			}
			if expired > 0 {
				logger.Info("expired stale prescriptions", zap.Int64("count", expired))
			}
			if removed, err := markers.Cleanup(loopCtx, markerRetention); err != nil {
				logger.Error("marker cleanup failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("cleaned up transition markers", zap.Int64("count", removed))
			}
		}

		sweep()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"expiry-sweeper"}`))
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("window", cfg.SweepWindow))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down sweeper")
	cancelLoop()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("sweeper stopped")
}
