// Package main provides the notification outbox relay service entry point.
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

	"github.com/veriscript/lifecycle/internal/config"
	"github.com/veriscript/lifecycle/internal/infrastructure/postgres"
	"github.com/veriscript/lifecycle/internal/infrastructure/redpanda"
	"github.com/veriscript/lifecycle/internal/observability/metrics"
	"github.com/veriscript/lifecycle/internal/observability/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	trcfg := tracing.DefaultConfig("notify-relay")
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

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("failed to create admin client", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to ensure topics", zap.Error(err))
	}
	admin.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}

	m := metrics.New()

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), logger)
	outbox.Start()
	logger.Info("outbox relay started")

	loopCtx, cancelLoops := context.WithCancel(ctx)

	// Gauge refresh and dead letter sweep.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if pending, err := outbox.PendingCount(loopCtx); err == nil {
					m.OutboxPending.Set(float64(pending))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if moved, err := outbox.MoveToDeadLetter(loopCtx); err != nil {
					logger.Error("dead letter move failed", zap.Error(err))
				} else if moved > 0 {
					logger.Warn("moved entries to dead letter", zap.Int64("count", moved))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if removed, err := outbox.CleanupProcessed(loopCtx, 24*time.Hour); err != nil {
					logger.Error("outbox cleanup failed", zap.Error(err))
				} else if removed > 0 {
					logger.Info("cleaned up processed entries", zap.Int64("count", removed))
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"notify-relay"}`))
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down relay")
	cancelLoops()
	outbox.Stop()
	if err := producer.Close(); err != nil {
		logger.Error("producer close error", zap.Error(err))
	}

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

	logger.Info("relay stopped")
}
