// Package main provides the SMS dispatch worker entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/internal/config"
	"github.com/veriscript/lifecycle/internal/infrastructure/redpanda"
	"github.com/veriscript/lifecycle/internal/notification"
	"github.com/veriscript/lifecycle/internal/observability/metrics"
	"github.com/veriscript/lifecycle/internal/observability/tracing"
	"github.com/veriscript/lifecycle/pkg/circuitbreaker"
	"github.com/veriscript/lifecycle/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	trcfg := tracing.DefaultConfig("notify-dispatcher")
	trcfg.Environment = cfg.Env
	if cfg.OTLPEndpoint != "" {
		trcfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	tracer, err := tracing.Init(ctx, trcfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	m := metrics.New()

	breaker := circuitbreaker.New(
		circuitbreaker.DefaultConfig("sms-gateway"),
		func(name string, state circuitbreaker.State) {
			var v float64
			switch state {
			case circuitbreaker.StateOpen:
				v = 1
			case circuitbreaker.StateHalfOpen:
				v = 0.5
			}
			m.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
		logger,
	)

	gateway := notification.NewGateway(notification.GatewayConfig{
		URL:     cfg.SMSGatewayURL,
		APIKey:  cfg.SMSGatewayAPIKey,
		Sender:  cfg.SMSSender,
		Timeout: cfg.SMSTimeout,
	}, breaker, logger)

	dispatcher, err := notification.NewDispatcher(gateway, workerpool.DefaultConfig(), m, logger)
	if err != nil {
		logger.Fatal("failed to create dispatcher", zap.Error(err))
	}
	dispatcher.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		return dispatcher.HandleRecord(ctx, msg.Key, msg.Value)
	}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	consumer.Start()
	logger.Info("dispatcher started", zap.Strings("brokers", cfg.KafkaBrokers))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"notify-dispatcher"}`))
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

	logger.Info("shutting down dispatcher")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	dispatcher.Stop()

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

	logger.Info("dispatcher stopped")
}
