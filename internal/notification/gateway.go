package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/veriscript/lifecycle/pkg/circuitbreaker"
)

// GatewayConfig holds SMS gateway configuration. The gateway is a narrow
// external collaborator: one POST per message, vendor details live behind
// the URL.
type GatewayConfig struct {
	URL     string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

// DefaultGatewayConfig returns sensible defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Sender:  "VERISC",
		Timeout: 10 * time.Second,
	}
}

// Gateway delivers SMS through the configured HTTP endpoint, guarded by a
// circuit breaker so a struggling vendor does not pile up work.
type Gateway struct {
	config  GatewayConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGateway creates a gateway client.
func NewGateway(cfg GatewayConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayConfig().Timeout
	}
	return &Gateway{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type gatewayRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Deliver sends one SMS. The error covers transport and gateway-side
// rejections; callers decide whether to retry.
func (g *Gateway) Deliver(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(gatewayRequest{From: g.config.Sender, To: to, Body: body})
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	_, err = g.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, detail)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("deliver sms: %w", err)
	}
	return nil
}
