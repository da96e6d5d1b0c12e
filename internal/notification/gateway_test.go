package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/veriscript/lifecycle/pkg/circuitbreaker"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("sms-gateway-test"), nil, nil)
	gw := NewGateway(GatewayConfig{
		URL:    server.URL,
		APIKey: "test-key",
		Sender: "VERISC",
	}, breaker, nil)
	return gw, server
}

func TestGatewayDeliver(t *testing.T) {
	var got gatewayRequest
	var auth string
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := gw.Deliver(context.Background(), "9876543210", "hello"); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	if auth != "Bearer test-key" {
		t.Errorf("authorization = %q", auth)
	}
	if got.To != "9876543210" || got.Body != "hello" || got.From != "VERISC" {
		t.Errorf("request payload = %+v", got)
	}
}

func TestGatewayDeliverRejection(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid recipient", http.StatusUnprocessableEntity)
	})

	err := gw.Deliver(context.Background(), "bad", "hello")
	if err == nil {
		t.Fatal("expected error for gateway rejection")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error %q does not carry the gateway status", err)
	}
}
