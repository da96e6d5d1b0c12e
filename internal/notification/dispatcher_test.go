package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/veriscript/lifecycle/pkg/workerpool"
)

func dispatcherPoolConfig() workerpool.Config {
	return workerpool.Config{
		Workers:                 2,
		QueueSize:               16,
		MaxRetries:              1,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func TestDispatcherDeliversMessage(t *testing.T) {
	var mu sync.Mutex
	var delivered []gatewayRequest
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req gatewayRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		delivered = append(delivered, req)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	d, err := NewDispatcher(gw, dispatcherPoolConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}
	d.Start()

	payload, _ := json.Marshal(Message{PrescriptionID: "rx-1", To: "9876543210", Body: "hello"})
	if err := d.HandleRecord(context.Background(), []byte("rx-1"), payload); err != nil {
		t.Fatalf("HandleRecord() error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.Stop()

	if delivered[0].To != "9876543210" || delivered[0].Body != "hello" {
		t.Errorf("delivered = %+v", delivered[0])
	}
}

func TestDispatcherDropsMalformedPayload(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called for malformed payload")
	})

	d, err := NewDispatcher(gw, dispatcherPoolConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}
	d.Start()
	defer d.Stop()

	// Malformed payloads are dropped, not retried: returning an error would
	// wedge the consumer on a record that can never parse.
	if err := d.HandleRecord(context.Background(), []byte("k"), []byte("{broken")); err != nil {
		t.Errorf("HandleRecord() error = %v, want nil for malformed payload", err)
	}
}
