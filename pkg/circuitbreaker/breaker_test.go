package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testBreakerConfig() Config {
	return Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		FailureRatio:     0.6,
		MinRequests:      100,
	}
}

func TestExecutePassesThrough(t *testing.T) {
	cb := New(testBreakerConfig(), nil, nil)

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	var transitions []State
	cb := New(testBreakerConfig(), func(name string, state State) {
		transitions = append(transitions, state)
	}, nil)

	boom := errors.New("gateway down")
	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d error = %v, want underlying failure", i, err)
		}
	}

	if !cb.IsOpen() {
		t.Fatal("breaker still closed after threshold failures")
	}

	// Calls are rejected without invoking fn.
	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Error("open breaker allowed a call")
	}
	if called {
		t.Error("open breaker invoked fn")
	}

	if len(transitions) == 0 || transitions[len(transitions)-1] != StateOpen {
		t.Errorf("transitions = %v, want final open", transitions)
	}
}
