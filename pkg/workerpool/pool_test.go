package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes. Stop cancels the
// pool context, so tests wait for queued work to finish before stopping.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func testConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               64,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func TestPoolProcessesTasks(t *testing.T) {
	var processed int64
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	pool.Start()
	for i := 0; i < 20; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}
	waitFor(t, func() bool { return pool.Stats().TasksCompleted == 20 })
	pool.Stop()

	if got := atomic.LoadInt64(&processed); got != 20 {
		t.Errorf("processed = %d, want 20", got)
	}
	if stats := pool.Stats(); stats.TasksCompleted != 20 {
		t.Errorf("stats.TasksCompleted = %d, want 20", stats.TasksCompleted)
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	var attempts int64
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("permanent failure")
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	pool.Start()
	if err := pool.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, func() bool { return pool.Stats().TasksFailed == 1 })
	pool.Stop()

	// initial attempt plus MaxRetries
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	stats := pool.Stats()
	if stats.TasksFailed != 1 {
		t.Errorf("stats.TasksFailed = %d, want 1", stats.TasksFailed)
	}
	if stats.TasksRetried != 2 {
		t.Errorf("stats.TasksRetried = %d, want 2", stats.TasksRetried)
	}
}

func TestPoolRecoversAfterRetry(t *testing.T) {
	var mu sync.Mutex
	failures := 1
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	pool.Start()
	if err := pool.Submit(&Task{ID: "flaky"}); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, func() bool { return pool.Stats().TasksCompleted == 1 })
	pool.Stop()

	stats := pool.Stats()
	if stats.TasksCompleted != 1 {
		t.Errorf("stats.TasksCompleted = %d, want 1", stats.TasksCompleted)
	}
	if stats.TasksFailed != 0 {
		t.Errorf("stats.TasksFailed = %d, want 0", stats.TasksFailed)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) error { return nil }, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("Submit() accepted a task after Stop()")
	}
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	block := make(chan struct{})
	pool, err := New(cfg, func(ctx context.Context, task *Task) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue. Submitting
	// until an error shows the bound is enforced.
	var sawFull bool
	for i := 0; i < 4; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("Submit() never reported a full queue")
	}
}
