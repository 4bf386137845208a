package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/store"
)

func fastQueueConfig() model.QueueConfig {
	return model.QueueConfig{
		WorkerCount:        2,
		LeaseDuration:      5 * time.Second,
		MaxAttempts:        3,
		BaseBackoff:        time.Millisecond,
		MaxBackoff:         2 * time.Millisecond,
		PollMinIdle:        time.Millisecond,
		PollMaxIdle:        5 * time.Millisecond,
		DeadLetterAlertMin: 1,
	}
}

func testRunner(t *testing.T, cfg model.QueueConfig) (*store.Store, *Runner) {
	t.Helper()
	st, err := store.Open(model.StoreConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Expected store to open, got %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Expected schema init to succeed, got %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, NewRunner(st, cfg, audit.NewLogger(nil, st), nil)
}

// runUntil drains in the background until the condition holds or the
// deadline passes.
func runUntil(t *testing.T, r *Runner, condition func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(finished)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			cancel()
			<-finished
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-finished
	t.Fatal("Expected the condition to hold before the deadline")
}

func jobStatus(t *testing.T, st *store.Store, key string) model.Job {
	t.Helper()
	job, err := st.JobByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("Expected job %s to exist, got %v", key, err)
	}
	return job
}

func TestRunner_CompletesJob(t *testing.T) {
	cfg := fastQueueConfig()
	st, r := testRunner(t, cfg)
	enq := NewEnqueuer(st, cfg)

	job, fresh, err := enq.Enqueue(context.Background(), NewComposeJob([]string{"fact-1", "fact-2"}, "pdv-stopa"))
	if err != nil || !fresh {
		t.Fatalf("Expected a fresh enqueue, got fresh=%v err=%v", fresh, err)
	}

	var mu sync.Mutex
	var seen []string
	r.Register(model.QueueCompose, func(_ context.Context, j model.Job) error {
		var payload ComposePayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, payload.FactIDs...)
		mu.Unlock()
		return nil
	})

	runUntil(t, r, func() bool {
		return jobStatus(t, st, job.IdempotencyKey).Status == model.JobSucceeded
	})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("Expected the handler to see both fact ids, got %v", seen)
	}
}

func TestRunner_TerminalRejectionParksJob(t *testing.T) {
	cfg := fastQueueConfig()
	st, r := testRunner(t, cfg)
	enq := NewEnqueuer(st, cfg)

	job, _, err := enq.Enqueue(context.Background(), NewComposeJob([]string{"fact-1"}, ""))
	if err != nil {
		t.Fatalf("Expected enqueue to succeed, got %v", err)
	}

	r.Register(model.QueueCompose, func(context.Context, model.Job) error {
		return model.NewInputRejection("fact-group", "facts span grouping keys")
	})

	runUntil(t, r, func() bool {
		return jobStatus(t, st, job.IdempotencyKey).Status == model.JobFailed
	})

	final := jobStatus(t, st, job.IdempotencyKey)
	if final.Attempts != 1 {
		t.Errorf("Expected a terminal rejection to burn exactly one attempt, got %d", final.Attempts)
	}
	if !strings.Contains(final.LastError, "grouping keys") {
		t.Errorf("Expected the rejection recorded on the job, got %q", final.LastError)
	}
}

func TestRunner_TransientFailureRetries(t *testing.T) {
	cfg := fastQueueConfig()
	st, r := testRunner(t, cfg)
	enq := NewEnqueuer(st, cfg)

	job, _, err := enq.Enqueue(context.Background(), NewComposeJob([]string{"fact-1"}, ""))
	if err != nil {
		t.Fatalf("Expected enqueue to succeed, got %v", err)
	}

	var mu sync.Mutex
	calls := 0
	r.Register(model.QueueCompose, func(context.Context, model.Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("reasoning: provider timeout")
		}
		return nil
	})

	runUntil(t, r, func() bool {
		return jobStatus(t, st, job.IdempotencyKey).Status == model.JobSucceeded
	})

	final := jobStatus(t, st, job.IdempotencyKey)
	if final.Attempts != 2 {
		t.Errorf("Expected success on the second attempt, got %d", final.Attempts)
	}
}

func TestRunner_ExhaustedRetriesDeadLetter(t *testing.T) {
	cfg := fastQueueConfig()
	cfg.MaxAttempts = 2
	st, r := testRunner(t, cfg)
	enq := NewEnqueuer(st, cfg)

	ctx := context.Background()
	job, _, err := enq.Enqueue(ctx, NewComposeJob([]string{"fact-1"}, ""))
	if err != nil {
		t.Fatalf("Expected enqueue to succeed, got %v", err)
	}

	r.Register(model.QueueCompose, func(context.Context, model.Job) error {
		return errors.New("provider unavailable")
	})

	runUntil(t, r, func() bool {
		return jobStatus(t, st, job.IdempotencyKey).Status == model.JobDead
	})

	count, err := st.DeadLetterCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("Expected one dead letter, got %d (%v)", count, err)
	}

	dead := jobStatus(t, st, job.IdempotencyKey)
	trail, err := st.AuditTrail(ctx, "job", dead.ID)
	if err != nil {
		t.Fatalf("Expected audit trail to load, got %v", err)
	}
	found := false
	for _, e := range trail {
		if e.Action == "job.dead_lettered" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a dead-letter audit event")
	}
}

func TestRunner_NoHandlersRefusesToRun(t *testing.T) {
	_, r := testRunner(t, fastQueueConfig())
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("Expected a runner without handlers to refuse")
	}
}
