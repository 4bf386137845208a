package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/model"
)

// Handler runs one leased job. A terminal rejection parks the job as
// FAILED; any other error returns it to the queue with backoff until
// the attempt budget runs out.
type Handler func(ctx context.Context, job model.Job) error

// WorkerStore is the lease slice of the database layer
type WorkerStore interface {
	LeaseJob(ctx context.Context, queue, workerID string, leaseFor time.Duration, now time.Time) (model.Job, bool, error)
	CompleteJob(ctx context.Context, jobID, workerID string) error
	FailJob(ctx context.Context, jobID, errMsg string, terminal bool, retryAfter time.Duration) error
}

// Runner drains the pipeline queues with a fixed worker fleet per
// queue. Crash recovery rides on leases: a worker that dies mid-job
// leaves a lease that expires, and the job becomes leasable again.
type Runner struct {
	store    WorkerStore
	cfg      model.QueueConfig
	handlers map[string]Handler
	limiter  *Limiter
	auditor  audit.Logger
	log      *slog.Logger
	host     string
	now      func() time.Time
}

// NewRunner builds a runner with no handlers registered
func NewRunner(store WorkerStore, cfg model.QueueConfig, auditor audit.Logger, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if auditor == nil {
		auditor = audit.NewLogger(log, nil)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Runner{
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		limiter:  NewLimiter(cfg.RatePerSecond, cfg.RateBurst),
		auditor:  auditor,
		log:      log.With("component", "queue"),
		host:     host + "-" + uuid.NewString()[:8],
		now:      time.Now,
	}
}

// Register installs the handler for a queue. Last registration wins.
func (r *Runner) Register(queue string, h Handler) {
	r.handlers[queue] = h
}

// Run blocks draining every registered queue until the context ends
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return errors.New("no queue handlers registered")
	}
	workers := r.cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for queue, handler := range r.handlers {
		for i := 0; i < workers; i++ {
			wg.Add(1)
			workerID := fmt.Sprintf("%s-%s-%d", r.host, queue, i)
			go func(queue, workerID string, h Handler) {
				defer wg.Done()
				r.drain(ctx, queue, workerID, h)
			}(queue, workerID, handler)
		}
	}
	wg.Wait()
	return nil
}

func (r *Runner) drain(ctx context.Context, queue, workerID string, h Handler) {
	idle := newIdleWait(r.cfg.PollMinIdle, r.cfg.PollMaxIdle)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(ctx, queue); err != nil {
			return
		}

		job, ok, err := r.store.LeaseJob(ctx, queue, workerID, r.cfg.LeaseDuration, r.now().UTC())
		if err != nil {
			if ctx.Err() == nil {
				r.log.ErrorContext(ctx, "lease attempt failed", "queue", queue, "error", err)
			}
			if !idle.Sleep(ctx) {
				return
			}
			continue
		}
		if !ok {
			if !idle.Sleep(ctx) {
				return
			}
			continue
		}

		idle.Reset()
		r.execute(ctx, queue, workerID, job, h)
	}
}

func (r *Runner) execute(ctx context.Context, queue, workerID string, job model.Job, h Handler) {
	started := r.now()
	err := h(ctx, job)
	elapsed := r.now().Sub(started)

	// Outcome bookkeeping outlives shutdown; without it the lease has
	// to expire before another worker can touch the job.
	book, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if cerr := r.store.CompleteJob(book, job.ID, workerID); cerr != nil {
			r.log.ErrorContext(ctx, "job completion not recorded",
				"queue", queue, "job", job.ID, "error", cerr)
			return
		}
		observeJob(queue, outcomeSucceeded, elapsed)
		r.log.DebugContext(ctx, "job done",
			"queue", queue, "job", job.ID, "attempt", job.Attempts, "elapsed", elapsed)

	case model.IsTerminal(err):
		if ferr := r.store.FailJob(book, job.ID, err.Error(), true, 0); ferr != nil {
			r.log.ErrorContext(ctx, "job failure not recorded",
				"queue", queue, "job", job.ID, "error", ferr)
			return
		}
		observeJob(queue, outcomeTerminal, elapsed)
		r.log.WarnContext(ctx, "job rejected",
			"queue", queue, "job", job.ID, "error", err)

	default:
		retryAfter := Backoff(r.cfg.BaseBackoff, r.cfg.MaxBackoff, job.Attempts)
		exhausted := job.Attempts >= job.MaxAttempts
		if ferr := r.store.FailJob(book, job.ID, err.Error(), false, retryAfter); ferr != nil {
			r.log.ErrorContext(ctx, "job failure not recorded",
				"queue", queue, "job", job.ID, "error", ferr)
			return
		}
		if exhausted {
			observeJob(queue, outcomeDead, elapsed)
			r.log.ErrorContext(ctx, "job dead-lettered",
				"queue", queue, "job", job.ID, "attempts", job.Attempts, "error", err)
			r.recordDead(book, queue, job, err)
			return
		}
		observeJob(queue, outcomeRetried, elapsed)
		r.log.WarnContext(ctx, "job retry scheduled",
			"queue", queue, "job", job.ID, "attempt", job.Attempts,
			"retry_after", retryAfter, "error", err)
	}
}

func (r *Runner) recordDead(ctx context.Context, queue string, job model.Job, cause error) {
	err := r.auditor.Record(ctx, audit.Event{
		Kind:        "job",
		SubjectKind: "job",
		SubjectID:   job.ID,
		Action:      "job.dead_lettered",
		Reason:      cause.Error(),
		Metadata: map[string]interface{}{
			"queue":           queue,
			"attempts":        job.Attempts,
			"idempotency_key": job.IdempotencyKey,
		},
	})
	if err != nil {
		r.log.ErrorContext(ctx, "audit record failed", "job", job.ID, "error", err)
	}
}
