package queue

import (
	"context"

	"github.com/normativhq/normativ/internal/model"
)

// JobStore is the slice of the store the enqueuer needs
type JobStore interface {
	EnqueueJob(ctx context.Context, job model.Job) (model.Job, bool, error)
}

// Enqueuer stamps config defaults onto jobs before they hit the store.
// Job constructors stay pure; retry budgets come from configuration.
type Enqueuer struct {
	store JobStore
	cfg   model.QueueConfig
}

// NewEnqueuer wraps a job store with the configured retry budget
func NewEnqueuer(store JobStore, cfg model.QueueConfig) *Enqueuer {
	return &Enqueuer{store: store, cfg: cfg}
}

// Enqueue persists a job, filling in the configured max attempts when the
// constructor left it unset. The flag reports whether work was actually
// added or the idempotency key already existed.
func (e *Enqueuer) Enqueue(ctx context.Context, job model.Job) (model.Job, bool, error) {
	if job.MaxAttempts == 0 {
		job.MaxAttempts = e.cfg.MaxAttempts
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	return e.store.EnqueueJob(ctx, job)
}
