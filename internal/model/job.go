package model

import (
	"encoding/json"
	"time"
)

// Job is a unit of queued pipeline work, persisted so every stage
// transition survives restarts and retries.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`           // compose, review, release
	IdempotencyKey string          `json:"idempotency_key"` // Unique per queue+work unit
	Payload        json.RawMessage `json:"payload"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	RunAt          time.Time       `json:"run_at"` // Earliest eligible execution time
	LeasedBy       string          `json:"leased_by,omitempty"`
	LeasedUntil    *time.Time      `json:"leased_until,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobStatus is the queue lifecycle state
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED" // Terminal rejection, no retry
	JobDead      JobStatus = "DEAD"   // Retries exhausted, parked in dead-letter
)

// Queue names used across the pipeline.
const (
	QueueCompose = "compose"
	QueueReview  = "review"
	QueueRelease = "release"
)

// PipelineQueues lists every queue a worker fleet should drain
func PipelineQueues() []string {
	return []string{QueueCompose, QueueReview, QueueRelease}
}
