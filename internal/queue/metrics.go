package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "normativ",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Jobs finished, labelled by queue and outcome.",
	}, []string{"queue", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "normativ",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Handler execution time per queue.",
		Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 180},
	}, []string{"queue"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "normativ",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Jobs per queue and status at the last health sample.",
	}, []string{"queue", "status"})

	deadLetters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "normativ",
		Subsystem: "queue",
		Name:      "dead_letters",
		Help:      "Jobs parked in the dead-letter state.",
	})
)

// Outcome labels for jobsProcessed.
const (
	outcomeSucceeded = "succeeded"
	outcomeTerminal  = "terminal"
	outcomeRetried   = "retried"
	outcomeDead      = "dead"
)

func observeJob(queue, outcome string, elapsed time.Duration) {
	jobsProcessed.WithLabelValues(queue, outcome).Inc()
	jobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// DepthSource is the store slice the health sampler reads
type DepthSource interface {
	QueueDepths(ctx context.Context) (map[string]map[string]int, error)
	DeadLetterCount(ctx context.Context) (int, error)
}

// Health samples queue depths into the Prometheus gauges and raises the
// dead-letter alert when the backlog crosses the configured threshold.
type Health struct {
	source   DepthSource
	alertMin int
	log      *slog.Logger
}

// NewHealth builds a sampler. An alertMin of zero or less means one.
func NewHealth(source DepthSource, alertMin int, log *slog.Logger) *Health {
	if alertMin <= 0 {
		alertMin = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Health{source: source, alertMin: alertMin, log: log}
}

// Observe takes one sample. Returns the current dead-letter count.
func (h *Health) Observe(ctx context.Context) (int, error) {
	depths, err := h.source.QueueDepths(ctx)
	if err != nil {
		return 0, err
	}
	for queue, statuses := range depths {
		for status, n := range statuses {
			queueDepth.WithLabelValues(queue, status).Set(float64(n))
		}
	}

	dead, err := h.source.DeadLetterCount(ctx)
	if err != nil {
		return 0, err
	}
	deadLetters.Set(float64(dead))
	if dead >= h.alertMin {
		h.log.WarnContext(ctx, "dead-letter backlog needs operator attention",
			"count", dead, "threshold", h.alertMin)
	}
	return dead, nil
}

// Run samples on the given interval until the context ends
func (h *Health) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Observe(ctx); err != nil && ctx.Err() == nil {
				h.log.ErrorContext(ctx, "queue health sample failed", "error", err)
			}
		}
	}
}
