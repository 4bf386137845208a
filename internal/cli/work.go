package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/authority"
	"github.com/normativhq/normativ/internal/cache"
	"github.com/normativhq/normativ/internal/compose"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/reason"
	"github.com/normativhq/normativ/internal/release"
	"github.com/normativhq/normativ/internal/review"
	"github.com/normativhq/normativ/internal/taxonomy"
)

var (
	workQueues      string
	workMetricsAddr string
)

// workCmd represents the work command
var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the worker fleet that drains the pipeline queues",
	Long: `Work leases jobs from the compose, review, and release queues and
runs them until interrupted. Transient failures retry with exponential
backoff; terminal rejections are recorded and never retried; exhausted
jobs park in the dead-letter state for an operator.

The compose queue needs a reasoning provider; set the matching API key
(OPENAI_API_KEY, ANTHROPIC_API_KEY) or run --queues review,release.

Example:
  normativ work
  normativ work --queues review,release
  normativ work --metrics-addr :9100`,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)

	workCmd.Flags().StringVar(&workQueues, "queues", "", "comma-separated queues to drain (default: all)")
	workCmd.Flags().StringVar(&workMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	log := newLogger()

	queues := model.PipelineQueues()
	if workQueues != "" {
		queues = splitIDs(workQueues)
		for _, q := range queues {
			if q != model.QueueCompose && q != model.QueueReview && q != model.QueueRelease {
				return fmt.Errorf("unknown queue %q", q)
			}
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	auditor := audit.NewLogger(log, st)
	runner := queue.NewRunner(st, cfg.Queue, auditor, log)

	for _, q := range queues {
		switch q {
		case model.QueueCompose:
			provider, err := reason.NewProvider(cfg.Reason)
			if err != nil {
				return fmt.Errorf("building reasoning provider: %w", err)
			}
			composer := compose.New(compose.Deps{
				Store:     st,
				Provider:  provider,
				Taxonomy:  taxonomy.NewService(st.LoadTaxonomy, cfg.Taxonomy.SnapshotTTL),
				Authority: authority.NewClassifier(cfg.Authority),
				Enqueue:   queue.NewEnqueuer(st, cfg.Queue),
				Audit:     auditor,
				Review:    cfg.Review,
				Reason:    cfg.Reason,
				Log:       log,
			})
			runner.Register(model.QueueCompose, composeHandler(composer))

		case model.QueueReview:
			gate := review.NewGate(st, cfg.Review, auditor, log)
			runner.Register(model.QueueReview, reviewHandler(gate))

		case model.QueueRelease:
			verifier := evidence.NewVerifier(st, cache.New(cfg.Cache), cfg.Queue.WorkerCount)
			var notifier release.Notifier = release.NoopNotifier{}
			if cfg.Release.NotifyURL != "" {
				notifier = release.NewWebhookNotifier(cfg.Release.NotifyURL, 10*time.Second)
			}
			builder := release.NewBuilder(st, verifier, notifier, auditor, log)
			runner.Register(model.QueueRelease, releaseHandler(builder))
		}
	}

	health := queue.NewHealth(st, cfg.Queue.DeadLetterAlertMin, log)
	go health.Run(ctx, 15*time.Second)

	if workMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: workMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener failed", "addr", workMetricsAddr, "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintf(os.Stderr, "Draining queues: %s (%d workers each)\n", strings.Join(queues, ", "), cfg.Queue.WorkerCount)
	if workMetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics on http://%s/metrics\n", workMetricsAddr)
	}
	fmt.Fprintf(os.Stderr, "Press Ctrl-C to stop.\n\n")

	if err := runner.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n✓ Worker fleet stopped cleanly\n")
	return nil
}

func composeHandler(c *compose.Composer) queue.Handler {
	return func(ctx context.Context, job model.Job) error {
		var payload queue.ComposePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return model.NewInputRejection("job/"+job.ID, "malformed compose payload: %v", err)
		}
		_, err := c.Compose(ctx, compose.Request{FactIDs: payload.FactIDs, Domain: payload.Domain})
		return err
	}
}

func reviewHandler(g *review.Gate) queue.Handler {
	return func(ctx context.Context, job model.Job) error {
		var payload queue.ReviewPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return model.NewInputRejection("job/"+job.ID, "malformed review payload: %v", err)
		}
		_, err := g.Evaluate(ctx, payload.RuleID)
		return err
	}
}

func releaseHandler(b *release.Builder) queue.Handler {
	return func(ctx context.Context, job model.Job) error {
		var payload queue.ReleasePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return model.NewInputRejection("job/"+job.ID, "malformed release payload: %v", err)
		}
		_, err := b.Build(ctx, payload.RuleIDs)
		return err
	}
}
