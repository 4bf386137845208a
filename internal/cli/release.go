package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/cache"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/release"
)

var (
	releaseRules string
	releaseBy    string
)

// releaseCmd represents the release command group
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Build and inspect immutable releases",
	Long: `Release publishes batches of approved rules as immutable, semver
versioned snapshots. Every batch passes five hard gates and a full
evidence-chain verification before anything is written.`,
}

var releaseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a release attempt for a batch of approved rules",
	Long: `Create queues a release job; the worker fleet runs the gates, the
evidence chain, and the atomic publish.

Example:
  normativ release create --rules rule-1,rule-2 --by ana.novak`,
	RunE: runReleaseCreate,
}

var releaseVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Dry-run the release gates and evidence chain for a batch",
	Long: `Verify runs every release gate and re-verifies the evidence chain
for a batch without publishing anything. A refusal names each failed
gate and the rule ids that tripped it.

Example:
  normativ release verify --rules rule-1,rule-2`,
	RunE: runReleaseVerify,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.AddCommand(releaseCreateCmd)
	releaseCmd.AddCommand(releaseVerifyCmd)

	releaseCreateCmd.Flags().StringVar(&releaseRules, "rules", "", "comma-separated rule ids (required)")
	releaseCreateCmd.Flags().StringVar(&releaseBy, "by", "", "who requested the release")
	_ = releaseCreateCmd.MarkFlagRequired("rules")
	releaseVerifyCmd.Flags().StringVar(&releaseRules, "rules", "", "comma-separated rule ids (required)")
	_ = releaseVerifyCmd.MarkFlagRequired("rules")
}

func runReleaseCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := loadConfig()

	ids := splitIDs(releaseRules)
	if len(ids) == 0 {
		return fmt.Errorf("no rule ids in --rules")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	enq := queue.NewEnqueuer(st, cfg.Queue)
	job, fresh, err := enq.Enqueue(ctx, queue.NewReleaseJob(ids, releaseBy))
	if err != nil {
		return fmt.Errorf("queueing release: %w", err)
	}
	if fresh {
		fmt.Printf("✓ Queued release %s (%d rules)\n", shortKey(job.IdempotencyKey), len(ids))
	} else {
		fmt.Printf("• Release %s already queued (status %s)\n", shortKey(job.IdempotencyKey), job.Status)
	}
	return nil
}

func runReleaseVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := loadConfig()
	log := newLogger()

	ids := splitIDs(releaseRules)
	if len(ids) == 0 {
		return fmt.Errorf("no rule ids in --rules")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	verifier := evidence.NewVerifier(st, cache.New(cfg.Cache), cfg.Queue.WorkerCount)
	builder := release.NewBuilder(st, verifier, release.NoopNotifier{}, audit.NewLogger(log, nil), log)

	if err := builder.Verify(ctx, ids); err != nil {
		return err
	}
	fmt.Printf("✓ Batch of %d rules passes every gate and the evidence chain\n", len(ids))
	return nil
}
