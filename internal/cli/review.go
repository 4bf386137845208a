package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/review"
	"github.com/normativhq/normativ/internal/store"
)

var (
	reviewApprover string
	reviewReason   string
	reviewReviewer string
	reviewOverdue  bool
)

// reviewCmd represents the review command group
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Operate the tiered review gate",
	Long: `Review runs and inspects the gate between composed drafts and
anything releasable. Critical tiers (T0, T1) always wait for a human;
quiet tiers may auto-approve when every check passes.`,
}

var reviewSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate every draft and pending rule against the gate",
	Long: `Sweep re-runs the gate over all rules still in DRAFT or
PENDING_REVIEW. Rules whose holds have cleared (confidence risen, grace
elapsed, conflicts resolved) auto-approve; the rest keep their original
review deadline.

Example:
  normativ review sweep`,
	RunE: runReviewSweep,
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List rules waiting for review, highest priority first",
	RunE:  runReviewPending,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <rule-id>",
	Short: "Approve a pending rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		gate, st, err := openGate(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := gate.Approve(ctx, args[0], reviewApprover); err != nil {
			return err
		}
		fmt.Printf("✓ Approved %s (by %s)\n", args[0], reviewApprover)
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <rule-id>",
	Short: "Reject a rule terminally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		gate, st, err := openGate(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := gate.Reject(ctx, args[0], reviewReviewer, reviewReason); err != nil {
			return err
		}
		fmt.Printf("✓ Rejected %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewSweepCmd)
	reviewCmd.AddCommand(reviewPendingCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)

	reviewPendingCmd.Flags().BoolVar(&reviewOverdue, "overdue", false, "only rules past their review deadline")
	reviewApproveCmd.Flags().StringVar(&reviewApprover, "by", "", "approver identity (required)")
	_ = reviewApproveCmd.MarkFlagRequired("by")
	reviewRejectCmd.Flags().StringVar(&reviewReviewer, "by", "", "reviewer identity (required)")
	reviewRejectCmd.Flags().StringVar(&reviewReason, "reason", "", "rejection reason (required)")
	_ = reviewRejectCmd.MarkFlagRequired("by")
	_ = reviewRejectCmd.MarkFlagRequired("reason")
}

func openGate(ctx context.Context) (*review.Gate, *store.Store, error) {
	cfg := loadConfig()
	log := newLogger()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	gate := review.NewGate(st, cfg.Review, audit.NewLogger(log, st), log)
	return gate, st, nil
}

func runReviewSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	gate, st, err := openGate(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var eligible []model.Rule
	for _, status := range []model.RuleStatus{model.StatusDraft, model.StatusPendingReview} {
		rules, err := st.RulesByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s rules: %w", status, err)
		}
		eligible = append(eligible, rules...)
	}
	if len(eligible) == 0 {
		fmt.Println("Nothing to evaluate.")
		return nil
	}

	approved, held := 0, 0
	for _, rule := range eligible {
		outcome, err := gate.Evaluate(ctx, rule.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", rule.ID, err)
			continue
		}
		switch outcome.Decision {
		case review.DecisionAutoApproved:
			approved++
			if verbose {
				fmt.Fprintf(os.Stderr, "✓ %s auto-approved\n", rule.ID)
			}
		case review.DecisionPendingReview:
			held++
			if verbose {
				fmt.Fprintf(os.Stderr, "• %s held: %s\n", rule.ID, strings.Join(outcome.Reasons, "; "))
			}
		}
	}
	fmt.Printf("✓ Swept %d rules: %d auto-approved, %d waiting for review\n", len(eligible), approved, held)
	return nil
}

func runReviewPending(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	gate, st, err := openGate(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var rules []model.Rule
	if reviewOverdue {
		rules, err = gate.Overdue(ctx)
	} else {
		rules, err = gate.Pending(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing review queue: %w", err)
	}
	if len(rules) == 0 {
		fmt.Println("Review queue is empty.")
		return nil
	}

	now := time.Now().UTC()
	fmt.Printf("%-36s  %-24s  %-4s  %-8s  %s\n", "RULE", "SLUG", "TIER", "DEADLINE", "REASON")
	for _, r := range rules {
		deadline := "-"
		if r.ReviewDeadline != nil {
			remaining := r.ReviewDeadline.Sub(now).Round(time.Hour)
			if remaining < 0 {
				deadline = fmt.Sprintf("-%s", (-remaining).String())
			} else {
				deadline = remaining.String()
			}
		}
		fmt.Printf("%-36s  %-24s  %-4s  %-8s  %s\n",
			r.ID, r.ConceptSlug, r.RiskTier, deadline, r.ReviewReason)
	}
	fmt.Printf("\n%d rules waiting", len(rules))
	if reviewOverdue {
		fmt.Print(" past deadline")
	}
	fmt.Println()
	return nil
}
