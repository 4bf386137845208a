package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/store"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [rule|release] [id]",
	Short: "Query pipeline state",
	Long: `Status without arguments summarizes the pipeline: rules per status,
queue depths, dead letters, and the latest release.

With a subject it prints the full state of one rule or release:

  normativ status rule 6c0f...
  normativ status release 1.2.0`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := loadConfig()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	switch {
	case len(args) == 0:
		return printOverview(ctx, st)
	case len(args) == 2 && args[0] == "rule":
		return printRule(ctx, st, args[1])
	case len(args) == 2 && args[0] == "release":
		return printRelease(ctx, st, args[1])
	default:
		return fmt.Errorf("usage: normativ status [rule|release] <id>")
	}
}

func printOverview(ctx context.Context, st *store.Store) error {
	fmt.Println("Rules")
	for _, status := range []model.RuleStatus{
		model.StatusDraft, model.StatusPendingReview, model.StatusApproved,
		model.StatusPublished, model.StatusRejected,
	} {
		rules, err := st.RulesByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s rules: %w", status, err)
		}
		fmt.Printf("  %-15s %d\n", status, len(rules))
	}

	conflicts, err := st.OpenConflictCount(ctx)
	if err != nil {
		return fmt.Errorf("counting conflicts: %w", err)
	}
	fmt.Printf("\nOpen conflicts   %d\n", conflicts)

	depths, err := st.QueueDepths(ctx)
	if err != nil {
		return fmt.Errorf("reading queue depths: %w", err)
	}
	fmt.Println("\nQueues")
	for _, q := range model.PipelineQueues() {
		statuses := depths[q]
		if len(statuses) == 0 {
			fmt.Printf("  %-10s empty\n", q)
			continue
		}
		var parts []string
		for s, n := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(s), n))
		}
		fmt.Printf("  %-10s %s\n", q, strings.Join(parts, " "))
	}

	dead, err := st.DeadLetterCount(ctx)
	if err != nil {
		return fmt.Errorf("counting dead letters: %w", err)
	}
	fmt.Printf("\nDead letters     %d\n", dead)

	latest, err := st.LatestVersion(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		fmt.Println("Latest release   none")
	case err != nil:
		return fmt.Errorf("reading latest release: %w", err)
	default:
		fmt.Printf("Latest release   %s\n", latest)
	}
	return nil
}

func printRule(ctx context.Context, st *store.Store, id string) error {
	rule, err := st.GetRule(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Rule      %s\n", rule.ID)
	fmt.Printf("Slug      %s\n", rule.ConceptSlug)
	fmt.Printf("Domain    %s\n", rule.Domain)
	fmt.Printf("Title     %s / %s\n", rule.Title.HR, rule.Title.EN)
	fmt.Printf("Value     %s (%s)\n", rule.Value, rule.ValueType)
	fmt.Printf("Tier      %s   Authority %s   Confidence %.2f\n", rule.RiskTier, rule.Authority, rule.Confidence)
	fmt.Printf("Status    %s\n", rule.Status)
	if rule.ReviewReason != "" {
		fmt.Printf("Review    %s\n", rule.ReviewReason)
	}
	if rule.ReviewDeadline != nil {
		fmt.Printf("Deadline  %s\n", rule.ReviewDeadline.Format(time.RFC3339))
	}
	if rule.ApprovedBy != "" {
		fmt.Printf("Approved  by %s", rule.ApprovedBy)
		if rule.ApprovedAt != nil {
			fmt.Printf(" at %s", rule.ApprovedAt.Format(time.RFC3339))
		}
		fmt.Println()
	}
	if rule.SupersedesID != "" {
		fmt.Printf("Supersedes %s\n", rule.SupersedesID)
	}
	fmt.Printf("Pointers  %d\n", len(rule.Pointers))
	for _, p := range rule.Pointers {
		quote := p.Quote
		if len(quote) > 60 {
			quote = quote[:60] + "…"
		}
		fmt.Printf("  - %s: %q\n", p.DocumentID, quote)
	}

	open, err := st.OpenConflictsForRules(ctx, []string{rule.ID})
	if err != nil {
		return fmt.Errorf("loading conflicts: %w", err)
	}
	if len(open) > 0 {
		fmt.Printf("Conflicts %d open\n", len(open))
		for _, c := range open {
			fmt.Printf("  - %s: %s\n", c.Kind, c.Description)
		}
	}

	trail, err := st.AuditTrail(ctx, "rule", rule.ID)
	if err != nil {
		return fmt.Errorf("loading audit trail: %w", err)
	}
	if len(trail) > 0 {
		fmt.Println("History")
		for _, e := range trail {
			line := fmt.Sprintf("  %s  %s", e.CreatedAt.Format("2006-01-02 15:04"), e.Action)
			if e.Reason != "" {
				line += ": " + e.Reason
			}
			fmt.Println(line)
		}
	}
	return nil
}

func printRelease(ctx context.Context, st *store.Store, version string) error {
	rel, err := st.GetRelease(ctx, version)
	if err != nil {
		return err
	}

	fmt.Printf("Release   %s (%s)\n", rel.Version, rel.Type)
	fmt.Printf("Hash      %s\n", rel.ContentHash)
	fmt.Printf("Created   %s\n", rel.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Rules     %d   Pointers %d   Sources %d   Human approvals %d\n",
		rel.ReviewCount, rel.PointerCount, rel.SourceCount, rel.HumanApprovalCount)
	if len(rel.ApprovedBy) > 0 {
		fmt.Printf("Approvers %s\n", strings.Join(rel.ApprovedBy, ", "))
	}
	fmt.Println("\nChangelog (hr)")
	fmt.Println(indent(rel.Changelog.HR))
	fmt.Println("\nChangelog (en)")
	fmt.Println(indent(rel.Changelog.EN))
	return nil
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
