package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
)

var (
	composeFacts   string
	composeDomain  string
	composePending bool
)

// composeCmd represents the compose command
var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Queue composition jobs for captured facts",
	Long: `Compose queues jobs that turn groups of captured facts into draft
rules. The actual composition runs on the worker fleet (normativ work).

Jobs are idempotent per fact group: queueing the same group twice adds
nothing, and a group already composed returns its existing rule.

Example:
  normativ compose --facts fact-1,fact-2
  normativ compose --pending`,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringVar(&composeFacts, "facts", "", "comma-separated fact ids to compose as one group")
	composeCmd.Flags().StringVar(&composeDomain, "domain", "", "domain hint for the job payload (blocklist fail-fast)")
	composeCmd.Flags().BoolVar(&composePending, "pending", false, "queue one job per grouping key over all captured facts")
}

func runCompose(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := loadConfig()

	if (composeFacts != "") == composePending {
		return fmt.Errorf("exactly one of --facts or --pending is required")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	enq := queue.NewEnqueuer(st, cfg.Queue)

	if composeFacts != "" {
		ids := splitIDs(composeFacts)
		if len(ids) == 0 {
			return fmt.Errorf("no fact ids in --facts")
		}
		job, fresh, err := enq.Enqueue(ctx, queue.NewComposeJob(ids, composeDomain))
		if err != nil {
			return fmt.Errorf("queueing composition: %w", err)
		}
		if fresh {
			fmt.Printf("✓ Queued composition %s (%d facts)\n", shortKey(job.IdempotencyKey), len(ids))
		} else {
			fmt.Printf("• Composition %s already queued (status %s)\n", shortKey(job.IdempotencyKey), job.Status)
		}
		return nil
	}

	facts, err := st.FactsByStatus(ctx, model.FactCaptured)
	if err != nil {
		return fmt.Errorf("listing captured facts: %w", err)
	}
	if len(facts) == 0 {
		fmt.Println("No captured facts waiting for composition.")
		return nil
	}

	type group struct {
		ids    []string
		domain string
	}
	groups := make(map[string]*group)
	for _, f := range facts {
		key := f.GroupingKey()
		g, ok := groups[key]
		if !ok {
			g = &group{domain: f.Domain}
			groups[key] = g
		}
		g.ids = append(g.ids, f.ID)
	}

	queued := 0
	for _, g := range groups {
		job, fresh, err := enq.Enqueue(ctx, queue.NewComposeJob(g.ids, g.domain))
		if err != nil {
			return fmt.Errorf("queueing composition: %w", err)
		}
		if fresh {
			queued++
		}
		if verbose {
			marker := "•"
			if fresh {
				marker = "✓"
			}
			fmt.Fprintf(os.Stderr, "%s %s: %d facts (%s)\n", marker, shortKey(job.IdempotencyKey), len(g.ids), g.domain)
		}
	}
	fmt.Printf("✓ Queued %d of %d fact groups (%d already queued)\n", queued, len(groups), len(groups)-queued)
	return nil
}

// shortKey trims an idempotency key for display
func shortKey(key string) string {
	if len(key) > 20 {
		return key[:20]
	}
	return key
}
