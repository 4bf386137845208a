package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/normativhq/normativ/internal/model"
)

// factsCmd represents the facts command group
var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage captured facts",
}

// intakeFile is the on-disk shape `facts import` accepts: the typed
// facts to capture plus, optionally, the source documents they cite.
type intakeFile struct {
	Documents []model.SourceDocument `json:"documents,omitempty"`
	Facts     []model.Fact           `json:"facts"`
}

var factsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Capture typed facts (and their source documents) from a file",
	Long: `Import reads a JSON file of typed facts, each grounded in verbatim
quotes from source documents, and captures them for composition.

Documents listed in the file are stored first; their content hashes are
computed when absent so the evidence chain can be verified later.

Example:
  normativ facts import facts.json
  normativ facts import facts.json --db normativ.db`,
	Args: cobra.ExactArgs(1),
	RunE: runFactsImport,
}

func init() {
	rootCmd.AddCommand(factsCmd)
	factsCmd.AddCommand(factsImportCmd)
}

func runFactsImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := loadConfig()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading intake file: %w", err)
	}
	var intake intakeFile
	if err := json.Unmarshal(raw, &intake); err != nil {
		return fmt.Errorf("parsing intake file: %w", err)
	}
	if len(intake.Facts) == 0 {
		return fmt.Errorf("intake file carries no facts")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	for _, doc := range intake.Documents {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if doc.ContentHash == "" {
			doc.ContentHash = contentDigest(doc.Content)
		}
		if doc.FetchHash == "" {
			doc.FetchHash = doc.ContentHash
		}
		if doc.FetchedAt.IsZero() {
			doc.FetchedAt = time.Now().UTC()
		}
		if err := st.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("storing document %s: %w", doc.ID, err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Document %s (%s)\n", doc.ID, doc.Title)
		}
	}

	groups := make(map[string]int)
	for _, fact := range intake.Facts {
		if fact.ID == "" {
			fact.ID = uuid.NewString()
		}
		fact.Status = model.FactCaptured
		if err := st.SaveFact(ctx, fact); err != nil {
			return fmt.Errorf("storing fact %s: %w", fact.ID, err)
		}
		groups[fact.GroupingKey()]++
	}

	fmt.Printf("✓ Captured %d facts across %d grouping keys", len(intake.Facts), len(groups))
	if len(intake.Documents) > 0 {
		fmt.Printf(" (%d documents)", len(intake.Documents))
	}
	fmt.Println()
	fmt.Println("\nTo queue composition for everything captured:")
	fmt.Println("  normativ compose --pending")

	return nil
}

func contentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
