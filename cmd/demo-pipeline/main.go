// Demo program that runs the whole pipeline in memory: captured VAT
// facts compose into a draft rule, the tiered gate holds it for a
// human, approval clears it, and a release publishes it. A later
// contradicting fact then escalates instead of silently replacing the
// published rule. No API key needed; reasoning is stubbed.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/authority"
	"github.com/normativhq/normativ/internal/compose"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/reason"
	"github.com/normativhq/normativ/internal/release"
	"github.com/normativhq/normativ/internal/review"
	"github.com/normativhq/normativ/internal/store"
	"github.com/normativhq/normativ/internal/taxonomy"
)

const (
	vatQuote    = "PDV se obračunava i plaća po stopi od 25%"
	vatQuoteTwo = "Stopa PDV-a od 25% primjenjuje se na sve isporuke"
	oldQuote    = "Opća stopa poreza na dodanu vrijednost iznosi 23%"
)

// stubProvider drafts deterministically from the first fact in the
// group, standing in for a real reasoning backend.
type stubProvider struct{}

func (stubProvider) Name() string                     { return "stub" }
func (stubProvider) IsAvailable(context.Context) bool { return true }

func (stubProvider) Compose(_ context.Context, req reason.ComposeRequest) (*reason.ComposeResponse, error) {
	fact := req.Facts[0]
	return &reason.ComposeResponse{
		Draft: reason.Draft{
			ConceptSlug: "pdv-stopa-25",
			Title: model.BilingualText{
				HR: "Opća stopa PDV-a",
				EN: "Standard VAT rate",
			},
			Explanation: model.BilingualText{
				HR: fmt.Sprintf("Opća stopa PDV-a iznosi %s.", fact.Value),
				EN: fmt.Sprintf("The standard VAT rate is %s.", fact.Value),
			},
			RiskTier:    "T0",
			AppliesWhen: json.RawMessage(`{"op":"true"}`),
			Value:       fact.Value,
			ValueType:   string(fact.ValueType),
			Confidence:  0.95,
		},
		Model:      "stub-1",
		TokensUsed: 0,
	}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg := model.DefaultConfig()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Println("=== Normativ Pipeline Demo ===")
	fmt.Println()

	st, err := store.Open(model.StoreConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.Init(ctx); err != nil {
		return err
	}

	if err := st.UpsertAliases(ctx, "2025-08", map[string]string{"pdv-stopa": "pdv-stopa-25"}); err != nil {
		return err
	}

	content := vatQuote + "\n" + vatQuoteTwo + "\n" + oldQuote
	doc := model.SourceDocument{
		ID:          "doc-nn-73-2013",
		Title:       "Zakon o porezu na dodanu vrijednost",
		URL:         "https://narodne-novine.nn.hr/clanci/sluzbeni/2013_06_73_1448.html",
		Content:     content,
		ContentHash: digest(content),
		FetchHash:   digest(content),
		ContentType: "text/plain",
		FetchedAt:   time.Now().UTC(),
	}
	if err := st.SaveDocument(ctx, doc); err != nil {
		return err
	}
	fmt.Printf("Captured statute: %s\n", doc.Title)

	facts := []model.Fact{
		vatFact("fact-1", vatQuote, "25%", 0.96),
		vatFact("fact-2", vatQuoteTwo, "25%", 0.92),
	}
	for _, f := range facts {
		if err := st.SaveFact(ctx, f); err != nil {
			return err
		}
	}
	fmt.Printf("Captured %d facts quoting it\n\n", len(facts))

	auditor := audit.NewLogger(log, st)
	composer := compose.New(compose.Deps{
		Store:     st,
		Provider:  stubProvider{},
		Taxonomy:  taxonomy.NewService(st.LoadTaxonomy, cfg.Taxonomy.SnapshotTTL),
		Authority: authority.NewClassifier(cfg.Authority),
		Enqueue:   queue.NewEnqueuer(st, cfg.Queue),
		Audit:     auditor,
		Review:    cfg.Review,
		Reason:    cfg.Reason,
		Log:       log,
	})

	fmt.Println("--- Composition ---")
	result, err := composer.Compose(ctx, compose.Request{FactIDs: []string{"fact-1", "fact-2"}})
	if err != nil {
		return err
	}
	rule := result.Rule
	fmt.Printf("Draft rule %s\n", rule.ConceptSlug)
	fmt.Printf("  value %s, tier %s, authority %s (derived from the cited statute)\n",
		rule.Value, rule.RiskTier, rule.Authority)
	fmt.Printf("  confidence %.3f from %d pointers\n\n", rule.Confidence, len(rule.Pointers))

	fmt.Println("--- Review gate ---")
	gate := review.NewGate(st, cfg.Review, auditor, log)
	outcome, err := gate.Evaluate(ctx, rule.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Decision: %s\n", outcome.Decision)
	for _, hold := range outcome.Reasons {
		fmt.Printf("  hold: %s\n", hold)
	}
	if err := gate.Approve(ctx, rule.ID, "ana.novak"); err != nil {
		return err
	}
	fmt.Printf("Approved by ana.novak\n\n")

	fmt.Println("--- Release ---")
	verifier := evidence.NewVerifier(st, nil, 4)
	builder := release.NewBuilder(st, verifier, release.NoopNotifier{}, auditor, log)
	rel, err := builder.Build(ctx, []string{rule.ID})
	if err != nil {
		return err
	}
	fmt.Printf("Published %s (%s release)\n", rel.Version, rel.Type)
	fmt.Printf("  content hash %s\n", rel.ContentHash[:16])
	fmt.Printf("  changelog: %s\n\n", strings.TrimPrefix(rel.Changelog.EN, "- "))

	fmt.Println("--- A contradicting fact arrives ---")
	late := vatFact("fact-3", oldQuote, "23%", 0.90)
	if err := st.SaveFact(ctx, late); err != nil {
		return err
	}
	escalated, err := composer.Compose(ctx, compose.Request{FactIDs: []string{"fact-3"}})
	if err != nil {
		return err
	}
	fmt.Printf("Composition result: %s\n", escalated.Status)
	for _, c := range escalated.Conflicts {
		fmt.Printf("  conflict %s: %s\n", c.Kind, c.Description)
	}
	fmt.Println("The published rule stands until a human resolves the conflict.")
	fmt.Println()

	fmt.Println("--- Audit trail for the published rule ---")
	trail, err := st.AuditTrail(ctx, "rule", rule.ID)
	if err != nil {
		return err
	}
	for _, e := range trail {
		line := "  " + e.Action
		if e.Reason != "" {
			line += ": " + e.Reason
		}
		fmt.Println(line)
	}

	fmt.Println()
	fmt.Println("=== Demo complete ===")
	return nil
}

func vatFact(id, quote, value string, confidence float64) model.Fact {
	return model.Fact{
		ID:         id,
		Domain:     "pdv-stopa",
		Value:      value,
		ValueType:  model.ValuePercentage,
		Confidence: confidence,
		Status:     model.FactCaptured,
		Quotes: []model.GroundingQuote{{
			Text:       quote,
			DocumentID: "doc-nn-73-2013",
			Confidence: confidence,
		}},
	}
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
