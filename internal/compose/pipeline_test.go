package compose

// Full pipeline walks on an in-memory store: capture, compose, gate, release.
// The reasoning function is faked; everything downstream of it is real.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/release"
	"github.com/normativhq/normativ/internal/review"
	"github.com/normativhq/normativ/internal/store"
)

const (
	vatThirdQuote = "Na poreznu osnovicu primjenjuje se stopa PDV-a od 25%"
	vat23Quote    = "Od 1. siječnja stopa PDV-a iznosi 23%"
)

func docHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// saveVerifiableDoc stores a document whose hashes match its content, so
// release-time chain verification sees it as pristine.
func saveVerifiableDoc(t *testing.T, st *store.Store, id string, quotes ...string) {
	t.Helper()
	content := strings.Join(quotes, "\n")
	hash := docHash(content)
	err := st.SaveDocument(context.Background(), model.SourceDocument{
		ID:          id,
		Title:       "Zakon o porezu na dodanu vrijednost",
		URL:         "https://narodne-novine.nn.hr/clanci/sluzbeni/2013_06_73_1448.html",
		Content:     content,
		ContentHash: hash,
		FetchHash:   hash,
		ContentType: "text/plain",
		FetchedAt:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Expected document save to succeed, got %v", err)
	}
}

func captureFacts(t *testing.T, st *store.Store, docID, value string, quotes ...string) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, len(quotes))
	for i, q := range quotes {
		id := fmt.Sprintf("fact-%s-%d", strings.TrimSuffix(value, "%"), i+1)
		f := model.Fact{
			ID:         id,
			Domain:     "pdv-stopa",
			Value:      value,
			ValueType:  model.ValuePercentage,
			Confidence: 0.95,
			Status:     model.FactCaptured,
			Quotes: []model.GroundingQuote{
				{Text: q, DocumentID: docID, Confidence: 0.95, OffsetStart: 0, OffsetEnd: len(q)},
			},
		}
		if err := st.SaveFact(ctx, f); err != nil {
			t.Fatalf("Expected fact save to succeed, got %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func pipelineGate(st *store.Store, cfg model.ReviewConfig) *review.Gate {
	return review.NewGate(st, cfg, audit.NewLogger(nil, st), nil)
}

func pipelineBuilder(st *store.Store) *release.Builder {
	return release.NewBuilder(st, evidence.NewVerifier(st, nil, 4),
		release.NoopNotifier{}, audit.NewLogger(nil, st), nil)
}

func TestPipeline_QuietTierShipsAsPatchAfterGrace(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	provider.draft.RiskTier = "T2"

	saveVerifiableDoc(t, st, "doc-nn-73", vatQuote, vatSecondQuote, vatThirdQuote)
	ids := captureFacts(t, st, "doc-nn-73", "25%", vatQuote, vatSecondQuote, vatThirdQuote)

	res, err := comp.Compose(ctx, Request{FactIDs: ids, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	if res.Status != StatusCreated {
		t.Fatalf("Expected a created draft, got %s", res.Status)
	}
	if len(res.Rule.Pointers) != 3 {
		t.Fatalf("Expected one pointer per fact, got %d", len(res.Rule.Pointers))
	}
	if res.Rule.RiskTier != model.TierT2 {
		t.Fatalf("Expected tier T2, got %s", res.Rule.RiskTier)
	}
	if math.Abs(res.Breakdown.Derived-0.95) > 1e-9 {
		t.Errorf("Expected derived confidence 0.95, got %v", res.Breakdown.Derived)
	}
	want := math.Min(res.Breakdown.Evidence, res.Breakdown.Reasoning)
	if math.Abs(res.Breakdown.Derived-want) > 1e-9 {
		t.Errorf("Expected derived = min(evidence, reasoning), got %+v", res.Breakdown)
	}

	cfg := model.DefaultConfig().Review
	cfg.GracePeriod = 250 * time.Millisecond
	gate := pipelineGate(st, cfg)

	held, err := gate.Evaluate(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if held.Decision != review.DecisionPendingReview {
		t.Fatalf("Expected the grace window to hold the rule, got %s", held.Decision)
	}
	if len(held.Reasons) != 1 || !strings.Contains(held.Reasons[0], "grace window") {
		t.Fatalf("Expected the grace hold alone, got %v", held.Reasons)
	}

	time.Sleep(400 * time.Millisecond)
	aged, err := gate.Evaluate(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected re-evaluation to succeed, got %v", err)
	}
	if aged.Decision != review.DecisionAutoApproved {
		t.Fatalf("Expected auto-approval past the grace window, got %s (%v)", aged.Decision, aged.Reasons)
	}

	// An earlier release line exists so the quiet tier shows up as a patch.
	if _, err := st.PublishRelease(ctx, model.Release{Version: "1.0.0", Type: model.ReleaseMajor}); err != nil {
		t.Fatalf("Expected seed release to persist, got %v", err)
	}

	rel, err := pipelineBuilder(st).Build(ctx, []string{res.Rule.ID})
	if err != nil {
		t.Fatalf("Expected release to publish, got %v", err)
	}
	if rel.Version != "1.0.1" || rel.Type != model.ReleasePatch {
		t.Errorf("Expected patch bump to 1.0.1, got %s (%s)", rel.Version, rel.Type)
	}

	published, err := st.GetRule(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected rule load to succeed, got %v", err)
	}
	if published.Status != model.StatusPublished {
		t.Errorf("Expected PUBLISHED, got %s", published.Status)
	}
}

func TestPipeline_CriticalTierNeedsAHumanApprover(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	provider.draft.Confidence = 1.0

	saveVerifiableDoc(t, st, "doc-nn-73", vatQuote, vatSecondQuote, vatThirdQuote)
	ids := captureFacts(t, st, "doc-nn-73", "25%", vatQuote, vatSecondQuote, vatThirdQuote)

	res, err := comp.Compose(ctx, Request{FactIDs: ids, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	if res.Rule.RiskTier != model.TierT0 {
		t.Fatalf("Expected tier T0, got %s", res.Rule.RiskTier)
	}

	gate := pipelineGate(st, model.DefaultConfig().Review)
	for i := 0; i < 2; i++ {
		out, err := gate.Evaluate(ctx, res.Rule.ID)
		if err != nil {
			t.Fatalf("Expected evaluation %d to succeed, got %v", i+1, err)
		}
		if out.Decision != review.DecisionPendingReview {
			t.Fatalf("Expected T0 to pend on evaluation %d, got %s", i+1, out.Decision)
		}
		if len(out.Reasons) != 1 || out.Reasons[0] != "tier requires human review" {
			t.Fatalf("Expected the tier reason alone, got %v", out.Reasons)
		}
	}

	builder := pipelineBuilder(st)
	_, err = builder.Build(ctx, []string{res.Rule.ID})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection before approval, got %v", err)
	}
	if !strings.Contains(err.Error(), release.GateAllApproved) || !strings.Contains(err.Error(), res.Rule.ID) {
		t.Fatalf("Expected the refusal to name the gate and the rule, got %v", err)
	}

	if err := gate.Approve(ctx, res.Rule.ID, "marko.juric"); err != nil {
		t.Fatalf("Expected human approval to succeed, got %v", err)
	}

	rel, err := builder.Build(ctx, []string{res.Rule.ID})
	if err != nil {
		t.Fatalf("Expected release to publish after approval, got %v", err)
	}
	if rel.Version != "1.0.0" || rel.Type != model.ReleaseMajor {
		t.Errorf("Expected major release 1.0.0 for a T0 batch, got %s (%s)", rel.Version, rel.Type)
	}
	if len(rel.ApprovedBy) != 1 || rel.ApprovedBy[0] != "marko.juric" {
		t.Errorf("Expected the approver on the release record, got %v", rel.ApprovedBy)
	}
	if rel.HumanApprovalCount != 1 {
		t.Errorf("Expected one human approval, got %d", rel.HumanApprovalCount)
	}

	published, err := st.GetRule(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected rule load to succeed, got %v", err)
	}
	if published.Status != model.StatusPublished {
		t.Errorf("Expected PUBLISHED, got %s", published.Status)
	}
}

func TestPipeline_ValueMismatchBlocksReleaseUntilResolved(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	provider.draft.RiskTier = "T2"

	saveVerifiableDoc(t, st, "doc-nn-73", vatQuote, vatSecondQuote, vat23Quote)
	ids25 := captureFacts(t, st, "doc-nn-73", "25%", vatQuote, vatSecondQuote)

	res25, err := comp.Compose(ctx, Request{FactIDs: ids25, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	rule25 := res25.Rule

	gate := pipelineGate(st, model.DefaultConfig().Review)
	if _, err := gate.Evaluate(ctx, rule25.ID); err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if err := gate.Approve(ctx, rule25.ID, "ana.novak"); err != nil {
		t.Fatalf("Expected approval to succeed, got %v", err)
	}

	// A competing value for the same concept escalates instead of composing.
	provider.draft.Value = "23%"
	ids23 := captureFacts(t, st, "doc-nn-73", "23%", vat23Quote)
	res23, err := comp.Compose(ctx, Request{FactIDs: ids23, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected escalation, not an error, got %v", err)
	}
	if res23.Status != StatusEscalated {
		t.Fatalf("Expected escalated composition, got %s", res23.Status)
	}
	if len(res23.Conflicts) != 1 {
		t.Fatalf("Expected one conflict, got %d", len(res23.Conflicts))
	}
	conflict := res23.Conflicts[0]
	if conflict.Kind != model.ConflictValueMismatch {
		t.Errorf("Expected VALUE_MISMATCH, got %s", conflict.Kind)
	}
	if len(conflict.RuleIDs) != 1 || conflict.RuleIDs[0] != rule25.ID {
		t.Errorf("Expected the conflict to link the approved rule, got %v", conflict.RuleIDs)
	}

	builder := pipelineBuilder(st)
	_, err = builder.Build(ctx, []string{rule25.ID})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection while the conflict is open, got %v", err)
	}
	if !strings.Contains(err.Error(), release.GateNoOpenConflicts) || !strings.Contains(err.Error(), rule25.ID) {
		t.Fatalf("Expected the refusal to name the conflict gate and the rule, got %v", err)
	}

	if err := st.ResolveConflict(ctx, conflict.ID, "stopa ostaje 25% do stupanja izmjena na snagu"); err != nil {
		t.Fatalf("Expected resolution to persist, got %v", err)
	}

	rel, err := builder.Build(ctx, []string{rule25.ID})
	if err != nil {
		t.Fatalf("Expected release after resolution, got %v", err)
	}
	if rel.Type != model.ReleasePatch {
		t.Errorf("Expected a patch release for a T2 batch, got %s", rel.Type)
	}
}

func TestPipeline_TamperedDocumentBlocksRelease(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	provider.draft.RiskTier = "T2"

	saveVerifiableDoc(t, st, "doc-nn-73", vatQuote, vatSecondQuote)
	ids := captureFacts(t, st, "doc-nn-73", "25%", vatQuote, vatSecondQuote)

	res, err := comp.Compose(ctx, Request{FactIDs: ids, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	gate := pipelineGate(st, model.DefaultConfig().Review)
	if _, err := gate.Evaluate(ctx, res.Rule.ID); err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if err := gate.Approve(ctx, res.Rule.ID, "ana.novak"); err != nil {
		t.Fatalf("Expected approval to succeed, got %v", err)
	}

	var missing, intact model.SourcePointer
	for _, p := range res.Rule.Pointers {
		if p.Quote == vatQuote {
			missing = p
		} else {
			intact = p
		}
	}

	// Republish the document without the first quote. Hashes stay
	// consistent, so only the quote check can fail.
	saveVerifiableDoc(t, st, "doc-nn-73", vatSecondQuote)

	_, err = pipelineBuilder(st).Build(ctx, []string{res.Rule.ID})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionIntegrity {
		t.Fatalf("Expected an integrity violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "1 of 2 pointers") {
		t.Errorf("Expected exactly one broken pointer reported, got %v", err)
	}
	if !strings.Contains(err.Error(), missing.ID) {
		t.Errorf("Expected the offending pointer named, got %v", err)
	}
	if strings.Contains(err.Error(), intact.ID) {
		t.Errorf("Expected the intact pointer left unblamed, got %v", err)
	}

	if _, err := st.LatestVersion(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Expected no release after the blocked attempt, got %v", err)
	}
	stored, err := st.GetRule(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected rule load to succeed, got %v", err)
	}
	if stored.Status != model.StatusApproved {
		t.Errorf("Expected the rule left APPROVED, got %s", stored.Status)
	}
}
