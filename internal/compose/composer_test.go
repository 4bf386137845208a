package compose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/authority"
	"github.com/normativhq/normativ/internal/confidence"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/reason"
	"github.com/normativhq/normativ/internal/store"
	"github.com/normativhq/normativ/internal/taxonomy"
)

const (
	vatQuote       = "PDV se obračunava i plaća po stopi od 25%"
	vatSecondQuote = "Stopa PDV-a od 25% primjenjuje se na sve isporuke"
)

type fakeProvider struct {
	draft reason.Draft
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Compose(_ context.Context, _ reason.ComposeRequest) (*reason.ComposeResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &reason.ComposeResponse{Draft: p.draft, Model: "fake-1", TokensUsed: 42}, nil
}

func (p *fakeProvider) IsAvailable(context.Context) bool { return true }

func validDraft() reason.Draft {
	return reason.Draft{
		ConceptSlug:    "pdv-stopa-25",
		Title:          model.BilingualText{HR: "Opća stopa PDV-a", EN: "Standard VAT rate"},
		Explanation:    model.BilingualText{HR: "Opća stopa PDV-a iznosi 25%.", EN: "The standard VAT rate is 25%."},
		RiskTier:       "T0",
		AuthorityLevel: "statute",
		AppliesWhen:    []byte(`{"op":"true"}`),
		Value:          "25%",
		ValueType:      "percentage",
		Confidence:     0.95,
	}
}

func testEnv(t *testing.T, mutate ...func(*Deps)) (*store.Store, *fakeProvider, *Composer) {
	t.Helper()
	st, err := store.Open(model.StoreConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Expected store to open, got %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Expected schema init to succeed, got %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	provider := &fakeProvider{draft: validDraft()}
	cfg := model.DefaultConfig()
	deps := Deps{
		Store:    st,
		Provider: provider,
		Taxonomy: taxonomy.NewService(taxonomy.Static("2025-08",
			map[string]string{"pdv-stopa": "pdv-stopa-25"}), 0),
		Authority: authority.NewClassifier(cfg.Authority),
		Enqueue:   queue.NewEnqueuer(st, cfg.Queue),
		Audit:     audit.NewLogger(nil, st),
		Review:    cfg.Review,
		Reason:    cfg.Reason,
	}
	for _, m := range mutate {
		m(&deps)
	}
	return st, provider, New(deps)
}

func saveDocument(t *testing.T, st *store.Store, id, url string) {
	t.Helper()
	err := st.SaveDocument(context.Background(), model.SourceDocument{
		ID:          id,
		Title:       "Zakon o porezu na dodanu vrijednost",
		URL:         url,
		Content:     vatQuote + " " + vatSecondQuote,
		ContentHash: "hash-" + id,
		FetchHash:   "hash-" + id,
		ContentType: "text/plain",
		FetchedAt:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Expected document save to succeed, got %v", err)
	}
}

func vatFact(id, docID, quote string, conf float64) model.Fact {
	return model.Fact{
		ID:         id,
		Domain:     "pdv-stopa",
		Value:      "25%",
		ValueType:  model.ValuePercentage,
		Confidence: conf,
		Status:     model.FactCaptured,
		Quotes: []model.GroundingQuote{
			{Text: quote, DocumentID: docID, Confidence: conf, OffsetStart: 0, OffsetEnd: len(quote)},
		},
	}
}

func captureVATFacts(t *testing.T, st *store.Store) []string {
	t.Helper()
	ctx := context.Background()
	saveDocument(t, st, "doc-nn-38", "https://narodne-novine.nn.hr/clanci/sluzbeni/2013_06_73_1448.html")
	for _, f := range []model.Fact{
		vatFact("fact-1", "doc-nn-38", vatQuote, 0.95),
		vatFact("fact-2", "doc-nn-38", vatSecondQuote, 0.90),
	} {
		if err := st.SaveFact(ctx, f); err != nil {
			t.Fatalf("Expected fact save to succeed, got %v", err)
		}
	}
	return []string{"fact-1", "fact-2"}
}

func TestComposer_Compose_CreatesDraftRule(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)

	res, err := comp.Compose(ctx, Request{FactIDs: ids, Domain: "pdv-stopa"})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	if res.Status != StatusCreated {
		t.Fatalf("Expected status %q, got %q", StatusCreated, res.Status)
	}
	rule := res.Rule
	if rule.ID == "" {
		t.Fatal("Expected a persisted rule id")
	}
	if rule.Status != model.StatusDraft {
		t.Errorf("Expected DRAFT status, got %s", rule.Status)
	}
	if rule.ConceptSlug != "pdv-stopa-25" {
		t.Errorf("Expected canonical slug pdv-stopa-25, got %q", rule.ConceptSlug)
	}
	if rule.Authority != model.AuthorityStatute {
		t.Errorf("Expected statute authority from narodne-novine citation, got %s", rule.Authority)
	}
	if rule.RiskTier != model.TierT0 {
		t.Errorf("Expected tier T0, got %s", rule.RiskTier)
	}
	if want := queue.ComposeKey(ids); rule.CompositionKey != want {
		t.Errorf("Expected composition key %s, got %s", want, rule.CompositionKey)
	}
	if len(rule.Pointers) != 2 {
		t.Errorf("Expected 2 source pointers, got %d", len(rule.Pointers))
	}
	want := confidence.Explain([]float64{0.95, 0.90}, 0.95)
	if rule.Confidence != want.Derived {
		t.Errorf("Expected derived confidence %.4f, got %.4f", want.Derived, rule.Confidence)
	}
	if provider.calls != 1 {
		t.Errorf("Expected exactly one reasoning call, got %d", provider.calls)
	}

	for _, id := range ids {
		f, err := st.GetFact(ctx, id)
		if err != nil {
			t.Fatalf("Expected fact %s to load, got %v", id, err)
		}
		if f.Status != model.FactPromoted {
			t.Errorf("Expected fact %s promoted, got %s", id, f.Status)
		}
	}

	if _, err := st.JobByKey(ctx, "review:"+rule.ID); err != nil {
		t.Errorf("Expected a review job for the new rule, got %v", err)
	}

	trail, err := st.AuditTrail(ctx, "rule", rule.ID)
	if err != nil {
		t.Fatalf("Expected audit trail to load, got %v", err)
	}
	found := false
	for _, e := range trail {
		if e.Action == "composition.created" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a composition.created audit event")
	}
}

func TestComposer_Compose_SecondCallReturnsExisting(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)

	first, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err != nil {
		t.Fatalf("Expected first composition to succeed, got %v", err)
	}
	second, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err != nil {
		t.Fatalf("Expected repeat composition to succeed, got %v", err)
	}
	if second.Status != StatusExists {
		t.Errorf("Expected status %q, got %q", StatusExists, second.Status)
	}
	if second.Rule.ID != first.Rule.ID {
		t.Errorf("Expected the same rule back, got %s and %s", first.Rule.ID, second.Rule.ID)
	}
	if provider.calls != 1 {
		t.Errorf("Expected the repeat call to skip the reasoning function, got %d calls", provider.calls)
	}

	// Shuffled ids map to the same composition key.
	third, err := comp.Compose(ctx, Request{FactIDs: []string{ids[1], ids[0]}})
	if err != nil {
		t.Fatalf("Expected shuffled composition to succeed, got %v", err)
	}
	if third.Rule.ID != first.Rule.ID {
		t.Error("Expected fact order not to change the composition key")
	}
}

func TestComposer_Compose_BlocklistFailsFastOnHint(t *testing.T) {
	_, provider, comp := testEnv(t, func(d *Deps) {
		d.Review.BlockedDomains = []string{"sanctions-screening"}
	})

	_, err := comp.Compose(context.Background(), Request{
		FactIDs: []string{"fact-x"},
		Domain:  "sanctions-screening",
	})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("Expected no reasoning call for a blocklisted domain, got %d", provider.calls)
	}
}

func TestComposer_Compose_BlocklistRejectsLoadedFacts(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t, func(d *Deps) {
		d.Review.BlockedDomains = []string{"pdv-stopa"}
	})
	ids := captureVATFacts(t, st)

	_, err := comp.Compose(ctx, Request{FactIDs: ids})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("Expected no reasoning call, got %d", provider.calls)
	}
	f, err := st.GetFact(ctx, ids[0])
	if err != nil {
		t.Fatalf("Expected fact to load, got %v", err)
	}
	if f.Status != model.FactRejected {
		t.Errorf("Expected facts marked rejected, got %s", f.Status)
	}
}

func TestComposer_Compose_MixedGroupingKeysRejected(t *testing.T) {
	ctx := context.Background()
	st, _, comp := testEnv(t)
	ids := captureVATFacts(t, st)

	other := vatFact("fact-3", "doc-nn-38", vatQuote, 0.9)
	other.Value = "13%"
	if err := st.SaveFact(ctx, other); err != nil {
		t.Fatalf("Expected fact save to succeed, got %v", err)
	}

	_, err := comp.Compose(ctx, Request{FactIDs: append(ids, "fact-3")})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionInput {
		t.Fatalf("Expected an input rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "grouping keys") {
		t.Errorf("Expected the rejection to name the grouping keys, got %q", err.Error())
	}
}

func TestComposer_Compose_NoQuotesMeansNoRule(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	bare := vatFact("fact-bare", "doc-none", vatQuote, 0.9)
	bare.Quotes = nil
	if err := st.SaveFact(ctx, bare); err != nil {
		t.Fatalf("Expected fact save to succeed, got %v", err)
	}

	_, err := comp.Compose(ctx, Request{FactIDs: []string{"fact-bare"}})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "without evidence") {
		t.Errorf("Expected the rejection to mention missing evidence, got %q", err.Error())
	}
	if provider.calls != 0 {
		t.Errorf("Expected no reasoning call without evidence, got %d", provider.calls)
	}
}

func TestComposer_Compose_ValueDriftRejected(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)
	provider.draft.Value = "23%"

	_, err := comp.Compose(ctx, Request{FactIDs: ids})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionInput {
		t.Fatalf("Expected an input rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not match the composed value") {
		t.Errorf("Expected the rejection to name the drift, got %q", err.Error())
	}
	f, _ := st.GetFact(ctx, ids[0])
	if f.Status != model.FactRejected {
		t.Errorf("Expected facts marked rejected, got %s", f.Status)
	}
}

func TestComposer_Compose_EquivalentValueSpellingAccepted(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)
	provider.draft.Value = "25.0%"

	res, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err != nil {
		t.Fatalf("Expected normalization to bridge the spelling, got %v", err)
	}
	if res.Status != StatusCreated {
		t.Fatalf("Expected created, got %s", res.Status)
	}
}

func TestComposer_Compose_InvalidPredicateRejected(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)
	provider.draft.AppliesWhen = []byte(`{"op":"frobnicate"}`)

	_, err := comp.Compose(ctx, Request{FactIDs: ids})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionInput {
		t.Fatalf("Expected an input rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "applies_when predicate rejected") {
		t.Errorf("Expected the rejection to name the predicate, got %q", err.Error())
	}
}

func TestComposer_Compose_SelfReportedConflictRejects(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)
	provider.draft.ConflictDetected = true

	_, err := comp.Compose(ctx, Request{FactIDs: ids})
	rej := model.RejectionOf(err)
	if rej == nil || rej.Kind != model.RejectionPolicy {
		t.Fatalf("Expected a policy rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "contradict") {
		t.Errorf("Expected the rejection to mention the contradiction, got %q", err.Error())
	}
}

func TestComposer_Compose_ProviderFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)
	ids := captureVATFacts(t, st)
	provider.err = errors.New("rate limited")

	_, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err == nil {
		t.Fatal("Expected an error from a failing provider")
	}
	if model.IsTerminal(err) {
		t.Errorf("Expected a retryable error, got terminal %v", err)
	}
	f, _ := st.GetFact(ctx, ids[0])
	if f.Status != model.FactCaptured {
		t.Errorf("Expected facts to stay captured for a retry, got %s", f.Status)
	}
}

func TestComposer_Compose_ConflictEscalates(t *testing.T) {
	ctx := context.Background()
	st, _, comp := testEnv(t)
	ids := captureVATFacts(t, st)

	prior := model.Rule{
		ConceptSlug:    "pdv-stopa-25",
		Domain:         "pdv-stopa",
		Title:          model.BilingualText{HR: "Stopa PDV-a", EN: "VAT rate"},
		Explanation:    model.BilingualText{HR: "Stopa iznosi 23%.", EN: "The rate is 23%."},
		RiskTier:       model.TierT0,
		Authority:      model.AuthorityStatute,
		AppliesWhen:    []byte(`{"op":"true"}`),
		Value:          "23%",
		ValueType:      model.ValuePercentage,
		EffectiveFrom:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Confidence:     0.95,
		Status:         model.StatusApproved,
		CompositionKey: "prior-key",
	}
	if _, _, err := st.CreateRuleWithPointers(ctx, prior, []model.SourcePointer{
		{DocumentID: "doc-nn-38", Quote: vatQuote, Confidence: 0.9},
	}); err != nil {
		t.Fatalf("Expected prior rule to persist, got %v", err)
	}

	res, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err != nil {
		t.Fatalf("Expected escalation, not an error, got %v", err)
	}
	if res.Status != StatusEscalated {
		t.Fatalf("Expected status %q, got %q", StatusEscalated, res.Status)
	}
	if len(res.Conflicts) == 0 {
		t.Fatal("Expected recorded conflicts on the result")
	}
	if res.Conflicts[0].Kind != model.ConflictValueMismatch {
		t.Errorf("Expected VALUE_MISMATCH, got %s", res.Conflicts[0].Kind)
	}

	open, err := st.OpenConflictsForSlug(ctx, "pdv-stopa-25")
	if err != nil {
		t.Fatalf("Expected open conflicts to load, got %v", err)
	}
	if len(open) == 0 {
		t.Error("Expected the conflict to be persisted open")
	}

	if _, err := st.RuleByCompositionKey(ctx, queue.ComposeKey(ids)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected no rule for an escalated composition, got %v", err)
	}
	f, _ := st.GetFact(ctx, ids[0])
	if f.Status != model.FactCaptured {
		t.Errorf("Expected facts to stay captured pending resolution, got %s", f.Status)
	}
}

func TestComposer_Compose_LinksClosedPredecessor(t *testing.T) {
	ctx := context.Background()
	st, _, comp := testEnv(t)
	ids := captureVATFacts(t, st)

	until := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	old := model.Rule{
		ConceptSlug:    "pdv-stopa-25",
		Domain:         "pdv-stopa",
		Title:          model.BilingualText{HR: "Stara stopa PDV-a", EN: "Former VAT rate"},
		Explanation:    model.BilingualText{HR: "Stopa je iznosila 23%.", EN: "The rate was 23%."},
		RiskTier:       model.TierT0,
		Authority:      model.AuthorityStatute,
		AppliesWhen:    []byte(`{"op":"true"}`),
		Value:          "23%",
		ValueType:      model.ValuePercentage,
		EffectiveFrom:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EffectiveUntil: &until,
		Confidence:     0.95,
		Status:         model.StatusPublished,
		CompositionKey: "old-key",
	}
	oldStored, _, err := st.CreateRuleWithPointers(ctx, old, []model.SourcePointer{
		{DocumentID: "doc-nn-38", Quote: vatQuote, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("Expected predecessor to persist, got %v", err)
	}

	res, err := comp.Compose(ctx, Request{FactIDs: ids})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	if res.Rule.SupersedesID != oldStored.ID {
		t.Errorf("Expected the new rule to supersede %s, got %q", oldStored.ID, res.Rule.SupersedesID)
	}
	persisted, err := st.GetRule(ctx, res.Rule.ID)
	if err != nil {
		t.Fatalf("Expected rule to load, got %v", err)
	}
	if persisted.SupersedesID != oldStored.ID {
		t.Errorf("Expected the supersedes edge persisted, got %q", persisted.SupersedesID)
	}
}

func TestComposer_Compose_AuthorityClaimCannotExceedSources(t *testing.T) {
	ctx := context.Background()
	st, provider, comp := testEnv(t)

	saveDocument(t, st, "doc-pu-1", "https://www.porezna-uprava.gov.hr/misljenja/pdv-25.html")
	f := vatFact("fact-g1", "doc-pu-1", vatQuote, 0.92)
	if err := st.SaveFact(ctx, f); err != nil {
		t.Fatalf("Expected fact save to succeed, got %v", err)
	}
	provider.draft.AuthorityLevel = "statute"

	res, err := comp.Compose(ctx, Request{FactIDs: []string{"fact-g1"}})
	if err != nil {
		t.Fatalf("Expected composition to succeed, got %v", err)
	}
	if res.Rule.Authority != model.AuthorityGuidance {
		t.Errorf("Expected guidance authority from a tax-office source, got %s", res.Rule.Authority)
	}
}
