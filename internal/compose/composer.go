// Package compose runs the composition stage: a group of captured facts in,
// one draft rule out, with evidence pointers, derived confidence, and an
// audit trail. The stage fails closed; anything the reasoning function
// returns is re-validated here, and every terminal refusal is recorded
// before it surfaces.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/authority"
	"github.com/normativhq/normativ/internal/confidence"
	"github.com/normativhq/normativ/internal/conflict"
	"github.com/normativhq/normativ/internal/dsl"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/graph"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/reason"
	"github.com/normativhq/normativ/internal/taxonomy"
)

// Store is the slice of the persistence layer composition needs
type Store interface {
	FactsByIDs(ctx context.Context, ids []string) ([]model.Fact, error)
	SetFactStatus(ctx context.Context, ids []string, status model.FactStatus) error
	DocumentsByIDs(ctx context.Context, ids []string) ([]model.SourceDocument, error)
	RuleByCompositionKey(ctx context.Context, key string) (model.Rule, error)
	CreateRuleWithPointers(ctx context.Context, rule model.Rule, pointers []model.SourcePointer) (model.Rule, bool, error)
	ActiveRulesForConflictScan(ctx context.Context, conceptSlug, domain string) ([]model.Rule, error)
	SaveConflicts(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error)
	SupersedesEdges(ctx context.Context, domain string) (map[string]string, error)
	SetSupersedes(ctx context.Context, ruleID, supersedesID string) error
	LatestPredecessor(ctx context.Context, conceptSlug string, cutoff time.Time) (model.Rule, error)
}

// Composer drives compositions end to end
type Composer struct {
	store     Store
	provider  reason.Provider
	taxonomy  *taxonomy.Service
	authority *authority.Classifier
	schema    *dsl.Schema
	enqueue   *queue.Enqueuer
	auditor   audit.Logger
	review    model.ReviewConfig
	reasonCfg model.ReasonConfig
	log       *slog.Logger
	now       func() time.Time
}

// Deps wires a Composer. Schema may be nil to skip field checks; a nil
// Audit falls back to log-only recording.
type Deps struct {
	Store     Store
	Provider  reason.Provider
	Taxonomy  *taxonomy.Service
	Authority *authority.Classifier
	Schema    *dsl.Schema
	Enqueue   *queue.Enqueuer
	Audit     audit.Logger
	Review    model.ReviewConfig
	Reason    model.ReasonConfig
	Log       *slog.Logger
}

// New builds a Composer from its dependencies
func New(d Deps) *Composer {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "compose")
	auditor := d.Audit
	if auditor == nil {
		auditor = audit.NewLogger(log, nil)
	}
	return &Composer{
		store:     d.Store,
		provider:  d.Provider,
		taxonomy:  d.Taxonomy,
		authority: d.Authority,
		schema:    d.Schema,
		enqueue:   d.Enqueue,
		auditor:   auditor,
		review:    d.Review,
		reasonCfg: d.Reason,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Request identifies the fact group to compose. Domain is the hint carried
// by the job payload so the blocklist can fire before any load; the loaded
// facts remain the source of truth.
type Request struct {
	FactIDs []string
	Domain  string
}

// Outcomes of one composition
const (
	StatusCreated   = "created"   // A new draft rule was written
	StatusExists    = "exists"    // The composition key already had a rule
	StatusEscalated = "escalated" // Blocking conflicts were recorded instead
)

// Result reports what composition did
type Result struct {
	Status    string
	Rule      model.Rule
	Conflicts []model.Conflict
	Breakdown confidence.Breakdown
}

// Compose turns one fact group into a draft rule. It is idempotent over the
// composition key: the same fact set always maps to the same rule, and a
// repeat call returns the existing one without consulting the reasoning
// function. Blocking conflicts persist Conflict records and return an
// escalated result; terminal rejections mark the facts rejected and come
// back as RejectionError.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if len(req.FactIDs) == 0 {
		return nil, model.NewInputRejection("composition", "no fact ids supplied")
	}
	key := queue.ComposeKey(req.FactIDs)
	subject := "composition/" + shortKey(key)
	log := c.log.With("composition", shortKey(key))

	// 1. Blocklist fail-fast on the payload hint, before touching the store.
	if req.Domain != "" && c.blocked(req.Domain) {
		return nil, c.reject(ctx, key, nil,
			model.NewPolicyRejection(subject, "domain %q is blocklisted", req.Domain))
	}

	// 2. Idempotency: a requeued job for work already done hands back the
	// existing rule and re-runs the follow-ups a crash may have dropped.
	if existing, err := c.store.RuleByCompositionKey(ctx, key); err == nil {
		log.InfoContext(ctx, "composition already materialized", "rule", existing.ID)
		return c.alreadyComposed(ctx, req.FactIDs, existing)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	// 3. Load the facts and hold them to one grouping key.
	facts, err := c.store.FactsByIDs(ctx, req.FactIDs)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, c.reject(ctx, key, nil,
				model.NewInputRejection(subject, "fact set references missing facts: %v", err))
		}
		return nil, fmt.Errorf("loading facts: %w", err)
	}
	group := facts[0].GroupingKey()
	for _, f := range facts {
		if f.GroupingKey() != group {
			return nil, c.reject(ctx, key, req.FactIDs, model.NewInputRejection(subject,
				"facts span grouping keys %q and %q; one composition covers one key", group, f.GroupingKey()))
		}
		if f.Status == model.FactRejected {
			return nil, c.reject(ctx, key, req.FactIDs,
				model.NewInputRejection(subject, "fact %s was already terminally rejected", f.ID))
		}
	}
	domain := facts[0].Domain
	if c.blocked(domain) {
		return nil, c.reject(ctx, key, req.FactIDs,
			model.NewPolicyRejection(subject, "domain %q is blocklisted", domain))
	}

	// 4. Evidence first. No quotes means no rule, whatever the reasoning
	// function might have said.
	pointers := evidence.BuildPointers(facts)
	if len(pointers) == 0 {
		return nil, c.reject(ctx, key, req.FactIDs, model.NewPolicyRejection(subject,
			"facts carry no verbatim quotes; refusing to compose a rule without evidence"))
	}
	docs, err := c.store.DocumentsByIDs(ctx, documentIDs(pointers))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, c.reject(ctx, key, req.FactIDs,
				model.NewInputRejection(subject, "quoted documents are missing from the store: %v", err))
		}
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	// 5. Taxonomy snapshot, pinned for the whole composition.
	snap, err := c.taxonomy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// 6. Reasoning call. Transport failures stay retryable; a draft that
	// failed schema validation arrives as a terminal rejection.
	resp, err := c.provider.Compose(ctx, reason.ComposeRequest{
		Facts:     facts,
		Documents: docs,
		Slugs:     snap.Slugs(),
		Model:     c.reasonCfg.Model,
		MaxTokens: c.reasonCfg.MaxTokens,
	})
	if err != nil {
		if model.IsTerminal(err) {
			return nil, c.reject(ctx, key, req.FactIDs, err)
		}
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	draft := resp.Draft
	log = log.With("model", resp.Model)

	// 7. Cross-check the draft against the facts it was built from.
	if draft.ConflictDetected {
		return nil, c.reject(ctx, key, req.FactIDs, model.NewPolicyRejection(subject,
			"reasoning function reported the facts contradict each other"))
	}
	if model.ValueType(draft.ValueType) != facts[0].ValueType {
		return nil, c.reject(ctx, key, req.FactIDs, model.NewInputRejection(subject,
			"reasoning output value type %q does not match the facts' %q", draft.ValueType, facts[0].ValueType))
	}
	if model.NormalizeValue(facts[0].ValueType, draft.Value) != model.NormalizeValue(facts[0].ValueType, facts[0].Value) {
		return nil, c.reject(ctx, key, req.FactIDs, model.NewInputRejection(subject,
			"reasoning output value %q does not match the composed value %q", draft.Value, facts[0].Value))
	}
	if res := dsl.Validate(draft.AppliesWhen, c.schema); !res.Valid {
		return nil, c.reject(ctx, key, req.FactIDs,
			model.NewInputRejection(subject, "applies_when predicate rejected: %s", res.Reason))
	}

	slug, slugSource := resolveSlug(snap, draft.ConceptSlug, domain)
	if slugSource != "taxonomy" {
		log.WarnContext(ctx, "concept slug fell back", "claimed", draft.ConceptSlug, "resolved", slug, "via", slugSource)
	}

	// 8. Derive what the rule will carry: confidence from evidence plus the
	// reasoning score, authority from the cited documents.
	breakdown := confidence.Explain(evidence.Confidences(pointers), draft.Confidence)
	level := c.authority.Resolve(authority.ParseLevel(draft.AuthorityLevel), docs)

	candidate := model.Rule{
		ConceptSlug:    slug,
		Domain:         domain,
		Title:          draft.Title,
		Explanation:    draft.Explanation,
		RiskTier:       model.RiskTier(draft.RiskTier),
		Authority:      level,
		AppliesWhen:    draft.AppliesWhen,
		Value:          draft.Value,
		ValueType:      model.ValueType(draft.ValueType),
		EffectiveFrom:  c.now(),
		Confidence:     breakdown.Derived,
		Status:         model.StatusDraft,
		CompositionKey: key,
	}

	// 9. Deterministic conflict scan against the approved and published
	// rules sharing the slug or domain. Any hit blocks composition.
	active, err := c.store.ActiveRulesForConflictScan(ctx, slug, domain)
	if err != nil {
		return nil, fmt.Errorf("loading rules for conflict scan: %w", err)
	}
	if report := conflict.Detect(candidate, active); report.Blocking() {
		return c.escalate(ctx, key, report)
	}

	// 10. Persist the draft with its pointers in one transaction.
	rule, created, err := c.store.CreateRuleWithPointers(ctx, candidate, pointers)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another worker won the race between the key check and the insert.
		return c.alreadyComposed(ctx, req.FactIDs, rule)
	}
	if err := c.store.SetFactStatus(ctx, req.FactIDs, model.FactPromoted); err != nil {
		return nil, fmt.Errorf("promoting facts: %w", err)
	}

	c.linkPredecessor(ctx, log, &rule)

	c.recordAudit(ctx, audit.Event{
		Kind:        "composition",
		SubjectKind: "rule",
		SubjectID:   rule.ID,
		Action:      "composition.created",
		Metadata: map[string]interface{}{
			"concept_slug":     rule.ConceptSlug,
			"risk_tier":        string(rule.RiskTier),
			"authority":        string(rule.Authority),
			"pointer_count":    len(pointers),
			"confidence":       breakdown.Data(),
			"taxonomy_version": snap.Version(),
			"slug_via":         slugSource,
			"model":            resp.Model,
			"tokens":           resp.TokensUsed,
		},
	})

	if _, _, err := c.enqueue.Enqueue(ctx, queue.NewReviewJob(rule.ID)); err != nil {
		return nil, fmt.Errorf("enqueueing review: %w", err)
	}

	log.InfoContext(ctx, "rule composed",
		"rule", rule.ID, "slug", rule.ConceptSlug, "tier", string(rule.RiskTier),
		"authority", string(rule.Authority), "confidence", rule.Confidence)
	return &Result{Status: StatusCreated, Rule: rule, Breakdown: breakdown}, nil
}

// alreadyComposed finishes an idempotent repeat: facts promoted, review
// queued if the rule is still a draft, the existing rule handed back.
func (c *Composer) alreadyComposed(ctx context.Context, factIDs []string, rule model.Rule) (*Result, error) {
	if err := c.store.SetFactStatus(ctx, factIDs, model.FactPromoted); err != nil {
		return nil, fmt.Errorf("promoting facts: %w", err)
	}
	if rule.Status == model.StatusDraft {
		if _, _, err := c.enqueue.Enqueue(ctx, queue.NewReviewJob(rule.ID)); err != nil {
			return nil, fmt.Errorf("enqueueing review: %w", err)
		}
	}
	return &Result{Status: StatusExists, Rule: rule}, nil
}

// escalate persists the conflicts and stops. No rule is written and the
// facts stay captured, so resolving the conflicts makes the group
// composable again.
func (c *Composer) escalate(ctx context.Context, key string, report conflict.Report) (*Result, error) {
	saved, err := c.store.SaveConflicts(ctx, report.Conflicts)
	if err != nil {
		return nil, fmt.Errorf("persisting conflicts: %w", err)
	}
	kinds := make([]string, 0, len(saved))
	for _, cf := range saved {
		kinds = append(kinds, string(cf.Kind))
	}
	c.recordAudit(ctx, audit.Event{
		Kind:        "conflict",
		SubjectKind: "composition",
		SubjectID:   shortKey(key),
		Action:      "composition.escalated",
		Reason:      strings.Join(kinds, ", "),
		Metadata:    map[string]interface{}{"conflicts": len(saved)},
	})
	c.log.WarnContext(ctx, "composition escalated", "composition", shortKey(key), "conflicts", len(saved))
	return &Result{Status: StatusEscalated, Conflicts: saved}, nil
}

// linkPredecessor records which closed rule this one supersedes. The edge is
// succession bookkeeping, so failures here log and move on rather than
// unwinding a rule that is already persisted.
func (c *Composer) linkPredecessor(ctx context.Context, log *slog.Logger, rule *model.Rule) {
	pred, err := c.store.LatestPredecessor(ctx, rule.ConceptSlug, rule.EffectiveFrom)
	if errors.Is(err, model.ErrNotFound) {
		return
	}
	if err != nil {
		log.WarnContext(ctx, "predecessor lookup failed", "error", err)
		return
	}
	edges, err := c.store.SupersedesEdges(ctx, rule.Domain)
	if err != nil {
		log.WarnContext(ctx, "supersedes edges load failed", "error", err)
		return
	}
	if graph.WouldCycle(edges, rule.ID, pred.ID) {
		log.WarnContext(ctx, "supersedes edge skipped, would close a cycle",
			"rule", rule.ID, "predecessor", pred.ID)
		return
	}
	if err := c.store.SetSupersedes(ctx, rule.ID, pred.ID); err != nil {
		log.WarnContext(ctx, "supersedes edge write failed", "error", err)
		return
	}
	rule.SupersedesID = pred.ID
}

// reject marks the facts terminally rejected, writes the audit row, and
// returns the cause. A nil fact list skips the status write, for rejections
// raised before the facts were loaded.
func (c *Composer) reject(ctx context.Context, key string, factIDs []string, cause error) error {
	if len(factIDs) > 0 {
		if err := c.store.SetFactStatus(ctx, factIDs, model.FactRejected); err != nil {
			c.log.ErrorContext(ctx, "marking facts rejected failed", "error", err)
		}
	}
	event := audit.Event{
		Kind:        "rejection",
		SubjectKind: "composition",
		SubjectID:   shortKey(key),
		Action:      "composition.rejected",
		Reason:      cause.Error(),
		Metadata:    map[string]interface{}{"facts": len(factIDs)},
	}
	if rej := model.RejectionOf(cause); rej != nil {
		event.Metadata["kind"] = string(rej.Kind)
	}
	c.recordAudit(ctx, event)
	return cause
}

func (c *Composer) recordAudit(ctx context.Context, e audit.Event) {
	if err := c.auditor.Record(ctx, e); err != nil {
		c.log.ErrorContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}

func (c *Composer) blocked(domain string) bool {
	for _, b := range c.review.BlockedDomains {
		if strings.EqualFold(strings.TrimSpace(b), strings.TrimSpace(domain)) {
			return true
		}
	}
	return false
}

// resolveSlug maps the draft onto the taxonomy: the claimed slug when the
// taxonomy knows it, the domain's alias as second choice, a slugified
// domain as the floor so taxonomy lag never drops a rule.
func resolveSlug(snap *taxonomy.Snapshot, claimed, domain string) (slug, via string) {
	if s, ok := snap.Canonical(claimed); ok {
		return s, "taxonomy"
	}
	if s, ok := snap.Canonical(domain); ok {
		return s, "domain-alias"
	}
	return slugify(domain), "domain"
}

func slugify(s string) string {
	folded := evidence.Fold(s)
	var b strings.Builder
	pendingDash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func documentIDs(pointers []model.SourcePointer) []string {
	seen := make(map[string]bool, len(pointers))
	out := make([]string, 0, len(pointers))
	for _, p := range pointers {
		if seen[p.DocumentID] {
			continue
		}
		seen[p.DocumentID] = true
		out = append(out, p.DocumentID)
	}
	return out
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
