// Package release turns batches of approved rules into immutable versioned
// releases. Five named gates guard entry, the evidence chain is re-verified
// at publish time, and the status flip happens in one transaction: a batch
// ships whole or not at all.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/evidence"
	"github.com/normativhq/normativ/internal/model"
	"github.com/normativhq/normativ/internal/queue"
	"github.com/normativhq/normativ/internal/review"
)

// Gate names, reported verbatim when a batch is refused
const (
	GateAllApproved      = "all-approved"
	GateApproverRecorded = "t0t1-approver-recorded"
	GateNoOpenConflicts  = "no-open-conflicts"
	GatePointerPresent   = "pointer-present"
	GateSourceStrength   = "single-source-statute-authority"
)

// GateFailure names one failed gate and every rule that tripped it
type GateFailure struct {
	Gate    string
	RuleIDs []string
}

func (f GateFailure) String() string {
	return fmt.Sprintf("gate %s failed for rules %s", f.Gate, strings.Join(f.RuleIDs, ", "))
}

// Store is the slice of the persistence layer the builder needs
type Store interface {
	RulesByIDs(ctx context.Context, ids []string) ([]model.Rule, error)
	OpenConflictsForRules(ctx context.Context, ruleIDs []string) ([]model.Conflict, error)
	LatestVersion(ctx context.Context) (string, error)
	PublishRelease(ctx context.Context, release model.Release) (model.Release, error)
}

// Builder assembles and publishes releases
type Builder struct {
	store    Store
	verifier *evidence.Verifier
	notifier Notifier
	auditor  audit.Logger
	log      *slog.Logger
}

// NewBuilder wires a builder. A nil notifier drops notifications, a nil
// auditor falls back to log-only recording.
func NewBuilder(store Store, verifier *evidence.Verifier, notifier Notifier, auditor audit.Logger, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "release")
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if auditor == nil {
		auditor = audit.NewLogger(log, nil)
	}
	return &Builder{
		store:    store,
		verifier: verifier,
		notifier: notifier,
		auditor:  auditor,
		log:      log,
	}
}

// Build publishes one batch of rules as the next release. A refused batch
// comes back as a rejection naming every failed gate and the rule ids that
// tripped it, never a generic failure. Nothing is written unless every gate
// and the evidence chain pass.
func (b *Builder) Build(ctx context.Context, ruleIDs []string) (*model.Release, error) {
	if len(ruleIDs) == 0 {
		return nil, model.NewInputRejection("release", "no rule ids supplied")
	}
	batch := "batch/" + shortBatch(ruleIDs)

	rules, err := b.store.RulesByIDs(ctx, ruleIDs)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewInputRejection(batch, "batch references missing rules: %v", err)
		}
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	failures, err := b.checkGates(ctx, rules)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		parts := make([]string, len(failures))
		for i, f := range failures {
			parts[i] = f.String()
		}
		cause := model.NewPolicyRejection(batch, "%s", strings.Join(parts, "; "))
		b.blocked(ctx, batch, ruleIDs, cause)
		return nil, cause
	}

	if err := b.verifier.VerifyChain(ctx, rules); err != nil {
		if model.IsTerminal(err) {
			b.blocked(ctx, batch, ruleIDs, err)
		}
		return nil, err
	}

	latest, err := b.store.LatestVersion(ctx)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("loading latest version: %w", err)
	}
	version, bump, err := NextVersion(latest, rules)
	if err != nil {
		return nil, err
	}
	hash, err := ContentHash(rules)
	if err != nil {
		return nil, err
	}

	release := model.Release{
		Version:            version,
		Type:               bump,
		ContentHash:        hash,
		Changelog:          changelog(rules),
		ApprovedBy:         approvers(rules),
		RuleIDs:            sortedIDs(rules),
		SourceCount:        distinctSources(rules),
		PointerCount:       totalPointers(rules),
		ReviewCount:        len(rules),
		HumanApprovalCount: humanApprovals(rules),
	}
	published, err := b.store.PublishRelease(ctx, release)
	if err != nil {
		if model.IsTerminal(err) {
			b.blocked(ctx, batch, ruleIDs, err)
		}
		return nil, err
	}

	b.recordAudit(ctx, audit.Event{
		Kind:        "release",
		SubjectKind: "release",
		SubjectID:   published.Version,
		Action:      "release.published",
		Metadata: map[string]interface{}{
			"version":      published.Version,
			"type":         string(published.Type),
			"content_hash": published.ContentHash,
			"rules":        len(rules),
			"approvers":    published.ApprovedBy,
		},
	})
	b.log.InfoContext(ctx, "release published",
		"version", published.Version, "type", string(published.Type),
		"rules", len(rules), "hash", shortHash(published.ContentHash))

	if err := b.notifier.Notify(ctx, published); err != nil {
		// Side effects never unwind a release that already happened.
		b.log.WarnContext(ctx, "release notification failed",
			"version", published.Version, "error", err)
	}
	return &published, nil
}

// Verify runs the gates and the evidence chain over a batch without
// publishing or recording anything. Dry run for operators.
func (b *Builder) Verify(ctx context.Context, ruleIDs []string) error {
	if len(ruleIDs) == 0 {
		return model.NewInputRejection("release", "no rule ids supplied")
	}
	batch := "batch/" + shortBatch(ruleIDs)

	rules, err := b.store.RulesByIDs(ctx, ruleIDs)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewInputRejection(batch, "batch references missing rules: %v", err)
		}
		return fmt.Errorf("loading rules: %w", err)
	}

	failures, err := b.checkGates(ctx, rules)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		parts := make([]string, len(failures))
		for i, f := range failures {
			parts[i] = f.String()
		}
		return model.NewPolicyRejection(batch, "%s", strings.Join(parts, "; "))
	}
	return b.verifier.VerifyChain(ctx, rules)
}

// checkGates runs the five hard gates over the batch and reports every
// failure at once, so the caller sees the whole picture in one refusal.
func (b *Builder) checkGates(ctx context.Context, rules []model.Rule) ([]GateFailure, error) {
	var notApproved, unattributed, conflicted, unpointed, weakSingle []string

	inBatch := make(map[string]bool, len(rules))
	for _, r := range rules {
		inBatch[r.ID] = true
		if r.Status != model.StatusApproved {
			notApproved = append(notApproved, r.ID)
		}
		if r.RiskTier.RequiresHumanReview() && (r.ApprovedBy == "" || r.ApprovedBy == review.AutoApprover) {
			unattributed = append(unattributed, r.ID)
		}
		if len(r.Pointers) == 0 {
			unpointed = append(unpointed, r.ID)
		}
		if evidence.DistinctDocuments(r.Pointers) == 1 && r.Authority != model.AuthorityStatute {
			weakSingle = append(weakSingle, r.ID)
		}
	}

	open, err := b.store.OpenConflictsForRules(ctx, sortedIDs(rules))
	if err != nil {
		return nil, fmt.Errorf("loading open conflicts: %w", err)
	}
	seen := make(map[string]bool)
	for _, c := range open {
		for _, id := range c.RuleIDs {
			if inBatch[id] && !seen[id] {
				seen[id] = true
				conflicted = append(conflicted, id)
			}
		}
	}
	sort.Strings(conflicted)

	var failures []GateFailure
	add := func(gate string, ids []string) {
		if len(ids) > 0 {
			failures = append(failures, GateFailure{Gate: gate, RuleIDs: ids})
		}
	}
	add(GateAllApproved, notApproved)
	add(GateApproverRecorded, unattributed)
	add(GateNoOpenConflicts, conflicted)
	add(GatePointerPresent, unpointed)
	add(GateSourceStrength, weakSingle)
	return failures, nil
}

func (b *Builder) blocked(ctx context.Context, batch string, ruleIDs []string, cause error) {
	b.recordAudit(ctx, audit.Event{
		Kind:        "release",
		SubjectKind: "release",
		SubjectID:   batch,
		Action:      "release.blocked",
		Reason:      cause.Error(),
		Metadata:    map[string]interface{}{"rules": len(ruleIDs)},
	})
	b.log.WarnContext(ctx, "release blocked", "batch", batch, "reason", cause.Error())
}

func (b *Builder) recordAudit(ctx context.Context, e audit.Event) {
	if err := b.auditor.Record(ctx, e); err != nil {
		b.log.ErrorContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}

// changelog renders one bilingual line per rule, ordered by concept slug
func changelog(rules []model.Rule) model.BilingualText {
	ordered := make([]model.Rule, len(rules))
	copy(ordered, rules)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ConceptSlug < ordered[j].ConceptSlug })

	hr := make([]string, 0, len(ordered))
	en := make([]string, 0, len(ordered))
	for _, r := range ordered {
		hr = append(hr, fmt.Sprintf("- %s: %s", r.Title.HR, r.Value))
		en = append(en, fmt.Sprintf("- %s: %s", r.Title.EN, r.Value))
	}
	return model.BilingualText{
		HR: strings.Join(hr, "\n"),
		EN: strings.Join(en, "\n"),
	}
}

// approvers lists the distinct humans who approved rules in the batch
func approvers(rules []model.Rule) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range rules {
		who := r.ApprovedBy
		if who == "" || who == review.AutoApprover || seen[who] {
			continue
		}
		seen[who] = true
		out = append(out, who)
	}
	sort.Strings(out)
	return out
}

func humanApprovals(rules []model.Rule) int {
	n := 0
	for _, r := range rules {
		if r.ApprovedBy != "" && r.ApprovedBy != review.AutoApprover {
			n++
		}
	}
	return n
}

func distinctSources(rules []model.Rule) int {
	seen := make(map[string]bool)
	for _, r := range rules {
		for _, p := range r.Pointers {
			seen[p.DocumentID] = true
		}
	}
	return len(seen)
}

func totalPointers(rules []model.Rule) int {
	n := 0
	for _, r := range rules {
		n += len(r.Pointers)
	}
	return n
}

func sortedIDs(rules []model.Rule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids
}

func shortBatch(ruleIDs []string) string {
	return shortHash(queue.ReleaseKey(ruleIDs))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
