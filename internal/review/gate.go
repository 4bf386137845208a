// Package review is the tiered gate between composed drafts and anything
// releasable. T0 and T1 rules always wait for a human; T2 and T3 rules may
// auto-approve only when every check passes. The gate records why a rule
// waits and by when someone has to look at it.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/normativhq/normativ/internal/audit"
	"github.com/normativhq/normativ/internal/model"
)

// AutoApprover is the approver identity recorded on gate-approved rules.
// Release checks treat it as distinct from any human reviewer.
const AutoApprover = "auto-gate"

// Store is the slice of the persistence layer the gate needs
type Store interface {
	GetRule(ctx context.Context, id string) (model.Rule, error)
	OpenConflictsForRules(ctx context.Context, ruleIDs []string) ([]model.Conflict, error)
	SetReviewOutcome(ctx context.Context, ruleID string, status model.RuleStatus, reason string, priority int, deadline *time.Time) error
	ApproveRule(ctx context.Context, ruleID, approver string) error
	RejectRule(ctx context.Context, ruleID, reason string) error
	PendingReview(ctx context.Context, overdueOnly bool, now time.Time) ([]model.Rule, error)
}

// Gate evaluates, approves, and rejects rules under the configured policy
type Gate struct {
	store   Store
	cfg     model.ReviewConfig
	auditor audit.Logger
	log     *slog.Logger
	now     func() time.Time
}

// NewGate builds a gate. A nil auditor falls back to log-only recording.
func NewGate(store Store, cfg model.ReviewConfig, auditor audit.Logger, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "review")
	if auditor == nil {
		auditor = audit.NewLogger(log, nil)
	}
	return &Gate{
		store:   store,
		cfg:     cfg,
		auditor: auditor,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluation decisions
const (
	DecisionAutoApproved  = "auto_approved"
	DecisionPendingReview = "pending_review"
	DecisionUnchanged     = "unchanged" // Rule already past review
)

// Outcome reports what one evaluation decided and why
type Outcome struct {
	Decision string
	RuleID   string
	Reasons  []string
	Priority int
	Deadline *time.Time
}

// Evaluate runs the gate over one rule. Drafts and pending rules are fair
// game, anything else passes through unchanged. The tier check comes first
// and is absolute: no condition auto-approves a T0 or T1 rule.
func (g *Gate) Evaluate(ctx context.Context, ruleID string) (*Outcome, error) {
	rule, err := g.store.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewInputRejection("rule/"+ruleID, "rule does not exist")
		}
		return nil, err
	}
	switch rule.Status {
	case model.StatusDraft, model.StatusPendingReview:
	default:
		return &Outcome{
			Decision: DecisionUnchanged,
			RuleID:   rule.ID,
			Reasons:  []string{fmt.Sprintf("rule is %s", rule.Status)},
		}, nil
	}

	now := g.now()
	priority := rule.RiskTier.Rank()
	deadline := now.Add(g.cfg.SLAForTier(rule.RiskTier))
	// The SLA clock starts when the rule first enters review and does not
	// reset on re-evaluation.
	if rule.Status == model.StatusPendingReview && rule.ReviewDeadline != nil {
		deadline = *rule.ReviewDeadline
	}

	reasons, err := g.holdReasons(ctx, rule, now)
	if err != nil {
		return nil, err
	}

	if len(reasons) == 0 {
		// Every check passed. The rule still passes through PENDING_REVIEW
		// on its way to APPROVED so the status machine stays uniform.
		if err := g.store.SetReviewOutcome(ctx, rule.ID, model.StatusPendingReview,
			"auto-approval checks passed", priority, &deadline); err != nil {
			return nil, err
		}
		if err := g.store.ApproveRule(ctx, rule.ID, AutoApprover); err != nil {
			return nil, err
		}
		g.recordAudit(ctx, audit.Event{
			Kind:        "review",
			SubjectKind: "rule",
			SubjectID:   rule.ID,
			Action:      "review.auto_approved",
			Metadata: map[string]interface{}{
				"risk_tier":  string(rule.RiskTier),
				"confidence": rule.Confidence,
			},
		})
		g.log.InfoContext(ctx, "rule auto-approved",
			"rule", rule.ID, "tier", string(rule.RiskTier), "confidence", rule.Confidence)
		return &Outcome{Decision: DecisionAutoApproved, RuleID: rule.ID, Priority: priority}, nil
	}

	reason := strings.Join(reasons, "; ")
	if err := g.store.SetReviewOutcome(ctx, rule.ID, model.StatusPendingReview,
		reason, priority, &deadline); err != nil {
		return nil, err
	}
	g.recordAudit(ctx, audit.Event{
		Kind:        "review",
		SubjectKind: "rule",
		SubjectID:   rule.ID,
		Action:      "review.queued",
		Reason:      reason,
		Metadata: map[string]interface{}{
			"risk_tier": string(rule.RiskTier),
			"priority":  priority,
			"deadline":  deadline.Format(time.RFC3339),
		},
	})
	g.log.InfoContext(ctx, "rule queued for review",
		"rule", rule.ID, "tier", string(rule.RiskTier), "priority", priority, "reason", reason)
	return &Outcome{
		Decision: DecisionPendingReview,
		RuleID:   rule.ID,
		Reasons:  reasons,
		Priority: priority,
		Deadline: &deadline,
	}, nil
}

// holdReasons lists everything keeping a rule from auto-approval. An empty
// list means the rule may approve itself.
func (g *Gate) holdReasons(ctx context.Context, rule model.Rule, now time.Time) ([]string, error) {
	if rule.RiskTier.RequiresHumanReview() {
		return []string{"tier requires human review"}, nil
	}
	var reasons []string
	if rule.Confidence < g.cfg.AutoApproveThreshold {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below the %.2f auto-approve threshold",
			rule.Confidence, g.cfg.AutoApproveThreshold))
	}
	if age := now.Sub(rule.CreatedAt); age < g.cfg.GracePeriod {
		reasons = append(reasons, fmt.Sprintf("rule age %s inside the %s grace window",
			age.Round(time.Second), g.cfg.GracePeriod))
	}
	open, err := g.store.OpenConflictsForRules(ctx, []string{rule.ID})
	if err != nil {
		return nil, fmt.Errorf("loading open conflicts: %w", err)
	}
	if len(open) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d open conflicts", len(open)))
	}
	if len(rule.Pointers) == 0 {
		reasons = append(reasons, "no source pointers")
	}
	return reasons, nil
}

// Approve records a human decision. The evidence checks run again at the
// moment of approval, so a conflict opened after evaluation still blocks.
func (g *Gate) Approve(ctx context.Context, ruleID, approver string) error {
	if strings.TrimSpace(approver) == "" {
		return model.NewInputRejection("rule/"+ruleID, "approver identity is required")
	}
	rule, err := g.store.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewInputRejection("rule/"+ruleID, "rule does not exist")
		}
		return err
	}
	if len(rule.Pointers) == 0 {
		return g.blockApproval(ctx, rule, approver,
			model.NewPolicyRejection("rule/"+ruleID, "cannot approve a rule with zero source pointers"))
	}
	open, err := g.store.OpenConflictsForRules(ctx, []string{rule.ID})
	if err != nil {
		return fmt.Errorf("loading open conflicts: %w", err)
	}
	if len(open) > 0 {
		return g.blockApproval(ctx, rule, approver,
			model.NewPolicyRejection("rule/"+ruleID, "cannot approve with %d open conflicts", len(open)))
	}
	if err := g.store.ApproveRule(ctx, ruleID, approver); err != nil {
		return err
	}
	g.recordAudit(ctx, audit.Event{
		Kind:        "review",
		SubjectKind: "rule",
		SubjectID:   rule.ID,
		Action:      "review.approved",
		Metadata: map[string]interface{}{
			"approver":  approver,
			"risk_tier": string(rule.RiskTier),
		},
	})
	g.log.InfoContext(ctx, "rule approved", "rule", rule.ID, "approver", approver)
	return nil
}

// Reject is terminal: the rule leaves the pipeline and only a fresh
// composition can bring the concept back.
func (g *Gate) Reject(ctx context.Context, ruleID, reviewer, reason string) error {
	if strings.TrimSpace(reviewer) == "" {
		return model.NewInputRejection("rule/"+ruleID, "reviewer identity is required")
	}
	if strings.TrimSpace(reason) == "" {
		return model.NewInputRejection("rule/"+ruleID, "a rejection reason is required")
	}
	if err := g.store.RejectRule(ctx, ruleID, reason); err != nil {
		return err
	}
	g.recordAudit(ctx, audit.Event{
		Kind:        "review",
		SubjectKind: "rule",
		SubjectID:   ruleID,
		Action:      "review.rejected",
		Reason:      reason,
		Metadata:    map[string]interface{}{"reviewer": reviewer},
	})
	g.log.InfoContext(ctx, "rule rejected", "rule", ruleID, "reviewer", reviewer, "reason", reason)
	return nil
}

// Pending lists every rule awaiting review, most urgent first
func (g *Gate) Pending(ctx context.Context) ([]model.Rule, error) {
	return g.store.PendingReview(ctx, false, g.now())
}

// Overdue lists pending rules whose review deadline has passed, for SLA
// alerting
func (g *Gate) Overdue(ctx context.Context) ([]model.Rule, error) {
	return g.store.PendingReview(ctx, true, g.now())
}

func (g *Gate) blockApproval(ctx context.Context, rule model.Rule, approver string, cause error) error {
	g.recordAudit(ctx, audit.Event{
		Kind:        "review",
		SubjectKind: "rule",
		SubjectID:   rule.ID,
		Action:      "review.approve_blocked",
		Reason:      cause.Error(),
		Metadata:    map[string]interface{}{"approver": approver},
	})
	return cause
}

func (g *Gate) recordAudit(ctx context.Context, e audit.Event) {
	if err := g.auditor.Record(ctx, e); err != nil {
		g.log.ErrorContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}
