package model

import (
	"encoding/json"
	"time"
)

// Rule is a composed regulatory rule moving through review toward release
type Rule struct {
	ID          string        `json:"id"`
	ConceptSlug string        `json:"concept_slug"` // Canonical taxonomy slug, e.g. "pdv-stopa-25"
	Domain      string        `json:"domain"`
	Title       BilingualText `json:"title"`
	Explanation BilingualText `json:"explanation"`

	RiskTier  RiskTier       `json:"risk_tier"`
	Authority AuthorityLevel `json:"authority"` // Derived from cited documents, highest wins

	AppliesWhen json.RawMessage `json:"applies_when"` // Applicability predicate (validated DSL)
	Value       string          `json:"value"`
	ValueType   ValueType       `json:"value_type"`

	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"` // nil = open-ended
	SupersedesID   string     `json:"supersedes_id,omitempty"`   // Rule this one replaces

	Confidence     float64    `json:"confidence"` // Derived confidence (see confidence package)
	Status         RuleStatus `json:"status"`
	CompositionKey string     `json:"composition_key"` // Idempotency key of the composing job

	ReviewReason   string     `json:"review_reason,omitempty"`
	ReviewPriority int        `json:"review_priority,omitempty"` // Lower number = more urgent
	ReviewDeadline *time.Time `json:"review_deadline,omitempty"`

	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Pointers []SourcePointer `json:"pointers,omitempty"` // Loaded relation, not a column
}

// BilingualText carries the Croatian original and its English rendering
type BilingualText struct {
	HR string `json:"hr"`
	EN string `json:"en"`
}

// SourcePointer anchors a rule to a verbatim quote in a source document.
// Pointers are immutable once written; a rule must always hold at least one.
type SourcePointer struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	DocumentID string    `json:"document_id"`
	Quote      string    `json:"quote"`              // Verbatim span the rule rests on
	Confidence float64   `json:"confidence"`         // Extraction confidence (0..1)
	Citation   string    `json:"citation,omitempty"` // Human-readable locator, e.g. "čl. 38. st. 1."
	CreatedAt  time.Time `json:"created_at"`
}

// RuleStatus is the review lifecycle state
type RuleStatus string

const (
	StatusDraft         RuleStatus = "DRAFT"
	StatusPendingReview RuleStatus = "PENDING_REVIEW"
	StatusApproved      RuleStatus = "APPROVED"
	StatusPublished     RuleStatus = "PUBLISHED"
	StatusRejected      RuleStatus = "REJECTED" // Terminal
)

// RiskTier grades the blast radius of a wrong rule
type RiskTier string

const (
	TierT0 RiskTier = "T0" // Tax rates, filing deadlines, penalty amounts
	TierT1 RiskTier = "T1" // Thresholds, registration obligations
	TierT2 RiskTier = "T2" // Procedural guidance
	TierT3 RiskTier = "T3" // Informational content
)

// Rank orders tiers by severity, 0 most severe. Unknown tiers rank as T0 so
// malformed input falls on the strict side.
func (t RiskTier) Rank() int {
	switch t {
	case TierT1:
		return 1
	case TierT2:
		return 2
	case TierT3:
		return 3
	case TierT0:
		return 0
	default:
		return 0
	}
}

// RequiresHumanReview reports whether the tier is barred from auto-approval
func (t RiskTier) RequiresHumanReview() bool {
	return t.Rank() <= TierT1.Rank()
}

// ValidTier reports whether s is one of the four known tiers
func ValidTier(s string) bool {
	switch RiskTier(s) {
	case TierT0, TierT1, TierT2, TierT3:
		return true
	}
	return false
}

// AuthorityLevel places a source in the regulatory hierarchy
type AuthorityLevel string

const (
	AuthorityStatute   AuthorityLevel = "statute"   // Zakon, pravilnik: binding law
	AuthorityGuidance  AuthorityLevel = "guidance"  // Official ministry/tax-authority guidance
	AuthorityProcedure AuthorityLevel = "procedure" // Administrative procedure descriptions
	AuthorityPractice  AuthorityLevel = "practice"  // Professional commentary, established practice
	AuthorityUnknown   AuthorityLevel = ""
)

// Rank orders authority by bindingness, 0 strongest. Unknown ranks weakest.
func (a AuthorityLevel) Rank() int {
	switch a {
	case AuthorityStatute:
		return 0
	case AuthorityGuidance:
		return 1
	case AuthorityProcedure:
		return 2
	case AuthorityPractice:
		return 3
	default:
		return 4
	}
}

// Stronger reports whether a outranks b in the hierarchy
func (a AuthorityLevel) Stronger(b AuthorityLevel) bool {
	return a.Rank() < b.Rank()
}

// EffectiveWindow is the half-open validity interval of a rule
type EffectiveWindow struct {
	From  time.Time
	Until *time.Time // nil = open-ended
}

// Window returns the rule's effective window
func (r Rule) Window() EffectiveWindow {
	return EffectiveWindow{From: r.EffectiveFrom, Until: r.EffectiveUntil}
}

// Overlaps reports whether two validity windows share any instant
func (w EffectiveWindow) Overlaps(o EffectiveWindow) bool {
	if w.Until != nil && !w.Until.After(o.From) {
		return false
	}
	if o.Until != nil && !o.Until.After(w.From) {
		return false
	}
	return true
}

// Equal reports whether two windows are the same interval
func (w EffectiveWindow) Equal(o EffectiveWindow) bool {
	if !w.From.Equal(o.From) {
		return false
	}
	if (w.Until == nil) != (o.Until == nil) {
		return false
	}
	return w.Until == nil || w.Until.Equal(*o.Until)
}
