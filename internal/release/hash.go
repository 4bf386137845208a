package release

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/normativhq/normativ/internal/model"
)

const hashDateLayout = "2006-01-02"

// hashedRule is the canonical projection of a rule for digesting. Database
// ids, review state, confidence, and timestamps stay out, so identical
// regulatory content always digests identically no matter when or where it
// was composed.
type hashedRule struct {
	ConceptSlug    string              `json:"concept_slug"`
	Domain         string              `json:"domain"`
	Title          model.BilingualText `json:"title"`
	Explanation    model.BilingualText `json:"explanation"`
	RiskTier       string              `json:"risk_tier"`
	Authority      string              `json:"authority"`
	AppliesWhen    json.RawMessage     `json:"applies_when"`
	Value          string              `json:"value"`
	ValueType      string              `json:"value_type"`
	EffectiveFrom  string              `json:"effective_from"`
	EffectiveUntil string              `json:"effective_until,omitempty"`
}

// ContentHash digests the normalized rule set: rules sorted by concept
// slug, dates folded to days, JSON canonicalized per RFC 8785, SHA-256 over
// the result. Input order never changes the digest; any change to a rule's
// content does.
func ContentHash(rules []model.Rule) (string, error) {
	normalized := make([]hashedRule, 0, len(rules))
	for _, r := range rules {
		h := hashedRule{
			ConceptSlug:   r.ConceptSlug,
			Domain:        r.Domain,
			Title:         r.Title,
			Explanation:   r.Explanation,
			RiskTier:      string(r.RiskTier),
			Authority:     string(r.Authority),
			AppliesWhen:   r.AppliesWhen,
			Value:         r.Value,
			ValueType:     string(r.ValueType),
			EffectiveFrom: r.EffectiveFrom.Format(hashDateLayout),
		}
		if len(h.AppliesWhen) == 0 {
			h.AppliesWhen = json.RawMessage("null")
		}
		if r.EffectiveUntil != nil {
			h.EffectiveUntil = r.EffectiveUntil.Format(hashDateLayout)
		}
		normalized = append(normalized, h)
	}
	sort.Slice(normalized, func(i, j int) bool {
		a, b := normalized[i], normalized[j]
		if a.ConceptSlug != b.ConceptSlug {
			return a.ConceptSlug < b.ConceptSlug
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.EffectiveFrom < b.EffectiveFrom
	})

	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshaling rule set: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalizing rule set: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
