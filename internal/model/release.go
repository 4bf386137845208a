package model

import "time"

// Release is an immutable published snapshot of approved rules
type Release struct {
	ID          string        `json:"id"`
	Version     string        `json:"version"` // Semantic version, unique
	Type        ReleaseType   `json:"type"`
	ContentHash string        `json:"content_hash"` // Deterministic hash of the rule set
	Changelog   BilingualText `json:"changelog"`
	ApprovedBy  []string      `json:"approved_by"` // Distinct human approvers in the batch
	RuleIDs     []string      `json:"rule_ids"`

	// Audit rollup counters frozen at publish time.
	SourceCount        int `json:"source_count"`         // Distinct source documents cited
	PointerCount       int `json:"pointer_count"`        // Total source pointers
	ReviewCount        int `json:"review_count"`         // Rules that passed through the gate
	HumanApprovalCount int `json:"human_approval_count"` // Rules a person approved

	CreatedAt time.Time `json:"created_at"`
}

// ReleaseType is the semver bump the batch demanded
type ReleaseType string

const (
	ReleaseMajor ReleaseType = "major" // Batch contains a T0 rule
	ReleaseMinor ReleaseType = "minor" // Highest tier in batch is T1
	ReleasePatch ReleaseType = "patch" // T2/T3 only
)

// BumpForTiers returns the release type demanded by the highest tier present
func BumpForTiers(tiers []RiskTier) ReleaseType {
	highest := TierT3.Rank()
	for _, t := range tiers {
		if r := t.Rank(); r < highest {
			highest = r
		}
	}
	switch highest {
	case TierT0.Rank():
		return ReleaseMajor
	case TierT1.Rank():
		return ReleaseMinor
	default:
		return ReleasePatch
	}
}
