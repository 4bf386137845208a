package model

import "time"

// Conflict records a detected contradiction between a candidate rule and
// existing rules. Open conflicts block both auto-approval and release.
type Conflict struct {
	ID          string         `json:"id"`
	Kind        ConflictKind   `json:"kind"`
	Status      ConflictStatus `json:"status"`
	Description string         `json:"description"` // Human-readable, names the competing values
	RuleIDs     []string       `json:"rule_ids"`    // All rules party to the conflict
	ConceptSlug string         `json:"concept_slug"`
	DetectedAt  time.Time      `json:"detected_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Resolution  string         `json:"resolution,omitempty"` // How a reviewer settled it
}

// ConflictKind classifies the contradiction
type ConflictKind string

const (
	// ConflictValueMismatch: same concept, same window, different values,
	// neither source outranks the other.
	ConflictValueMismatch ConflictKind = "VALUE_MISMATCH"
	// ConflictDateOverlap: same concept and value but overlapping,
	// non-identical effective windows.
	ConflictDateOverlap ConflictKind = "DATE_OVERLAP"
	// ConflictAuthoritySupersede: differing values where one source outranks
	// the other; the weaker rule should be superseded, not contradicted.
	ConflictAuthoritySupersede ConflictKind = "AUTHORITY_SUPERSEDE"
	// ConflictCrossSlugDuplicate: the same normalized value in the same
	// domain surfacing under two different concept slugs.
	ConflictCrossSlugDuplicate ConflictKind = "CROSS_SLUG_DUPLICATE"
)

// ConflictStatus is open until a human records a resolution
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)
