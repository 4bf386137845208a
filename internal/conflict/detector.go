// Package conflict finds structural contradictions between a candidate rule
// and the rules already approved or published. Detection is deterministic
// string-and-date comparison; no reasoning function is consulted, so a
// conflict verdict is reproducible from stored state alone.
package conflict

import (
	"fmt"

	"github.com/normativhq/normativ/internal/model"
)

// Report is the outcome of one detection pass. Any conflict at all blocks
// composition; there is no severity ladder here.
type Report struct {
	Conflicts []model.Conflict
}

// Blocking reports whether the candidate may proceed
func (r Report) Blocking() bool {
	return len(r.Conflicts) > 0
}

// Detect compares a candidate against existing rules. The caller supplies
// every approved or published rule sharing the candidate's concept slug or
// domain; other statuses are ignored even if present. The candidate itself
// typically has no ID yet, so conflict records carry the existing rule ids
// and describe the candidate in text.
func Detect(candidate model.Rule, existing []model.Rule) Report {
	var report Report
	candNorm := model.NormalizeValue(candidate.ValueType, candidate.Value)
	candWindow := candidate.Window()

	for _, other := range existing {
		if other.Status != model.StatusApproved && other.Status != model.StatusPublished {
			continue
		}
		if other.ID != "" && other.ID == candidate.ID {
			continue
		}

		otherNorm := model.NormalizeValue(other.ValueType, other.Value)

		if other.ConceptSlug == candidate.ConceptSlug {
			if !candWindow.Overlaps(other.Window()) {
				continue
			}
			switch {
			case candNorm != otherNorm && authorityDiffers(candidate, other):
				report.add(model.ConflictAuthoritySupersede, candidate, other,
					fmt.Sprintf("value %q (%s) contradicts rule %s value %q (%s); stronger source should supersede",
						candidate.Value, candidate.Authority, other.ID, other.Value, other.Authority))
			case candNorm != otherNorm:
				report.add(model.ConflictValueMismatch, candidate, other,
					fmt.Sprintf("value %q disagrees with rule %s value %q in overlapping effective windows",
						candidate.Value, other.ID, other.Value))
			case !candWindow.Equal(other.Window()):
				report.add(model.ConflictDateOverlap, candidate, other,
					fmt.Sprintf("same value %q as rule %s but inconsistent effective windows", candidate.Value, other.ID))
			}
			continue
		}

		// Different slug: the same normalized value in the same domain means
		// the taxonomy mapped one concept onto two slugs.
		if other.Domain == candidate.Domain &&
			other.ValueType == candidate.ValueType &&
			otherNorm == candNorm {
			report.add(model.ConflictCrossSlugDuplicate, candidate, other,
				fmt.Sprintf("value %q appears under slug %q and slug %q in domain %q",
					candidate.Value, candidate.ConceptSlug, other.ConceptSlug, candidate.Domain))
		}
	}
	return report
}

func (r *Report) add(kind model.ConflictKind, candidate, other model.Rule, description string) {
	ids := []string{other.ID}
	if candidate.ID != "" {
		ids = append([]string{candidate.ID}, ids...)
	}
	r.Conflicts = append(r.Conflicts, model.Conflict{
		Kind:        kind,
		Status:      model.ConflictOpen,
		Description: description,
		RuleIDs:     ids,
		ConceptSlug: candidate.ConceptSlug,
	})
}

func authorityDiffers(a, b model.Rule) bool {
	return a.Authority.Stronger(b.Authority) || b.Authority.Stronger(a.Authority)
}
