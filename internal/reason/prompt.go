package reason

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every reasoning call
const SystemPrompt = "You are a Croatian tax and regulatory analyst. You compose precise, " +
	"conservative regulatory rules strictly from the evidence you are given. You never " +
	"invent values, dates, or sources, and you respond only with JSON."

// BuildPrompt constructs the default composition prompt for a fact group
func BuildPrompt(req ComposeRequest) string {
	var b strings.Builder

	b.WriteString(`Compose ONE regulatory rule from the extracted facts below.

CRITICAL RULES:
1. Use ONLY the facts and quotes provided. Do not add outside knowledge.
2. concept_slug MUST be one of the allowed slugs listed below.
3. If the facts contradict each other, set "conflict_detected": true and explain in the explanation fields.
4. risk_tier: T0 = tax rates, filing deadlines, penalty amounts; T1 = thresholds, registration obligations; T2 = procedural guidance; T3 = informational.
5. applies_when is a predicate object using only these operators: true, false, and, or, not, eq, neq, gt, gte, lt, lte, in, exists, between, matches, effective.
6. Write title and explanation in Croatian (hr) and English (en).
7. confidence is YOUR confidence in the composed rule, between 0 and 1.

Respond with a single JSON object:
{"concept_slug": "...", "title": {"hr": "...", "en": "..."}, "explanation": {"hr": "...", "en": "..."}, "risk_tier": "T0|T1|T2|T3", "authority_level": "statute|guidance|procedure|practice", "applies_when": {"op": "..."}, "value": "...", "value_type": "percentage|money|date|duration|number|boolean|text", "confidence": 0.0, "conflict_detected": false}

Allowed concept slugs:
`)
	b.WriteString(joinLimited(req.Slugs, 50))

	b.WriteString("\n\nFacts:\n")
	for i, fact := range req.Facts {
		fmt.Fprintf(&b, "%d. domain=%s value=%s type=%s confidence=%.2f\n", i+1, fact.Domain, fact.Value, fact.ValueType, fact.Confidence)
		for _, q := range fact.Quotes {
			fmt.Fprintf(&b, "   quote [doc %s]: %q\n", q.DocumentID, q.Text)
		}
	}

	if len(req.Documents) > 0 {
		b.WriteString("\nSource documents:\n")
		for _, doc := range req.Documents {
			fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", doc.ID, doc.Title, doc.Authority, doc.URL)
		}
	}

	return b.String()
}

func joinLimited(items []string, limit int) string {
	if len(items) == 0 {
		return "(none registered, use the fact domain as the slug)"
	}
	var b strings.Builder
	for i, item := range items {
		if i >= limit {
			fmt.Fprintf(&b, "\n... and %d more", len(items)-limit)
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + item)
	}
	return b.String()
}
