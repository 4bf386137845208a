package reason

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/normativhq/normativ/internal/model"
)

// Draft is the rule shape the reasoning function must return. It is the
// only path from model output into the pipeline.
type Draft struct {
	ConceptSlug      string              `json:"concept_slug"`
	Title            model.BilingualText `json:"title"`
	Explanation      model.BilingualText `json:"explanation"`
	RiskTier         string              `json:"risk_tier"`
	AuthorityLevel   string              `json:"authority_level,omitempty"` // Claimed, may only weaken the derived level
	AppliesWhen      json.RawMessage     `json:"applies_when"`
	Value            string              `json:"value"`
	ValueType        string              `json:"value_type"`
	Confidence       float64             `json:"confidence"`
	ConflictDetected bool                `json:"conflict_detected,omitempty"` // Model saw the facts contradict each other
}

const draftSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["concept_slug", "title", "explanation", "risk_tier", "applies_when", "value", "value_type", "confidence"],
	"properties": {
		"concept_slug": {"type": "string", "minLength": 1},
		"title": {"$ref": "#/$defs/bilingual"},
		"explanation": {"$ref": "#/$defs/bilingual"},
		"risk_tier": {"enum": ["T0", "T1", "T2", "T3"]},
		"authority_level": {"enum": ["statute", "guidance", "procedure", "practice", ""]},
		"applies_when": {"type": "object"},
		"value": {"type": "string", "minLength": 1},
		"value_type": {"enum": ["percentage", "money", "date", "duration", "number", "boolean", "text"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"conflict_detected": {"type": "boolean"}
	},
	"$defs": {
		"bilingual": {
			"type": "object",
			"additionalProperties": false,
			"required": ["hr", "en"],
			"properties": {
				"hr": {"type": "string", "minLength": 1},
				"en": {"type": "string", "minLength": 1}
			}
		}
	}
}`

var draftSchema = jsonschema.MustCompileString("draft.json", draftSchemaJSON)

// ParseDraft validates raw model output against the draft schema and
// unmarshals it. Any mismatch is an input rejection: terminal, never
// retried with the same payload, never patched up.
func ParseDraft(raw []byte) (Draft, error) {
	cleaned := stripFences(raw)

	var v interface{}
	if err := json.Unmarshal(cleaned, &v); err != nil {
		return Draft{}, model.NewInputRejection("reason/draft", "draft is not valid JSON: %v", err)
	}
	if err := draftSchema.Validate(v); err != nil {
		return Draft{}, model.NewInputRejection("reason/draft", "draft failed schema validation: %v", err)
	}

	var d Draft
	if err := json.Unmarshal(cleaned, &d); err != nil {
		return Draft{}, model.NewInputRejection("reason/draft", "draft does not fit the rule shape: %v", err)
	}
	return d, nil
}

// stripFences unwraps the markdown code fences some models insist on
func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}
