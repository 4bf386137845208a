package model

import (
	"fmt"
	"strings"
	"time"
)

// Fact is an atomic extracted observation awaiting composition
type Fact struct {
	ID         string          `json:"id"`
	Domain     string          `json:"domain"`      // Regulatory domain, e.g. "pdv-stopa"
	Value      string          `json:"value"`       // Raw extracted value, e.g. "25%"
	ValueType  ValueType       `json:"value_type"`  // How to interpret Value
	Confidence float64         `json:"confidence"`  // Extraction confidence (0..1)
	Status     FactStatus      `json:"status"`
	Quotes     []GroundingQuote `json:"quotes"`     // Verbatim source quotes backing the value
	CreatedAt  time.Time       `json:"created_at"`
}

// GroundingQuote ties a fact to a verbatim span in a source document
type GroundingQuote struct {
	Text        string  `json:"text"`         // Exact quoted span
	OffsetStart int     `json:"offset_start"` // Byte offset in document content (advisory)
	OffsetEnd   int     `json:"offset_end"`
	DocumentID  string  `json:"document_id"`
	Confidence  float64 `json:"confidence"` // Extraction confidence of this quote
}

// FactStatus tracks a fact through intake
type FactStatus string

const (
	FactCaptured FactStatus = "captured" // Stored, not yet composed
	FactPromoted FactStatus = "promoted" // Consumed by a composed rule
	FactRejected FactStatus = "rejected" // Terminally refused (see RejectionError)
)

// ValueType classifies what a fact or rule value denotes
type ValueType string

const (
	ValuePercentage ValueType = "percentage"
	ValueMoney      ValueType = "money"
	ValueDate       ValueType = "date"
	ValueDuration   ValueType = "duration"
	ValueNumber     ValueType = "number"
	ValueBoolean    ValueType = "boolean"
	ValueText       ValueType = "text"
)

// NormalizeValue folds a raw value into its comparable form: lowercase,
// collapsed whitespace, trailing zero-trim for numerics ("25.0%" == "25%").
func NormalizeValue(valueType ValueType, raw string) string {
	v := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	switch valueType {
	case ValuePercentage, ValueMoney, ValueNumber:
		v = strings.ReplaceAll(v, ",", ".")
		if i := strings.IndexAny(v, "0123456789"); i >= 0 {
			j := i
			for j < len(v) && (v[j] == '.' || (v[j] >= '0' && v[j] <= '9')) {
				j++
			}
			num := v[i:j]
			if strings.Contains(num, ".") {
				num = strings.TrimRight(num, "0")
				num = strings.TrimSuffix(num, ".")
			}
			v = v[:i] + num + v[j:]
		}
	}
	return v
}

// GroupingKey is the composition partition: facts sharing a key describe the
// same regulatory value and compose together into one rule.
func (f Fact) GroupingKey() string {
	return fmt.Sprintf("%s::%s::%s", f.Domain, f.ValueType, NormalizeValue(f.ValueType, f.Value))
}
