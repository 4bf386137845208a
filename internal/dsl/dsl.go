// Package dsl validates and evaluates rule applicability predicates.
//
// Predicates arrive as JSON from the reasoning function and are never
// trusted: Validate is a total function over arbitrary bytes and the
// pipeline rejects any rule whose predicate fails it. There is no fallback
// predicate; an invalid expression means the rule does not ship.
package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// MaxDepth bounds predicate nesting. Deeper trees are rejected outright.
const MaxDepth = 32

// DateLayout is the wire format of all DSL dates
const DateLayout = "2006-01-02"

// Node is one operator application in the predicate tree
type Node struct {
	Op string `json:"op"`

	Args []*Node `json:"args,omitempty"` // and, or
	Arg  *Node   `json:"arg,omitempty"`  // not

	Field  string            `json:"field,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`  // eq, neq, gt, gte, lt, lte
	Values []json.RawMessage `json:"values,omitempty"` // in
	Min    json.RawMessage   `json:"min,omitempty"`    // between
	Max    json.RawMessage   `json:"max,omitempty"`    // between

	Pattern string `json:"pattern,omitempty"` // matches
	From    string `json:"from,omitempty"`    // effective
	Until   string `json:"until,omitempty"`   // effective, optional
}

// FieldType declares what a schema field holds
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldBool   FieldType = "bool"
)

// Schema lists the field paths a predicate may reference. When supplied,
// references outside it fail validation.
type Schema struct {
	Fields map[string]FieldType
}

// Result is a validation verdict. Reason is set exactly when Valid is false.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(format string, args ...interface{}) Result {
	return Result{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

var valid = Result{Valid: true}

// Validate checks raw predicate bytes against the operator grammar and the
// optional field schema. It is total: any input, including garbage bytes,
// yields a verdict and never a panic or error.
func Validate(raw []byte, schema *Schema) Result {
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalid("empty predicate")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var n Node
	if err := dec.Decode(&n); err != nil {
		return invalid("malformed predicate: %v", err)
	}
	// Trailing content after the tree is a smuggling vector, refuse it.
	if dec.More() {
		return invalid("trailing content after predicate")
	}
	return validateNode(&n, schema, 0)
}

func validateNode(n *Node, schema *Schema, depth int) Result {
	if n == nil {
		return invalid("missing operand")
	}
	if depth > MaxDepth {
		return invalid("predicate nested deeper than %d", MaxDepth)
	}

	switch n.Op {
	case "true", "false":
		return valid

	case "and", "or":
		if len(n.Args) == 0 {
			return invalid("%q requires at least one operand", n.Op)
		}
		if n.Arg != nil || n.Field != "" {
			return invalid("%q takes args only", n.Op)
		}
		for i, arg := range n.Args {
			if r := validateNode(arg, schema, depth+1); !r.Valid {
				return invalid("%s[%d]: %s", n.Op, i, r.Reason)
			}
		}
		return valid

	case "not":
		if n.Arg == nil {
			return invalid("\"not\" requires an operand")
		}
		if len(n.Args) != 0 {
			return invalid("\"not\" takes a single arg")
		}
		if r := validateNode(n.Arg, schema, depth+1); !r.Valid {
			return invalid("not: %s", r.Reason)
		}
		return valid

	case "eq", "neq", "gt", "gte", "lt", "lte":
		if n.Field == "" {
			return invalid("%q requires a field", n.Op)
		}
		if r := checkField(schema, n.Field); !r.Valid {
			return r
		}
		if !scalarJSON(n.Value) {
			return invalid("%q requires a scalar value", n.Op)
		}
		if n.Op != "eq" && n.Op != "neq" {
			if !orderable(schema, n.Field, n.Value) {
				return invalid("%q requires a numeric or date value for field %q", n.Op, n.Field)
			}
		}
		return valid

	case "in":
		if n.Field == "" {
			return invalid("\"in\" requires a field")
		}
		if r := checkField(schema, n.Field); !r.Valid {
			return r
		}
		if len(n.Values) == 0 {
			return invalid("\"in\" requires at least one value")
		}
		for i, v := range n.Values {
			if !scalarJSON(v) {
				return invalid("in.values[%d] is not a scalar", i)
			}
		}
		return valid

	case "exists":
		if n.Field == "" {
			return invalid("\"exists\" requires a field")
		}
		return checkField(schema, n.Field)

	case "between":
		if n.Field == "" {
			return invalid("\"between\" requires a field")
		}
		if r := checkField(schema, n.Field); !r.Valid {
			return r
		}
		min, minOK := boundValue(n.Min)
		max, maxOK := boundValue(n.Max)
		if !minOK || !maxOK {
			return invalid("\"between\" requires numeric or date min and max")
		}
		if min > max {
			return invalid("\"between\" min exceeds max")
		}
		return valid

	case "matches":
		if n.Field == "" {
			return invalid("\"matches\" requires a field")
		}
		if r := checkField(schema, n.Field); !r.Valid {
			return r
		}
		if n.Pattern == "" {
			return invalid("\"matches\" requires a pattern")
		}
		if _, err := regexp.Compile(n.Pattern); err != nil {
			return invalid("bad pattern %q: %v", n.Pattern, err)
		}
		return valid

	case "effective":
		from, err := time.Parse(DateLayout, n.From)
		if err != nil {
			return invalid("\"effective\" requires from as %s", DateLayout)
		}
		if n.Until != "" {
			until, err := time.Parse(DateLayout, n.Until)
			if err != nil {
				return invalid("\"effective\" until must be %s", DateLayout)
			}
			if until.Before(from) {
				return invalid("\"effective\" until precedes from")
			}
		}
		return valid

	case "":
		return invalid("missing operator")

	default:
		return invalid("unknown operator %q", n.Op)
	}
}

func checkField(schema *Schema, field string) Result {
	if schema == nil {
		return valid
	}
	if _, ok := schema.Fields[field]; !ok {
		return invalid("unknown field %q", field)
	}
	return valid
}

// scalarJSON reports whether raw holds exactly one JSON string, number, or
// boolean. Null, objects, and arrays are not comparable values.
func scalarJSON(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v.(type) {
	case string, float64, bool:
		return true
	}
	return false
}

// orderable reports whether raw can participate in gt/lt style comparisons
// for the given field: a JSON number, or a date string when the schema says
// the field is a date (or no schema constrains it).
func orderable(schema *Schema, field string, raw json.RawMessage) bool {
	var num float64
	if json.Unmarshal(raw, &num) == nil {
		return true
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return false
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return false
	}
	if schema != nil {
		return schema.Fields[field] == FieldDate
	}
	return true
}

// boundValue maps a between bound onto a comparable float. Dates become
// unix seconds so mixed date bounds order correctly.
func boundValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var num float64
	if json.Unmarshal(raw, &num) == nil {
		return num, true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(DateLayout, s); err == nil {
			return float64(t.Unix()), true
		}
	}
	return 0, false
}
