package dsl

import (
	"encoding/json"
	"regexp"
	"time"
)

// Context carries the facts a predicate is evaluated against
type Context struct {
	Fields map[string]interface{} // string, float64, bool, or time.Time per field
	Date   time.Time              // Evaluation instant for "effective"
}

// Eval evaluates a validated predicate against ctx. It is total and
// fail-closed: anything absent, malformed, or incomparable evaluates false.
// Callers must Validate first; Eval does not re-check the grammar.
func Eval(n *Node, ctx Context) bool {
	if n == nil {
		return false
	}
	switch n.Op {
	case "true":
		return true
	case "false":
		return false

	case "and":
		if len(n.Args) == 0 {
			return false
		}
		for _, arg := range n.Args {
			if !Eval(arg, ctx) {
				return false
			}
		}
		return true

	case "or":
		for _, arg := range n.Args {
			if Eval(arg, ctx) {
				return true
			}
		}
		return false

	case "not":
		if n.Arg == nil {
			return false
		}
		return !Eval(n.Arg, ctx)

	case "eq":
		return equalValue(ctx.Fields[n.Field], n.Value)
	case "neq":
		if _, ok := ctx.Fields[n.Field]; !ok {
			return false
		}
		return !equalValue(ctx.Fields[n.Field], n.Value)

	case "gt", "gte", "lt", "lte":
		have, ok := asOrdered(ctx.Fields[n.Field])
		if !ok {
			return false
		}
		want, ok := boundValue(n.Value)
		if !ok {
			return false
		}
		switch n.Op {
		case "gt":
			return have > want
		case "gte":
			return have >= want
		case "lt":
			return have < want
		default:
			return have <= want
		}

	case "in":
		for _, v := range n.Values {
			if equalValue(ctx.Fields[n.Field], v) {
				return true
			}
		}
		return false

	case "exists":
		_, ok := ctx.Fields[n.Field]
		return ok

	case "between":
		have, ok := asOrdered(ctx.Fields[n.Field])
		if !ok {
			return false
		}
		min, okMin := boundValue(n.Min)
		max, okMax := boundValue(n.Max)
		return okMin && okMax && have >= min && have <= max

	case "matches":
		s, ok := ctx.Fields[n.Field].(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)

	case "effective":
		from, err := time.Parse(DateLayout, n.From)
		if err != nil {
			return false
		}
		if ctx.Date.Before(from) {
			return false
		}
		if n.Until != "" {
			until, err := time.Parse(DateLayout, n.Until)
			if err != nil {
				return false
			}
			if ctx.Date.After(until) {
				return false
			}
		}
		return true

	default:
		return false
	}
}

// EvalRaw validates and evaluates in one step, for callers holding bytes
func EvalRaw(raw []byte, schema *Schema, ctx Context) (bool, Result) {
	r := Validate(raw, schema)
	if !r.Valid {
		return false, r
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return false, invalid("malformed predicate: %v", err)
	}
	return Eval(&n, ctx), valid
}

func equalValue(have interface{}, raw json.RawMessage) bool {
	if have == nil || len(raw) == 0 {
		return false
	}
	var want interface{}
	if err := json.Unmarshal(raw, &want); err != nil {
		return false
	}
	switch h := have.(type) {
	case string:
		w, ok := want.(string)
		return ok && h == w
	case float64:
		w, ok := want.(float64)
		return ok && h == w
	case int:
		w, ok := want.(float64)
		return ok && float64(h) == w
	case bool:
		w, ok := want.(bool)
		return ok && h == w
	case time.Time:
		w, ok := want.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(DateLayout, w)
		return err == nil && h.Equal(t)
	}
	return false
}

// asOrdered maps a context value onto the same scale boundValue uses
func asOrdered(have interface{}) (float64, bool) {
	switch h := have.(type) {
	case float64:
		return h, true
	case int:
		return float64(h), true
	case time.Time:
		return float64(h.Unix()), true
	case string:
		if t, err := time.Parse(DateLayout, h); err == nil {
			return float64(t.Unix()), true
		}
	}
	return 0, false
}
