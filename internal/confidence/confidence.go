// Package confidence derives rule confidence from evidence and reasoning
// signals. Every number is reproducible from the breakdown it ships with;
// nothing here consults external state.
package confidence

// Evidence aggregation weights. The mean carries the signal, the min keeps
// one weak pointer visible in the result.
const (
	meanWeight = 0.9
	minWeight  = 0.1
)

// Breakdown is the transparent record of one derivation
type Breakdown struct {
	PointerCount int     `json:"pointer_count"`
	Mean         float64 `json:"mean"`
	Min          float64 `json:"min"`
	Evidence     float64 `json:"evidence"`  // 0.9*mean + 0.1*min
	Reasoning    float64 `json:"reasoning"` // Self-reported by the reasoning function, clamped
	Derived      float64 `json:"derived"`   // min(evidence, reasoning)
}

// Derived computes the rule confidence from pointer confidences and the
// reasoning function's self-reported confidence. Total: empty evidence
// yields 0, all inputs are clamped to [0,1], the reasoning score can only
// cap the result, never raise it.
func Derived(pointerConfidences []float64, reasoning float64) float64 {
	return Explain(pointerConfidences, reasoning).Derived
}

// Explain computes the derivation with its full breakdown
func Explain(pointerConfidences []float64, reasoning float64) Breakdown {
	b := Breakdown{
		PointerCount: len(pointerConfidences),
		Reasoning:    clamp(reasoning),
	}
	if len(pointerConfidences) == 0 {
		return b
	}

	sum := 0.0
	min := 1.0
	for _, c := range pointerConfidences {
		c = clamp(c)
		sum += c
		if c < min {
			min = c
		}
	}
	b.Mean = sum / float64(len(pointerConfidences))
	b.Min = min
	b.Evidence = clamp(meanWeight*b.Mean + minWeight*b.Min)

	b.Derived = b.Evidence
	if b.Reasoning < b.Derived {
		b.Derived = b.Reasoning
	}
	return b
}

// Data renders the breakdown for audit metadata, formula included
func (b Breakdown) Data() map[string]interface{} {
	return map[string]interface{}{
		"pointer_count": b.PointerCount,
		"mean":          b.Mean,
		"min":           b.Min,
		"evidence":      b.Evidence,
		"reasoning":     b.Reasoning,
		"derived":       b.Derived,
		"formula":       "min(0.9*mean + 0.1*min, reasoning)",
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
