package confidence

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDerived_Basic(t *testing.T) {
	// mean = 0.8, min = 0.6 -> evidence = 0.9*0.8 + 0.1*0.6 = 0.78
	got := Derived([]float64{0.6, 0.8, 1.0}, 0.95)
	if !almostEqual(got, 0.78) {
		t.Errorf("Expected 0.78, got %f", got)
	}
}

func TestDerived_ReasoningCapsResult(t *testing.T) {
	// Strong evidence but weak reasoning: reasoning wins
	got := Derived([]float64{0.9, 0.9, 0.9}, 0.5)
	if !almostEqual(got, 0.5) {
		t.Errorf("Expected reasoning cap 0.5, got %f", got)
	}

	// Reasoning can never raise above evidence
	evidence := Derived([]float64{0.5, 0.5}, 1.0)
	if !almostEqual(evidence, 0.5) {
		t.Errorf("Expected evidence bound 0.5, got %f", evidence)
	}
}

func TestDerived_EmptyPointers(t *testing.T) {
	if got := Derived(nil, 0.99); got != 0 {
		t.Errorf("Expected 0 for no evidence, got %f", got)
	}
	if got := Derived([]float64{}, 0.99); got != 0 {
		t.Errorf("Expected 0 for empty evidence, got %f", got)
	}
}

func TestDerived_ClampsInputs(t *testing.T) {
	got := Derived([]float64{1.7, -0.3}, 2.0)
	// Clamped to {1.0, 0.0}: mean = 0.5, min = 0 -> evidence = 0.45
	if !almostEqual(got, 0.45) {
		t.Errorf("Expected 0.45 after clamping, got %f", got)
	}
	if got < 0 || got > 1 {
		t.Errorf("Result must stay in [0,1], got %f", got)
	}
}

func TestDerived_SingleWeakPointer(t *testing.T) {
	// One pointer: mean == min, evidence == that confidence
	got := Derived([]float64{0.3}, 0.9)
	if !almostEqual(got, 0.3) {
		t.Errorf("Expected 0.3, got %f", got)
	}
}

func TestExplain_Breakdown(t *testing.T) {
	b := Explain([]float64{0.6, 1.0}, 0.7)
	if b.PointerCount != 2 {
		t.Errorf("Expected 2 pointers, got %d", b.PointerCount)
	}
	if !almostEqual(b.Mean, 0.8) || !almostEqual(b.Min, 0.6) {
		t.Errorf("Unexpected mean/min: %f/%f", b.Mean, b.Min)
	}
	if !almostEqual(b.Evidence, 0.78) {
		t.Errorf("Expected evidence 0.78, got %f", b.Evidence)
	}
	if !almostEqual(b.Derived, 0.7) {
		t.Errorf("Expected derivation capped at 0.7, got %f", b.Derived)
	}

	data := b.Data()
	if data["formula"] == "" {
		t.Error("Breakdown data must carry the formula")
	}
}
