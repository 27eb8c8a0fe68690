package jobs

import (
	"testing"

	"evalpipe/internal/domain"
)

func TestFloatHistorySkipsNil(t *testing.T) {
	recs := []domain.EvaluationRecord{
		{Confidence: floatPtr(0.9)},
		{Confidence: nil},
		{Confidence: floatPtr(0.7)},
	}
	got := floatHistory(recs, func(r domain.EvaluationRecord) *float64 { return r.Confidence })
	if len(got) != 2 || got[0] != 0.9 || got[1] != 0.7 {
		t.Fatalf("floatHistory() = %v, want [0.9 0.7]", got)
	}
}

func TestAbsFloat(t *testing.T) {
	if absFloat(-3.5) != 3.5 {
		t.Errorf("absFloat(-3.5) = %v, want 3.5", absFloat(-3.5))
	}
	if absFloat(3.5) != 3.5 {
		t.Errorf("absFloat(3.5) = %v, want 3.5", absFloat(3.5))
	}
	if absFloat(0) != 0 {
		t.Errorf("absFloat(0) = %v, want 0", absFloat(0))
	}
}
