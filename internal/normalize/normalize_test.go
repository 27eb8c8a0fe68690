package normalize

import "testing"

func ptr64(v int64) *int64     { return &v }
func ptrF(v float64) *float64  { return &v }
func ptrB(v bool) *bool        { return &v }

func TestNormalizeLatencyInRange(t *testing.T) {
	cfg := DefaultConfig()
	n := Normalize(cfg, RawMetrics{LatencyMs: ptr64(1)})
	if n.LatencyNorm == nil || *n.LatencyNorm < 0 || *n.LatencyNorm > 1 {
		t.Fatalf("latency_norm out of range: %+v", n.LatencyNorm)
	}
}

func TestNormalizeHallucination(t *testing.T) {
	cfg := DefaultConfig()
	n := Normalize(cfg, RawMetrics{HallucinationFlag: ptrB(true)})
	if n.HallucinationNorm == nil || *n.HallucinationNorm != 0 {
		t.Fatalf("expected hallucination_norm=0, got %+v", n.HallucinationNorm)
	}
	n2 := Normalize(cfg, RawMetrics{HallucinationFlag: ptrB(false)})
	if n2.HallucinationNorm == nil || *n2.HallucinationNorm != 1 {
		t.Fatalf("expected hallucination_norm=1, got %+v", n2.HallucinationNorm)
	}
}

func TestRunQualityScoreNilWhenNoComponents(t *testing.T) {
	cfg := DefaultConfig()
	n := Normalize(cfg, RawMetrics{})
	if n.RunQualityScore != nil {
		t.Fatalf("expected nil run_quality_score, got %v", *n.RunQualityScore)
	}
}

func TestRunQualityScoreInRange(t *testing.T) {
	cfg := DefaultConfig()
	n := Normalize(cfg, RawMetrics{
		LatencyMs:         ptr64(100),
		Faithfulness:      ptrF(0.9),
		Coverage:          ptrF(0.8),
		Confidence:        ptrF(0.7),
		HallucinationFlag: ptrB(false),
	})
	if n.RunQualityScore == nil || *n.RunQualityScore < 0 || *n.RunQualityScore > 1 {
		t.Fatalf("run_quality_score out of range: %+v", n.RunQualityScore)
	}
}

func TestResolveShallowMerge(t *testing.T) {
	base := DefaultConfig()
	override := Config{LatencyP99TargetMs: 9000}
	merged := Resolve(base, override)
	if merged.LatencyP99TargetMs != 9000 {
		t.Fatalf("expected override target, got %v", merged.LatencyP99TargetMs)
	}
	if merged.QualityWeights.Faithfulness != base.QualityWeights.Faithfulness {
		t.Fatalf("expected unset weight to fall back to base")
	}
}

func TestShrinkageApproachesOneWithLargeN(t *testing.T) {
	if a := Shrinkage(1000000, 50); a < 0.99 {
		t.Fatalf("expected alpha near 1 for large n, got %v", a)
	}
	if a := Shrinkage(0, 50); a != 0 {
		t.Fatalf("expected alpha=0 for n=0, got %v", a)
	}
}
