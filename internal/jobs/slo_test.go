package jobs

import (
	"testing"

	"evalpipe/internal/config"
	"evalpipe/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestBreachesForEachThresholdKind(t *testing.T) {
	thresholds := config.Config{
		SLOMaxLatencyP95Ms:    1000,
		SLOMinFaithfulnessP05: 0.5,
		SLOMinQualityP05:      0.4,
		SLOMaxAnomalyRate:     0.1,
	}

	row := domain.MetricRollupHourly{
		LatencyP95:      floatPtr(2000),
		FaithfulnessP05: floatPtr(0.2),
		QualityP05:      floatPtr(0.1),
		Count:           100,
		AnomalyCount:    20,
	}
	got := breachesFor(row, thresholds)
	want := map[string]bool{
		"max_latency_p95_ms":  true,
		"min_faithfulness_p05": true,
		"min_quality_p05":      true,
		"max_anomaly_rate":     true,
	}
	if len(got) != len(want) {
		t.Fatalf("breachesFor() = %v, want all four kinds", got)
	}
	for _, kind := range got {
		if !want[kind] {
			t.Errorf("unexpected breach kind %q", kind)
		}
	}
}

func TestBreachesForNoBreach(t *testing.T) {
	thresholds := config.Config{
		SLOMaxLatencyP95Ms:    10000,
		SLOMinFaithfulnessP05: 0.5,
		SLOMinQualityP05:      0.4,
		SLOMaxAnomalyRate:     0.5,
	}
	row := domain.MetricRollupHourly{
		LatencyP95:      floatPtr(500),
		FaithfulnessP05: floatPtr(0.9),
		QualityP05:      floatPtr(0.8),
		Count:           100,
		AnomalyCount:    1,
	}
	if got := breachesFor(row, thresholds); len(got) != 0 {
		t.Fatalf("breachesFor() = %v, want none", got)
	}
}

func TestBreachesForZeroCountSkipsAnomalyRate(t *testing.T) {
	thresholds := config.Config{SLOMaxAnomalyRate: 0}
	row := domain.MetricRollupHourly{Count: 0, AnomalyCount: 0}
	if got := breachesFor(row, thresholds); len(got) != 0 {
		t.Fatalf("breachesFor() = %v, want none for a zero-count row", got)
	}
}
