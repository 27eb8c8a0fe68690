package jobs

import (
	"math"
	"testing"

	"evalpipe/internal/domain"
)

func TestParseHorizonMs(t *testing.T) {
	cases := []struct {
		horizon string
		want    int64
		wantErr bool
	}{
		{"1d", dayMs, false},
		{"2w", 2 * weekMs, false},
		{"3m", 3 * monthMs, false},
		{"1y", yearMs, false},
		{"", 0, true},
		{"5x", 0, true},
		{"d5", 0, true},
	}
	for _, c := range cases {
		got, err := parseHorizonMs(c.horizon)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseHorizonMs(%q) expected error, got %d", c.horizon, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHorizonMs(%q) unexpected error: %v", c.horizon, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseHorizonMs(%q) = %d, want %d", c.horizon, got, c.want)
		}
	}
}

func TestRawInstrumentScoresScalar(t *testing.T) {
	half := 0.5
	sig := domain.Signal{
		SignalValue:        domain.SignalValue{Kind: domain.SignalValueScalar, Scalar: floatPtr(2)},
		InstrumentUniverse: []domain.InstrumentWeight{{ID: "AAPL", Weight: &half}, {ID: "MSFT"}},
	}
	scores := rawInstrumentScores(sig)
	if scores["AAPL"] != 1 {
		t.Errorf("AAPL score = %v, want 1 (2 * 0.5)", scores["AAPL"])
	}
	if scores["MSFT"] != 2 {
		t.Errorf("MSFT score = %v, want 2 (2 * default weight 1)", scores["MSFT"])
	}
}

func TestRawInstrumentScoresVectorMissingInstrumentSkipped(t *testing.T) {
	sig := domain.Signal{
		SignalValue:        domain.SignalValue{Kind: domain.SignalValueVector, Vector: map[string]float64{"AAPL": 3}},
		InstrumentUniverse: []domain.InstrumentWeight{{ID: "AAPL"}, {ID: "MSFT"}},
	}
	scores := rawInstrumentScores(sig)
	if len(scores) != 1 || scores["AAPL"] != 3 {
		t.Errorf("rawInstrumentScores() = %v, want only AAPL=3", scores)
	}
}

func TestRawInstrumentScoresTextYieldsEmpty(t *testing.T) {
	sig := domain.Signal{SignalValue: domain.SignalValue{Kind: domain.SignalValueText}}
	if scores := rawInstrumentScores(sig); len(scores) != 0 {
		t.Errorf("text signal value should yield no scores, got %v", scores)
	}
}

func TestSummarizeEmptyResults(t *testing.T) {
	got := summarize(nil)
	if got["signal_count"] != 0 {
		t.Fatalf("summarize(nil) = %v, want signal_count=0", got)
	}
	if len(got) != 1 {
		t.Fatalf("summarize(nil) should only report signal_count, got %v", got)
	}
}

func TestSummarizeHitRate(t *testing.T) {
	results := []signalResult{
		{netReturn: 0.01, excessReturn: 0.02, ic: 0.1},
		{netReturn: -0.01, excessReturn: -0.02, ic: -0.1},
	}
	got := summarize(results)
	if got["signal_count"] != 2 {
		t.Fatalf("signal_count = %v, want 2", got["signal_count"])
	}
	if hr, ok := got["hit_rate"].(float64); !ok || math.Abs(hr-0.5) > 1e-9 {
		t.Fatalf("hit_rate = %v, want 0.5", got["hit_rate"])
	}
}
