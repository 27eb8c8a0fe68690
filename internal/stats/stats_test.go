package stats

import (
	"math"
	"testing"
)

func TestQuantileBoundaries(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	if got := Quantile(s, 0); got != 1 {
		t.Fatalf("q=0: got %v want 1", got)
	}
	if got := Quantile(s, 1); got != 5 {
		t.Fatalf("q=1: got %v want 5", got)
	}
	if got := Quantile(s, 0.5); got != 3 {
		t.Fatalf("median: got %v want 3", got)
	}
}

func TestRobustZScoreZeroMAD(t *testing.T) {
	history := []float64{5, 5, 5, 5}
	if z := RobustZScore(100, history); z != 0 {
		t.Fatalf("zero MAD should yield z=0, got %v", z)
	}
}

func TestWelchEqualMeansZeroVariance(t *testing.T) {
	a := []float64{1, 1, 1}
	b := []float64{1, 1, 1}
	r := Welch(a, b)
	if r.T != 0 || r.PValue != 1 {
		t.Fatalf("expected t=0,p=1 got t=%v p=%v", r.T, r.PValue)
	}
}

func TestWelchDifferentMeansZeroVariance(t *testing.T) {
	a := []float64{2, 2, 2}
	b := []float64{1, 1, 1}
	r := Welch(a, b)
	if !math.IsInf(r.T, 1) || r.PValue != 0 {
		t.Fatalf("expected t=+Inf,p=0 got t=%v p=%v", r.T, r.PValue)
	}
}

func TestWelchSensitivity(t *testing.T) {
	a := make([]float64, 50)
	b := make([]float64, 50)
	for i := range a {
		a[i] = 1.0
		b[i] = 0.5
	}
	r := Welch(a, b)
	if r.PValue >= 1e-3 {
		t.Fatalf("expected p < 1e-3, got %v", r.PValue)
	}
	if math.Abs(r.EffectSize-0.5) > 1e-9 {
		t.Fatalf("expected effect size 0.5, got %v", r.EffectSize)
	}
}

func TestBenjaminiHochbergMonotonicity(t *testing.T) {
	p := []float64{0.001, 0.2, 0.03, 0.8, 0.04}
	res := BenjaminiHochberg(p, 0.05)
	type pair struct{ p, q float64 }
	pairs := make([]pair, len(p))
	for i, r := range res {
		pairs[i] = pair{r.PValue, r.QValue}
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].p > pairs[j].p; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].q < pairs[i-1].q {
			t.Fatalf("q-values not non-decreasing by ascending p at %d: %v", i, pairs)
		}
	}
}

func TestPSIIdenticalDistributions(t *testing.T) {
	base := make([]float64, 200)
	for i := range base {
		base[i] = float64(i)
	}
	psi := PSI(base, base, 10)
	if math.Abs(psi) > 1e-6 {
		t.Fatalf("expected PSI ~ 0, got %v", psi)
	}
}

func TestCUSUMSignals(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 1.0
	}
	for i := 10; i < 20; i++ {
		values[i] = 3.0
	}
	res := CUSUM(values, 1.0, 0.02, 0.2)
	if !res.Signal {
		t.Fatalf("expected CUSUM to signal on step change")
	}
}

func TestEWMAFirstEqualsInput(t *testing.T) {
	out := EWMA([]float64{5, 1, 1}, 0.3)
	if out[0] != 5 {
		t.Fatalf("e_0 should equal x_0, got %v", out[0])
	}
}

func TestSharpeDefaultAnnualization(t *testing.T) {
	values := []float64{0.01, 0.02, -0.01, 0.015}
	s1 := Sharpe(values, 0)
	s2 := Sharpe(values, 252)
	if s1 != s2 {
		t.Fatalf("expected default annualization 252, got %v vs %v", s1, s2)
	}
}

func TestDegenerateInputsNeverPanic(t *testing.T) {
	_ = Quantile(nil, 0.5)
	_ = MAD(nil)
	_ = Pearson([]float64{1}, []float64{1})
	_ = Wasserstein1D(nil, []float64{1})
	_ = TStatMean([]float64{1})
	_ = Sharpe(nil, 252)
}
