// Package normalize implements the per-workflow normalization and
// weighted-aggregation rules (C2) applied to a completed agent run's raw
// metrics before they are persisted as an EvaluationRecord.
package normalize

import "math"

// Config is a per-workflow normalization configuration. A workflow's
// config resolves by shallow-merging an override onto a base config via
// Resolve: any zero-value field in the override is left at the base.
type Config struct {
	LatencyP99TargetMs float64
	QualityWeights      QualityWeights
}

type QualityWeights struct {
	Faithfulness  float64
	Coverage      float64
	Confidence    float64
	Hallucination float64
	Latency       float64
}

// DefaultConfig mirrors spec defaults: target latency 5000ms, weights
// summing to 1.0.
func DefaultConfig() Config {
	return Config{
		LatencyP99TargetMs: 5000,
		QualityWeights: QualityWeights{
			Faithfulness:  0.35,
			Coverage:      0.2,
			Confidence:    0.15,
			Hallucination: 0.2,
			Latency:       0.1,
		},
	}
}

// Resolve shallow-merges override onto base: a zero-value field in
// override is left at base's value.
func Resolve(base, override Config) Config {
	out := base
	if override.LatencyP99TargetMs != 0 {
		out.LatencyP99TargetMs = override.LatencyP99TargetMs
	}
	w := override.QualityWeights
	if w.Faithfulness != 0 {
		out.QualityWeights.Faithfulness = w.Faithfulness
	}
	if w.Coverage != 0 {
		out.QualityWeights.Coverage = w.Coverage
	}
	if w.Confidence != 0 {
		out.QualityWeights.Confidence = w.Confidence
	}
	if w.Hallucination != 0 {
		out.QualityWeights.Hallucination = w.Hallucination
	}
	if w.Latency != 0 {
		out.QualityWeights.Latency = w.Latency
	}
	return out
}

// RawMetrics are the metrics carried on AgentRunCompletedEvent, before
// normalization. Pointers distinguish "absent" from a present zero value.
type RawMetrics struct {
	LatencyMs         *int64
	Faithfulness      *float64
	HallucinationFlag *bool
	Coverage          *float64
	Confidence        *float64
}

// Normalized holds the [0,1]-clamped per-metric normalized values and the
// derived composite scores. A nil field means the source metric was absent.
type Normalized struct {
	LatencyNorm       *float64
	FaithfulnessNorm  *float64
	CoverageNorm      *float64
	ConfidenceNorm    *float64
	HallucinationNorm *float64
	RunQualityScore   *float64
	RiskScore         *float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize applies the §4.2 normalization rules to a single agent run's
// raw metrics under cfg.
func Normalize(cfg Config, m RawMetrics) Normalized {
	var out Normalized

	if m.LatencyMs != nil {
		lat := float64(*m.LatencyMs)
		if lat < 0 {
			lat = 0
		}
		target := cfg.LatencyP99TargetMs
		if target < 1 {
			target = 1
		}
		v := clamp01(1 - math.Log1p(lat)/math.Log1p(target))
		out.LatencyNorm = &v
	}
	if m.Faithfulness != nil {
		v := clamp01(*m.Faithfulness)
		out.FaithfulnessNorm = &v
	}
	if m.Coverage != nil {
		v := clamp01(*m.Coverage)
		out.CoverageNorm = &v
	}
	if m.Confidence != nil {
		v := clamp01(*m.Confidence)
		out.ConfidenceNorm = &v
	}
	if m.HallucinationFlag != nil {
		v := 1.0
		if *m.HallucinationFlag {
			v = 0.0
		}
		out.HallucinationNorm = &v
	}

	out.RunQualityScore = weightedQuality(cfg.QualityWeights, out)
	out.RiskScore = riskScore(out)
	return out
}

// weightedQuality sums present normalized components weighted by cfg,
// re-normalizing the present-component weights to sum to 1. Returns nil
// when no component is present.
func weightedQuality(w QualityWeights, n Normalized) *float64 {
	type component struct {
		weight float64
		value  *float64
	}
	components := []component{
		{w.Faithfulness, n.FaithfulnessNorm},
		{w.Coverage, n.CoverageNorm},
		{w.Confidence, n.ConfidenceNorm},
		{w.Hallucination, n.HallucinationNorm},
		{w.Latency, n.LatencyNorm},
	}
	var weightSum, scoreSum float64
	var any bool
	for _, c := range components {
		if c.value == nil {
			continue
		}
		any = true
		weightSum += c.weight
		scoreSum += c.weight * (*c.value)
	}
	if !any || weightSum == 0 {
		return nil
	}
	v := clamp01(scoreSum / weightSum)
	return &v
}

// riskScore = clamp01(1 - (faithfulness_norm ?? 1) * (hallucination_norm ?? 1)).
func riskScore(n Normalized) *float64 {
	f := 1.0
	if n.FaithfulnessNorm != nil {
		f = *n.FaithfulnessNorm
	}
	h := 1.0
	if n.HallucinationNorm != nil {
		h = *n.HallucinationNorm
	}
	v := clamp01(1 - f*h)
	return &v
}

// Shrinkage returns alpha = n/(n+k), the weight given to an observed mean
// relative to a prior when blending an orchestration-level quality score.
func Shrinkage(n int, k float64) float64 {
	if k <= 0 {
		k = 50
	}
	nf := float64(n)
	if nf+k == 0 {
		return 0
	}
	return nf / (nf + k)
}

// ShrinkMean blends an observed mean with a prior using Shrinkage's alpha.
// prior defaults to 0.75 when priorOverride is nil.
func ShrinkMean(observedMean float64, n int, priorOverride *float64, k float64) float64 {
	prior := 0.75
	if priorOverride != nil {
		prior = *priorOverride
	}
	alpha := Shrinkage(n, k)
	return alpha*observedMean + (1-alpha)*prior
}
