// Package rollup derives hour-bucketed group statistics from the
// evaluation store and upserts them into MetricRollupHourly (C6).
// Quantiles use continuous percentile interpolation via internal/stats.
package rollup

import (
	"context"
	"fmt"
	"time"

	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/stats"
)

type Builder struct {
	Runs    *postgres.RunRepo
	Rollups *postgres.RollupRepo
}

func NewBuilder(runs *postgres.RunRepo, rollups *postgres.RollupRepo) *Builder {
	return &Builder{Runs: runs, Rollups: rollups}
}

type groupHourKey struct {
	workflowID, agentID, agentVersion string
	hourBucket                        time.Time
}

// Build groups every evaluation record scored within the lookback
// window by (workflow, agent, version, hour_bucket) and upserts one
// rollup row per group.
func (b *Builder) Build(ctx context.Context, tenantID string, lookbackHours int) (int, error) {
	records, err := b.Runs.InLookback(ctx, tenantID, lookbackHours)
	if err != nil {
		return 0, fmt.Errorf("load lookback window: %w", err)
	}

	buckets := map[groupHourKey][]domain.EvaluationRecord{}
	for _, rec := range records {
		key := groupHourKey{
			workflowID:   rec.WorkflowID,
			agentID:      rec.AgentID,
			agentVersion: rec.AgentVersion,
			hourBucket:   rec.ScoringTimestamp.Truncate(time.Hour),
		}
		buckets[key] = append(buckets[key], rec)
	}

	for key, recs := range buckets {
		ru := aggregate(tenantID, key, recs)
		if err := b.Rollups.Upsert(ctx, ru); err != nil {
			return 0, fmt.Errorf("upsert rollup for %s/%s/%s@%s: %w", key.workflowID, key.agentID, key.agentVersion, key.hourBucket, err)
		}
	}
	return len(buckets), nil
}

func aggregate(tenantID string, key groupHourKey, recs []domain.EvaluationRecord) domain.MetricRollupHourly {
	var latencies, faithfulnesses, qualities []float64
	var anomalyCount int64
	for _, rec := range recs {
		if rec.LatencyMs != nil {
			latencies = append(latencies, float64(*rec.LatencyMs))
		}
		if rec.Faithfulness != nil {
			faithfulnesses = append(faithfulnesses, *rec.Faithfulness)
		}
		if rec.RunQualityScore != nil {
			qualities = append(qualities, *rec.RunQualityScore)
		}
		if rec.AnomalyFlag {
			anomalyCount++
		}
	}

	ru := domain.MetricRollupHourly{
		TenantID:     tenantID,
		WorkflowID:   key.workflowID,
		AgentID:      key.agentID,
		AgentVersion: key.agentVersion,
		HourBucket:   key.hourBucket,
		Count:        int64(len(recs)),
		AnomalyCount: anomalyCount,
	}

	if len(latencies) > 0 {
		ru.LatencyMean = ptr(stats.Mean(latencies))
		ru.LatencyStddev = ptr(stats.StdDev(latencies))
		ru.LatencyP95 = ptr(stats.Quantile(stats.SortedCopy(latencies), 0.95))
	}
	if len(faithfulnesses) > 0 {
		sorted := stats.SortedCopy(faithfulnesses)
		ru.FaithfulnessMean = ptr(stats.Mean(faithfulnesses))
		ru.FaithfulnessStddev = ptr(stats.StdDev(faithfulnesses))
		ru.FaithfulnessP05 = ptr(stats.Quantile(sorted, 0.05))
		ru.FaithfulnessP10 = ptr(stats.Quantile(sorted, 0.10))
		ru.FaithfulnessP50 = ptr(stats.Quantile(sorted, 0.50))
		ru.FaithfulnessP95 = ptr(stats.Quantile(sorted, 0.95))
	}
	if len(qualities) > 0 {
		sorted := stats.SortedCopy(qualities)
		ru.QualityMean = ptr(stats.Mean(qualities))
		ru.QualityStddev = ptr(stats.StdDev(qualities))
		ru.QualityP05 = ptr(stats.Quantile(sorted, 0.05))
		ru.QualityP10 = ptr(stats.Quantile(sorted, 0.10))
		ru.QualityP50 = ptr(stats.Quantile(sorted, 0.50))
		ru.QualityP95 = ptr(stats.Quantile(sorted, 0.95))
	}
	return ru
}

func ptr(v float64) *float64 { return &v }
