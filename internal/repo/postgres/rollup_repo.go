package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type RollupRepo struct {
	Pool *pgxpool.Pool
}

func NewRollupRepo(pool *pgxpool.Pool) *RollupRepo {
	return &RollupRepo{Pool: pool}
}

// Upsert writes one hour-bucket's worth of group statistics, replacing
// whatever was there on a prior pass over the same bucket (C6).
func (r *RollupRepo) Upsert(ctx context.Context, ru domain.MetricRollupHourly) error {
	_, err := r.Pool.Exec(ctx, `
INSERT INTO metric_rollups_hourly (
	tenant_id, workflow_id, agent_id, agent_version, hour_bucket, count,
	latency_mean, latency_stddev, latency_p95,
	faithfulness_mean, faithfulness_stddev, faithfulness_p05, faithfulness_p10, faithfulness_p50, faithfulness_p95,
	quality_mean, quality_stddev, quality_p05, quality_p10, quality_p50, quality_p95,
	anomaly_count
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (tenant_id, workflow_id, agent_id, agent_version, hour_bucket) DO UPDATE SET
	count               = EXCLUDED.count,
	latency_mean        = EXCLUDED.latency_mean,
	latency_stddev      = EXCLUDED.latency_stddev,
	latency_p95         = EXCLUDED.latency_p95,
	faithfulness_mean   = EXCLUDED.faithfulness_mean,
	faithfulness_stddev = EXCLUDED.faithfulness_stddev,
	faithfulness_p05    = EXCLUDED.faithfulness_p05,
	faithfulness_p10    = EXCLUDED.faithfulness_p10,
	faithfulness_p50    = EXCLUDED.faithfulness_p50,
	faithfulness_p95    = EXCLUDED.faithfulness_p95,
	quality_mean        = EXCLUDED.quality_mean,
	quality_stddev      = EXCLUDED.quality_stddev,
	quality_p05         = EXCLUDED.quality_p05,
	quality_p10         = EXCLUDED.quality_p10,
	quality_p50         = EXCLUDED.quality_p50,
	quality_p95         = EXCLUDED.quality_p95,
	anomaly_count       = EXCLUDED.anomaly_count,
	updated_at          = now()`,
		ru.TenantID, ru.WorkflowID, ru.AgentID, ru.AgentVersion, ru.HourBucket, ru.Count,
		ru.LatencyMean, ru.LatencyStddev, ru.LatencyP95,
		ru.FaithfulnessMean, ru.FaithfulnessStddev, ru.FaithfulnessP05, ru.FaithfulnessP10, ru.FaithfulnessP50, ru.FaithfulnessP95,
		ru.QualityMean, ru.QualityStddev, ru.QualityP05, ru.QualityP10, ru.QualityP50, ru.QualityP95,
		ru.AnomalyCount)
	if err != nil {
		return fmt.Errorf("upsert rollup: %w", err)
	}
	return nil
}

// SeriesFor fetches a group's hourly mean_quality series in chronological
// order, the input C8's rollup-series change-point detector runs on.
func (r *RollupRepo) SeriesFor(ctx context.Context, tenantID, workflowID, agentID, agentVersion string, since time.Time) ([]domain.MetricRollupHourly, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, workflow_id, agent_id, agent_version, hour_bucket, count,
       latency_mean, latency_stddev, latency_p95,
       faithfulness_mean, faithfulness_stddev, faithfulness_p05, faithfulness_p10, faithfulness_p50, faithfulness_p95,
       quality_mean, quality_stddev, quality_p05, quality_p10, quality_p50, quality_p95,
       anomaly_count, updated_at
FROM metric_rollups_hourly
WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3 AND agent_version = $4 AND hour_bucket >= $5
ORDER BY hour_bucket`, tenantID, workflowID, agentID, agentVersion, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MetricRollupHourly
	for rows.Next() {
		var ru domain.MetricRollupHourly
		if err := rows.Scan(&ru.TenantID, &ru.WorkflowID, &ru.AgentID, &ru.AgentVersion, &ru.HourBucket, &ru.Count,
			&ru.LatencyMean, &ru.LatencyStddev, &ru.LatencyP95,
			&ru.FaithfulnessMean, &ru.FaithfulnessStddev, &ru.FaithfulnessP05, &ru.FaithfulnessP10, &ru.FaithfulnessP50, &ru.FaithfulnessP95,
			&ru.QualityMean, &ru.QualityStddev, &ru.QualityP05, &ru.QualityP10, &ru.QualityP50, &ru.QualityP95,
			&ru.AnomalyCount, &ru.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ru)
	}
	return out, rows.Err()
}

// WorkflowSummary is the per-workflow aggregate the GET /metrics/workflows
// endpoint serves, averaging the most recent hourly row of every agent
// belonging to the workflow.
type WorkflowSummary struct {
	WorkflowID        string  `json:"workflow_id"`
	AgentCount        int64   `json:"agent_count"`
	TotalRuns         int64   `json:"total_runs"`
	LatencyMeanMs     float64 `json:"latency_mean_ms"`
	FaithfulnessMean  float64 `json:"faithfulness_mean"`
	QualityMean       float64 `json:"quality_mean"`
	TotalAnomalyCount int64   `json:"anomaly_count"`
}

// LatestByWorkflow aggregates each workflow's agents' most recent
// hourly rollup into one summary row per workflow.
func (r *RollupRepo) LatestByWorkflow(ctx context.Context, tenantID string, lookbackHours int) ([]WorkflowSummary, error) {
	rows, err := r.Pool.Query(ctx, `
WITH latest AS (
	SELECT DISTINCT ON (workflow_id, agent_id, agent_version)
	       workflow_id, count, latency_mean, faithfulness_mean, quality_mean, anomaly_count
	FROM metric_rollups_hourly
	WHERE tenant_id = $1 AND hour_bucket >= now() - ($2 || ' hours')::interval
	ORDER BY workflow_id, agent_id, agent_version, hour_bucket DESC
)
SELECT workflow_id,
       count(*) AS agent_count,
       coalesce(sum(count), 0) AS total_runs,
       coalesce(avg(latency_mean), 0) AS latency_mean_ms,
       coalesce(avg(faithfulness_mean), 0) AS faithfulness_mean,
       coalesce(avg(quality_mean), 0) AS quality_mean,
       coalesce(sum(anomaly_count), 0) AS total_anomaly_count
FROM latest
GROUP BY workflow_id
ORDER BY workflow_id`, tenantID, lookbackHours)
	if err != nil {
		return nil, fmt.Errorf("query workflow summaries: %w", err)
	}
	defer rows.Close()

	var out []WorkflowSummary
	for rows.Next() {
		var s WorkflowSummary
		if err := rows.Scan(&s.WorkflowID, &s.AgentCount, &s.TotalRuns, &s.LatencyMeanMs, &s.FaithfulnessMean, &s.QualityMean, &s.TotalAnomalyCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Latest returns every group's most recent hour bucket within the
// lookback window, the row set C10's SLO job evaluates.
func (r *RollupRepo) Latest(ctx context.Context, tenantID string, lookbackHours int) ([]domain.MetricRollupHourly, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT DISTINCT ON (workflow_id, agent_id, agent_version)
       tenant_id, workflow_id, agent_id, agent_version, hour_bucket, count,
       latency_mean, latency_stddev, latency_p95,
       faithfulness_mean, faithfulness_stddev, faithfulness_p05, faithfulness_p10, faithfulness_p50, faithfulness_p95,
       quality_mean, quality_stddev, quality_p05, quality_p10, quality_p50, quality_p95,
       anomaly_count, updated_at
FROM metric_rollups_hourly
WHERE tenant_id = $1 AND hour_bucket >= now() - ($2 || ' hours')::interval
ORDER BY workflow_id, agent_id, agent_version, hour_bucket DESC`, tenantID, lookbackHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MetricRollupHourly
	for rows.Next() {
		var ru domain.MetricRollupHourly
		if err := rows.Scan(&ru.TenantID, &ru.WorkflowID, &ru.AgentID, &ru.AgentVersion, &ru.HourBucket, &ru.Count,
			&ru.LatencyMean, &ru.LatencyStddev, &ru.LatencyP95,
			&ru.FaithfulnessMean, &ru.FaithfulnessStddev, &ru.FaithfulnessP05, &ru.FaithfulnessP10, &ru.FaithfulnessP50, &ru.FaithfulnessP95,
			&ru.QualityMean, &ru.QualityStddev, &ru.QualityP05, &ru.QualityP10, &ru.QualityP50, &ru.QualityP95,
			&ru.AnomalyCount, &ru.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ru)
	}
	return out, rows.Err()
}
