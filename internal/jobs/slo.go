package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"evalpipe/internal/actions"
	"evalpipe/internal/config"
	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/rollup"
)

const actionCooldownRunInvestigation = 6

// SLOJob implements C10: materializes rollups, then evaluates each
// group's latest hourly row against a single environment-configured
// baseline (config.SLO*) and proposes a run_investigation action per
// breach.
type SLOJob struct {
	Builder *rollup.Builder
	Rollups *postgres.RollupRepo
	Actions *actions.Service
	Log     *zap.SugaredLogger
}

func NewSLOJob(builder *rollup.Builder, rollups *postgres.RollupRepo, actionSvc *actions.Service, log *zap.SugaredLogger) *SLOJob {
	return &SLOJob{Builder: builder, Rollups: rollups, Actions: actionSvc, Log: log}
}

// Run materializes the latest rollups and flags every threshold breach
// found in each group's most recent hourly row. Returns the number of
// run_investigation actions created.
func (j *SLOJob) Run(ctx context.Context, tenantID string, lookbackHours int, thresholds config.Config) (int, error) {
	if _, err := j.Builder.Build(ctx, tenantID, lookbackHours); err != nil {
		return 0, fmt.Errorf("build rollups: %w", err)
	}

	rows, err := j.Rollups.Latest(ctx, tenantID, lookbackHours)
	if err != nil {
		return 0, fmt.Errorf("load latest rollups: %w", err)
	}

	proposed := 0
	for _, row := range rows {
		for _, kind := range breachesFor(row, thresholds) {
			target := map[string]any{
				"workflow_id":    row.WorkflowID,
				"agent_id":       row.AgentID,
				"agent_version":  row.AgentVersion,
				"hour_bucket":    row.HourBucket,
				"violation_kind": kind,
			}
			payload := map[string]any{
				"count": row.Count,
			}
			created, err := j.Actions.Propose(ctx, tenantID, "run_investigation", target, payload, "slo_job", actionCooldownRunInvestigation)
			if err != nil {
				j.Log.Errorw("propose run_investigation failed", "workflow_id", row.WorkflowID, "agent_id", row.AgentID, "agent_version", row.AgentVersion, "violation_kind", kind, "error", err)
				continue
			}
			if created {
				proposed++
			}
		}
	}
	return proposed, nil
}

func breachesFor(row domain.MetricRollupHourly, thresholds config.Config) []string {
	var kinds []string
	if row.LatencyP95 != nil && *row.LatencyP95 > thresholds.SLOMaxLatencyP95Ms {
		kinds = append(kinds, "max_latency_p95_ms")
	}
	if row.FaithfulnessP05 != nil && *row.FaithfulnessP05 < thresholds.SLOMinFaithfulnessP05 {
		kinds = append(kinds, "min_faithfulness_p05")
	}
	if row.QualityP05 != nil && *row.QualityP05 < thresholds.SLOMinQualityP05 {
		kinds = append(kinds, "min_quality_p05")
	}
	if row.Count > 0 {
		rate := float64(row.AnomalyCount) / float64(row.Count)
		if rate > thresholds.SLOMaxAnomalyRate {
			kinds = append(kinds, "max_anomaly_rate")
		}
	}
	return kinds
}
