package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evalpipe/internal/actions"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/stats"
)

const (
	psiBins            = 10
	psiModerate        = 0.2
	psiSevere          = 0.35
	minBaselineSamples = 20
	minCurrentSamples  = 10

	actionCooldownIncreaseSampling = 6
	actionCooldownHumanReview      = 12
	actionCooldownRouteFallback    = 12
)

type driftSeverity string

const (
	severityNone     driftSeverity = "none"
	severityModerate driftSeverity = "moderate"
	severitySevere   driftSeverity = "severe"
)

// DriftJob implements C9: distributional drift detection on
// faithfulness between a baseline and a current population, mapped to
// severity-graded recommended actions.
type DriftJob struct {
	Runs    *postgres.RunRepo
	Actions *actions.Service
	Log     *zap.SugaredLogger
}

func NewDriftJob(runs *postgres.RunRepo, actionSvc *actions.Service, log *zap.SugaredLogger) *DriftJob {
	return &DriftJob{Runs: runs, Actions: actionSvc, Log: log}
}

// Run scans every active group, computes PSI and Wasserstein distance
// between baseline and current faithfulness populations, and proposes
// mitigation actions for moderate/severe drift.
func (j *DriftJob) Run(ctx context.Context, tenantID string, baselineHours, currentHours int) (int, error) {
	groups, err := j.Runs.ActiveGroups(ctx, tenantID, baselineHours+currentHours)
	if err != nil {
		return 0, fmt.Errorf("load active groups: %w", err)
	}

	now := time.Now().UTC()
	curStart := now.Add(-time.Duration(currentHours) * time.Hour)
	baseStart := now.Add(-time.Duration(baselineHours+currentHours) * time.Hour)

	proposed := 0
	for _, g := range groups {
		baseVals, err := j.Runs.MetricValuesInWindow(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, "faithfulness", baseStart, curStart)
		if err != nil {
			j.Log.Errorw("load baseline window failed", "group", g, "error", err)
			continue
		}
		curVals, err := j.Runs.MetricValuesInWindow(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, "faithfulness", curStart, now)
		if err != nil {
			j.Log.Errorw("load current window failed", "group", g, "error", err)
			continue
		}
		if len(baseVals) < minBaselineSamples || len(curVals) < minCurrentSamples {
			continue
		}

		psi := stats.PSI(baseVals, curVals, psiBins)
		wasserstein := stats.Wasserstein1D(baseVals, curVals)
		severity := severityFor(psi)
		if severity == severityNone {
			continue
		}

		target := map[string]any{
			"workflow_id":   g.WorkflowID,
			"agent_id":      g.AgentID,
			"agent_version": g.AgentVersion,
			"metric":        "faithfulness",
		}
		payload := map[string]any{
			"psi":         psi,
			"wasserstein": wasserstein,
			"severity":    string(severity),
		}

		rate := 0.05
		if severity == severitySevere {
			rate = 0.2
		}
		samplingPayload := mergeMaps(payload, map[string]any{"sampling_rate_suggested": rate})
		created, err := j.Actions.Propose(ctx, tenantID, "increase_eval_sampling", target, samplingPayload, "drift_job", actionCooldownIncreaseSampling)
		if err != nil {
			j.Log.Errorw("propose increase_eval_sampling failed", "group", g, "error", err)
		} else if created {
			proposed++
		}

		if severity != severitySevere {
			continue
		}
		reviewPayload := mergeMaps(payload, map[string]any{"reason": "severe_metric_drift"})
		if created, err := j.Actions.Propose(ctx, tenantID, "require_human_review", target, reviewPayload, "drift_job", actionCooldownHumanReview); err != nil {
			j.Log.Errorw("propose require_human_review failed", "group", g, "error", err)
		} else if created {
			proposed++
		}
		if created, err := j.Actions.Propose(ctx, tenantID, "route_fallback", target, reviewPayload, "drift_job", actionCooldownRouteFallback); err != nil {
			j.Log.Errorw("propose route_fallback failed", "group", g, "error", err)
		} else if created {
			proposed++
		}
	}
	return proposed, nil
}

func severityFor(psi float64) driftSeverity {
	switch {
	case psi >= psiSevere:
		return severitySevere
	case psi >= psiModerate:
		return severityModerate
	default:
		return severityNone
	}
}

func mergeMaps(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
