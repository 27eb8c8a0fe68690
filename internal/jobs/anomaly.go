package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/stats"
)

const (
	robustZThreshold      = 3.5
	classicZThreshold     = 3.0
	anomalyCandidateLimit = 20
)

// AnomalyJob implements C7: per-run quality anomaly detection against
// each group's own recent history.
type AnomalyJob struct {
	Runs     *postgres.RunRepo
	Anomalies *postgres.AnomalyRepo
	Log      *zap.SugaredLogger
}

func NewAnomalyJob(runs *postgres.RunRepo, anomalies *postgres.AnomalyRepo, log *zap.SugaredLogger) *AnomalyJob {
	return &AnomalyJob{Runs: runs, Anomalies: anomalies, Log: log}
}

// Run scans every active group and flags anomalies among its most
// recent candidates. Returns the number of anomalies created.
func (j *AnomalyJob) Run(ctx context.Context, tenantID string, lookbackHours, minHistory, perGroupLimit int) (int, error) {
	groups, err := j.Runs.ActiveGroups(ctx, tenantID, lookbackHours)
	if err != nil {
		return 0, fmt.Errorf("load active groups: %w", err)
	}

	created := 0
	for _, g := range groups {
		n, err := j.runGroup(ctx, tenantID, g, minHistory, perGroupLimit)
		if err != nil {
			j.Log.Errorw("anomaly job failed for group", "workflow_id", g.WorkflowID, "agent_id", g.AgentID, "agent_version", g.AgentVersion, "error", err)
			continue
		}
		created += n
	}
	return created, nil
}

func (j *AnomalyJob) runGroup(ctx context.Context, tenantID string, g postgres.Group, minHistory, perGroupLimit int) (int, error) {
	rows, err := j.Runs.RecentByGroup(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, perGroupLimit)
	if err != nil {
		return 0, err
	}
	if len(rows) < minHistory {
		return 0, nil
	}

	candidateCount := len(rows)
	if candidateCount > anomalyCandidateLimit {
		candidateCount = anomalyCandidateLimit
	}

	created := 0
	for i := 0; i < candidateCount; i++ {
		rec := rows[i]
		if rec.AnomalyFlag {
			continue
		}
		history := rows[i+1:]

		if rec.HallucinationFlag != nil && *rec.HallucinationFlag {
			if err := j.flag(ctx, tenantID, rec, "hallucination_flag", "rule", 1, 1, nil, map[string]any{"reason": "hallucination_flag=true"}); err != nil {
				return created, err
			}
			created++
			continue
		}

		if rec.LatencyMs != nil {
			history64 := floatHistory(history, func(r domain.EvaluationRecord) *float64 {
				if r.LatencyMs == nil {
					return nil
				}
				v := float64(*r.LatencyMs)
				return &v
			})
			z := stats.RobustZScore(float64(*rec.LatencyMs), history64)
			if absFloat(z) > robustZThreshold {
				if err := j.flag(ctx, tenantID, rec, "latency_ms", "mad", float64(*rec.LatencyMs), robustZThreshold, &z, map[string]any{"history_n": len(history64)}); err != nil {
					return created, err
				}
				created++
				continue
			}
		}

		if rec.Confidence != nil {
			history64 := floatHistory(history, func(r domain.EvaluationRecord) *float64 { return r.Confidence })
			if len(history64) >= minHistory {
				z := classicZScore(*rec.Confidence, history64)
				if absFloat(z) > classicZThreshold {
					if err := j.flag(ctx, tenantID, rec, "confidence", "zscore", *rec.Confidence, classicZThreshold, &z, map[string]any{"history_n": len(history64)}); err != nil {
						return created, err
					}
					created++
					continue
				}
			}
		}

		if rec.Faithfulness != nil {
			history64 := floatHistory(history, func(r domain.EvaluationRecord) *float64 { return r.Faithfulness })
			if len(history64) >= minHistory {
				z := classicZScore(*rec.Faithfulness, history64)
				if z < -classicZThreshold {
					if err := j.flag(ctx, tenantID, rec, "faithfulness", "zscore", *rec.Faithfulness, classicZThreshold, &z, map[string]any{"history_n": len(history64), "tail": "low"}); err != nil {
						return created, err
					}
					created++
				}
			}
		}
	}
	return created, nil
}

func (j *AnomalyJob) flag(ctx context.Context, tenantID string, rec domain.EvaluationRecord, metric, method string, value, threshold float64, z *float64, details map[string]any) error {
	_, err := j.Anomalies.Insert(ctx, domain.Anomaly{
		TenantID:     tenantID,
		EvaluationID: rec.EvaluationID,
		WorkflowID:   rec.WorkflowID,
		AgentID:      rec.AgentID,
		AgentVersion: rec.AgentVersion,
		MetricName:   metric,
		Method:       method,
		Value:        value,
		Threshold:    threshold,
		ZScore:       z,
		Details:      details,
	})
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return j.Runs.MarkAnomalyFlag(ctx, tenantID, rec.EvaluationID)
}

func floatHistory(recs []domain.EvaluationRecord, pick func(domain.EvaluationRecord) *float64) []float64 {
	var out []float64
	for _, r := range recs {
		if v := pick(r); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// classicZScore is (x - mean) / stddev over history, or 0 when the
// history has no spread.
func classicZScore(x float64, history []float64) float64 {
	sd := stats.StdDev(history)
	if sd == 0 {
		return 0
	}
	return (x - stats.Mean(history)) / sd
}
