package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/stats"
)

const (
	ewmaLambda        = 0.3
	ewmaShiftThreshold = 0.15
	cusumK            = 0.02
	cusumH            = 0.2
	minRollupPoints   = 12
	baselinePoints    = 6
)

// SignificanceJob implements C8: window-comparison Welch tests with BH
// correction, plus a rollup-series change-point detector.
type SignificanceJob struct {
	Runs    *postgres.RunRepo
	Rollups *postgres.RollupRepo
	Shifts  *postgres.ShiftRepo
	Log     *zap.SugaredLogger
}

func NewSignificanceJob(runs *postgres.RunRepo, rollups *postgres.RollupRepo, shifts *postgres.ShiftRepo, log *zap.SugaredLogger) *SignificanceJob {
	return &SignificanceJob{Runs: runs, Rollups: rollups, Shifts: shifts, Log: log}
}

type windowCandidate struct {
	group postgres.Group
	a, b  []float64
}

// RunWindowComparison implements detector A. It returns the number of
// PerformanceShift rows written.
func (j *SignificanceJob) RunWindowComparison(ctx context.Context, tenantID, metric string, windowHours int, alpha float64) (int, error) {
	groups, err := j.Runs.ActiveGroups(ctx, tenantID, windowHours*2)
	if err != nil {
		return 0, fmt.Errorf("load active groups: %w", err)
	}

	now := time.Now().UTC()
	w := time.Duration(windowHours) * time.Hour
	aStart, aEnd := now.Add(-w), now
	bStart, bEnd := now.Add(-2*w), now.Add(-w)

	var candidates []windowCandidate
	for _, g := range groups {
		a, err := j.Runs.MetricValuesInWindow(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, metric, aStart, aEnd)
		if err != nil {
			j.Log.Errorw("load window A failed", "group", g, "error", err)
			continue
		}
		b, err := j.Runs.MetricValuesInWindow(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, metric, bStart, bEnd)
		if err != nil {
			j.Log.Errorw("load window B failed", "group", g, "error", err)
			continue
		}
		if len(a) < 2 || len(b) < 2 {
			continue
		}
		candidates = append(candidates, windowCandidate{group: g, a: a, b: b})
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	results := make([]stats.WelchResult, len(candidates))
	pValues := make([]float64, len(candidates))
	for i, c := range candidates {
		results[i] = stats.Welch(c.a, c.b)
		pValues[i] = results[i].PValue
	}
	bh := stats.BenjaminiHochberg(pValues, alpha)

	for i, c := range candidates {
		res := results[i]
		details := map[string]any{
			"mean_a": res.MeanA, "mean_b": res.MeanB,
			"n_a": res.NA, "n_b": res.NB, "df": res.DF, "t": res.T,
		}
		_, err := j.Shifts.Insert(ctx, domain.PerformanceShift{
			TenantID:         tenantID,
			WorkflowID:       c.group.WorkflowID,
			AgentID:          c.group.AgentID,
			AgentVersion:     c.group.AgentVersion,
			MetricName:       metric,
			WindowAStart:     aStart,
			WindowAEnd:       aEnd,
			WindowBStart:     bStart,
			WindowBEnd:       bEnd,
			Method:           "welch_normal_approx",
			PValue:           res.PValue,
			BHAdjustedPValue: bh[i].QValue,
			EffectSize:       res.EffectSize,
			Significant:      bh[i].Significant,
			Details:          details,
		})
		if err != nil {
			j.Log.Errorw("insert performance shift failed", "group", c.group, "error", err)
		}
	}
	return len(candidates), nil
}

// RunChangePoint implements detector B: EWMA and CUSUM against a
// baseline drawn from the earliest points of each group's hourly
// quality series.
func (j *SignificanceJob) RunChangePoint(ctx context.Context, tenantID string) (int, error) {
	groups, err := j.Runs.ActiveGroups(ctx, tenantID, 24)
	if err != nil {
		return 0, fmt.Errorf("load active groups: %w", err)
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	written := 0
	for _, g := range groups {
		series, err := j.Rollups.SeriesFor(ctx, tenantID, g.WorkflowID, g.AgentID, g.AgentVersion, since)
		if err != nil {
			j.Log.Errorw("load rollup series failed", "group", g, "error", err)
			continue
		}
		values, windowStart, windowEnd := qualitySeries(series)
		if len(values) < minRollupPoints {
			continue
		}

		n := baselinePoints
		if n > len(values) {
			n = len(values)
		}
		baseline := stats.Mean(values[:n])

		ewma := stats.EWMA(values, ewmaLambda)
		ewmaLast := ewma[len(ewma)-1]
		cusum := stats.CUSUM(values, baseline, cusumK, cusumH)

		if diff := ewmaLast - baseline; absFloat(diff) > ewmaShiftThreshold {
			if err := j.writeChangePointShift(ctx, tenantID, g, "ewma", windowStart, windowEnd, baseline, ewmaLast, diff); err != nil {
				j.Log.Errorw("insert ewma shift failed", "group", g, "error", err)
			} else {
				written++
			}
		}
		if cusum.Signal {
			last := len(values) - 1
			if err := j.writeChangePointShift(ctx, tenantID, g, "cusum", windowStart, windowEnd, baseline, values[last], cusum.Plus[last]-cusum.Minus[last]); err != nil {
				j.Log.Errorw("insert cusum shift failed", "group", g, "error", err)
			} else {
				written++
			}
		}
	}
	return written, nil
}

func (j *SignificanceJob) writeChangePointShift(ctx context.Context, tenantID string, g postgres.Group, method string, start, end time.Time, baseline, last, stat float64) error {
	_, err := j.Shifts.Insert(ctx, domain.PerformanceShift{
		TenantID:     tenantID,
		WorkflowID:   g.WorkflowID,
		AgentID:      g.AgentID,
		AgentVersion: g.AgentVersion,
		MetricName:   "quality",
		WindowAStart: start,
		WindowAEnd:   end,
		WindowBStart: start,
		WindowBEnd:   end,
		Method:       method,
		PValue:       0,
		BHAdjustedPValue: 0,
		EffectSize:   stat,
		Significant:  true,
		Details: map[string]any{
			"baseline": baseline,
			"last":     last,
		},
	})
	return err
}

func qualitySeries(series []domain.MetricRollupHourly) ([]float64, time.Time, time.Time) {
	var values []float64
	var start, end time.Time
	for i, ru := range series {
		if ru.QualityMean == nil {
			continue
		}
		if i == 0 {
			start = ru.HourBucket
		}
		end = ru.HourBucket
		values = append(values, *ru.QualityMean)
	}
	return values, start, end
}
