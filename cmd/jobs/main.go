// Command jobs runs exactly one statistical analysis job to completion
// and exits, reading its tunables from the environment. There is no
// in-process scheduler: an external cron invokes this binary once per
// job per interval.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"evalpipe/internal/actions"
	"evalpipe/internal/audit"
	"evalpipe/internal/config"
	"evalpipe/internal/jobs"
	"evalpipe/internal/logging"
	"evalpipe/internal/metrics"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/rollup"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: jobs <anomalies|significance|auto-eval|slo|drift|backtest>")
		os.Exit(2)
	}
	name := os.Args[1]
	cfg := config.FromEnv()

	sugar, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer sugar.Sync()

	pool, err := postgres.NewPool(cfg.DatabaseURL, cfg.PGPoolMax, cfg.PGConnectTimeoutMs)
	if err != nil {
		sugar.Fatalw("failed to init pool", "error", err)
	}
	defer pool.Close()

	ctx := context.Background()
	runs := postgres.NewRunRepo(pool)
	rollups := postgres.NewRollupRepo(pool)
	auditor := audit.NewEmitter(postgres.NewAuditRepo(pool), sugar)
	actionSvc := actions.NewService(postgres.NewActionRepo(pool), auditor, sugar)

	var n int
	switch name {
	case "anomalies":
		job := jobs.NewAnomalyJob(runs, postgres.NewAnomalyRepo(pool), sugar)
		n, err = job.Run(ctx, cfg.TenantID, cfg.LookbackHours, cfg.MinHistory, cfg.PerGroupLimit)

	case "significance":
		job := jobs.NewSignificanceJob(runs, rollups, postgres.NewShiftRepo(pool), sugar)
		n, err = job.RunWindowComparison(ctx, cfg.TenantID, cfg.SignificanceMetric, cfg.WindowHours, cfg.Alpha)
		if err == nil {
			// Rollup-series EWMA/CUSUM change-point detection, written to
			// the same PerformanceShift table as the two-window comparator.
			var m int
			m, err = job.RunChangePoint(ctx, cfg.TenantID)
			n += m
		}

	case "slo":
		builder := rollup.NewBuilder(runs, rollups)
		job := jobs.NewSLOJob(builder, rollups, actionSvc, sugar)
		n, err = job.Run(ctx, cfg.TenantID, cfg.LookbackHours, cfg)

	case "auto-eval", "drift":
		job := jobs.NewDriftJob(runs, actionSvc, sugar)
		n, err = job.Run(ctx, cfg.TenantID, cfg.BaselineHours, cfg.CurrentHours)

	case "backtest":
		job := jobs.NewBacktestJob(postgres.NewSignalRepo(pool), postgres.NewSignalOutcomeRepo(pool), postgres.NewBacktestRepo(pool), sugar)
		end := time.Now().UTC()
		start := end.Add(-24 * time.Hour)
		var backtestID string
		backtestID, err = job.Run(ctx, cfg.TenantID, cfg.DatasetVersion, cfg.Horizon, start, end, cfg.CostBps, cfg.CodeVersion)
		if err == nil {
			sugar.Infow("backtest complete", "backtest_id", backtestID)
		}
		n = 1

	default:
		fmt.Fprintf(os.Stderr, "unknown job %q\n", name)
		os.Exit(2)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.JobRunsTotal.WithLabelValues(name, outcome).Inc()
	metrics.JobOutputsTotal.WithLabelValues(name).Add(float64(n))

	if err != nil {
		sugar.Fatalw("job failed", "job", name, "error", err)
	}
	sugar.Infow("job complete", "job", name, "rows", n)
}
