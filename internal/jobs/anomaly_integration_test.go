//go:build integration
// +build integration

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
	"evalpipe/internal/logging"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/repo/postgres/testdb"
)

func seedEvaluationRecord(t *testing.T, ctx context.Context, pool *pgxpool.Pool, runs *postgres.RunRepo, tenantID, workflowID, agentID, agentVersion string, latencyMs int64) {
	t.Helper()
	rec := domain.EvaluationRecord{
		EvaluationID:         uuid.NewString(),
		TenantID:             tenantID,
		AgentRunID:           uuid.NewString(),
		WorkflowID:           workflowID,
		AgentID:              agentID,
		AgentVersion:         agentVersion,
		LatencyMs:            &latencyMs,
		EvaluatorVersion:     "v1",
		NormalizationVersion: "v1",
		WeightingVersion:     "v1",
		ScoringTimestamp:     time.Now().UTC(),
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback(ctx)
	if _, err := runs.InsertEvaluationRecord(ctx, tx, rec); err != nil {
		t.Fatalf("seed evaluation record: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed tx: %v", err)
	}
}

// TestAnomalyJobFlagsLatencyOutlier reproduces the scenario a
// significant tail latency spike should trigger: twenty latencies
// spread between 200 and 240 ms (a non-zero MAD) followed by one far
// outside their MAD-derived robust z-score band, flagged with method
// "mad".
func TestAnomalyJobFlagsLatencyOutlier(t *testing.T) {
	pool, cleanup := testdb.NewDatabase(t)
	defer cleanup()

	ctx := context.Background()
	runs := postgres.NewRunRepo(pool)
	anomalies := postgres.NewAnomalyRepo(pool)
	job := NewAnomalyJob(runs, anomalies, logging.Noop())

	tenantID := uuid.NewString()
	workflowID, agentID, agentVersion := "wf-1", "agent-1", "v1"

	for i := 0; i < 20; i++ {
		seedEvaluationRecord(t, ctx, pool, runs, tenantID, workflowID, agentID, agentVersion, int64(200+10*(i%5)))
	}
	seedEvaluationRecord(t, ctx, pool, runs, tenantID, workflowID, agentID, agentVersion, 50000)

	created, err := job.Run(ctx, tenantID, 24*365, 20, 500)
	if err != nil {
		t.Fatalf("run anomaly job: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	rows, err := anomalies.ListByTenant(ctx, tenantID, 10)
	if err != nil {
		t.Fatalf("list anomalies: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].MetricName != "latency_ms" || rows[0].Method != "mad" {
		t.Fatalf("unexpected anomaly: metric=%q method=%q", rows[0].MetricName, rows[0].Method)
	}
}
