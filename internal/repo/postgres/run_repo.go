package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type RunRepo struct {
	Pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{Pool: pool}
}

// UpsertStarted materializes OrchestrationRunStarted: identity fields
// keep the existing row's non-null value and take the new value only
// where the existing one is NULL (COALESCE(existing, new)), and
// started_at takes the earlier of the two timestamps so a late-arriving
// Started event can never move the clock forward.
func (r *RunRepo) UpsertStarted(ctx context.Context, tx pgx.Tx, run domain.OrchestrationRun) error {
	query := `
INSERT INTO orchestration_runs (tenant_id, run_id, workflow_id, query_id, query, request_timestamp, status, started_at, orchestrator_meta, client_meta, user_meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tenant_id, run_id) DO UPDATE SET
	workflow_id         = COALESCE(orchestration_runs.workflow_id, EXCLUDED.workflow_id),
	query_id            = COALESCE(orchestration_runs.query_id, EXCLUDED.query_id),
	query               = COALESCE(orchestration_runs.query, EXCLUDED.query),
	request_timestamp   = COALESCE(orchestration_runs.request_timestamp, EXCLUDED.request_timestamp),
	started_at          = LEAST(orchestration_runs.started_at, EXCLUDED.started_at),
	orchestrator_meta   = COALESCE(orchestration_runs.orchestrator_meta, EXCLUDED.orchestrator_meta),
	client_meta         = COALESCE(orchestration_runs.client_meta, EXCLUDED.client_meta),
	user_meta           = COALESCE(orchestration_runs.user_meta, EXCLUDED.user_meta),
	updated_at          = now()`

	orchMeta, err := marshalJSONB(run.OrchestratorMeta)
	if err != nil {
		return err
	}
	clientMeta, err := marshalJSONB(run.ClientMeta)
	if err != nil {
		return err
	}
	userMeta, err := marshalJSONB(run.UserMeta)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, query, run.TenantID, run.RunID, run.WorkflowID, run.QueryID, run.Query,
		run.RequestTimestamp, domain.RunStatusRunning, run.StartedAt, orchMeta, clientMeta, userMeta)
	if err != nil {
		return fmt.Errorf("upsert started run: %w", err)
	}
	return nil
}

// EnsurePlaceholder creates a minimal OrchestrationRun row if one does
// not already exist, so an AgentRun event arriving before its parent's
// Started event still has somewhere to attach.
func (r *RunRepo) EnsurePlaceholder(ctx context.Context, tx pgx.Tx, tenantID, runID, workflowID string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO orchestration_runs (tenant_id, run_id, workflow_id, status, started_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (tenant_id, run_id) DO NOTHING`, tenantID, runID, workflowID, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("ensure orchestration run placeholder: %w", err)
	}
	return nil
}

// UpsertCompleted materializes OrchestrationRunCompleted: completion
// time only ever moves forward (COALESCE keeps the first write on
// replay), status becomes terminal.
func (r *RunRepo) UpsertCompleted(ctx context.Context, tx pgx.Tx, tenantID, runID string, completed domain.OrchestrationRun) error {
	_, err := tx.Exec(ctx, `
INSERT INTO orchestration_runs (tenant_id, run_id, workflow_id, status, started_at, completed_at, total_latency_ms, error_code, error_message)
VALUES ($1, $2, '', $3, now(), $4, $5, $6, $7)
ON CONFLICT (tenant_id, run_id) DO UPDATE SET
	status           = $3,
	completed_at     = COALESCE(orchestration_runs.completed_at, EXCLUDED.completed_at),
	total_latency_ms = COALESCE(orchestration_runs.total_latency_ms, EXCLUDED.total_latency_ms),
	error_code       = COALESCE(orchestration_runs.error_code, EXCLUDED.error_code),
	error_message    = COALESCE(orchestration_runs.error_message, EXCLUDED.error_message),
	updated_at       = now()`,
		tenantID, runID, completed.Status, completed.CompletedAt, completed.TotalLatencyMs, completed.ErrorCode, completed.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upsert completed run: %w", err)
	}
	return nil
}

func (r *RunRepo) GetOrchestrationRun(ctx context.Context, tx pgx.Tx, tenantID, runID string) (domain.OrchestrationRun, error) {
	query := `
SELECT tenant_id, run_id, workflow_id, query_id, query, request_timestamp, status, started_at, completed_at,
       total_latency_ms, error_code, error_message, orchestrator_meta, client_meta, user_meta, created_at, updated_at
FROM orchestration_runs WHERE tenant_id = $1 AND run_id = $2`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, tenantID, runID)
	} else {
		row = r.Pool.QueryRow(ctx, query, tenantID, runID)
	}
	var run domain.OrchestrationRun
	var orchMeta, clientMeta, userMeta []byte
	err := row.Scan(&run.TenantID, &run.RunID, &run.WorkflowID, &run.QueryID, &run.Query, &run.RequestTimestamp,
		&run.Status, &run.StartedAt, &run.CompletedAt, &run.TotalLatencyMs, &run.ErrorCode, &run.ErrorMessage,
		&orchMeta, &clientMeta, &userMeta, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return domain.OrchestrationRun{}, err
	}
	if run.OrchestratorMeta, err = unmarshalJSONB(orchMeta); err != nil {
		return domain.OrchestrationRun{}, err
	}
	if run.ClientMeta, err = unmarshalJSONB(clientMeta); err != nil {
		return domain.OrchestrationRun{}, err
	}
	if run.UserMeta, err = unmarshalJSONB(userMeta); err != nil {
		return domain.OrchestrationRun{}, err
	}
	return run, nil
}

// UpsertAgentRunStarted ensures the owning OrchestrationRun exists (as a
// placeholder when it hasn't materialized yet) and upserts the AgentRun
// start fields.
func (r *RunRepo) UpsertAgentRunStarted(ctx context.Context, tx pgx.Tx, workflowID string, run domain.AgentRun) error {
	if err := r.EnsurePlaceholder(ctx, tx, run.TenantID, run.OrchestrationRunID, workflowID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
INSERT INTO agent_runs (tenant_id, agent_run_id, orchestration_run_id, agent_id, agent_version, model, config_hash, parent_agent_run_id, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, agent_run_id) DO UPDATE SET
	agent_id            = COALESCE(NULLIF(agent_runs.agent_id, ''), EXCLUDED.agent_id),
	agent_version       = COALESCE(NULLIF(agent_runs.agent_version, ''), EXCLUDED.agent_version),
	model               = COALESCE(agent_runs.model, EXCLUDED.model),
	config_hash         = COALESCE(agent_runs.config_hash, EXCLUDED.config_hash),
	parent_agent_run_id = COALESCE(agent_runs.parent_agent_run_id, EXCLUDED.parent_agent_run_id),
	started_at          = LEAST(agent_runs.started_at, EXCLUDED.started_at),
	updated_at          = now()`,
		run.TenantID, run.AgentRunID, run.OrchestrationRunID, run.AgentID, run.AgentVersion,
		run.Model, run.ConfigHash, run.ParentAgentRunID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("upsert agent run started: %w", err)
	}
	return nil
}

// UpsertAgentRunCompleted ensures the owning OrchestrationRun exists and
// upserts completion fields onto the AgentRun.
func (r *RunRepo) UpsertAgentRunCompleted(ctx context.Context, tx pgx.Tx, workflowID string, run domain.AgentRun) error {
	if err := r.EnsurePlaceholder(ctx, tx, run.TenantID, run.OrchestrationRunID, workflowID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
INSERT INTO agent_runs (tenant_id, agent_run_id, orchestration_run_id, agent_id, agent_version, completed_at, latency_ms, output_summary, output_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, agent_run_id) DO UPDATE SET
	agent_id       = COALESCE(NULLIF(agent_runs.agent_id, ''), EXCLUDED.agent_id),
	agent_version  = COALESCE(NULLIF(agent_runs.agent_version, ''), EXCLUDED.agent_version),
	completed_at   = COALESCE(agent_runs.completed_at, EXCLUDED.completed_at),
	latency_ms     = COALESCE(agent_runs.latency_ms, EXCLUDED.latency_ms),
	output_summary = COALESCE(agent_runs.output_summary, EXCLUDED.output_summary),
	output_uri     = COALESCE(agent_runs.output_uri, EXCLUDED.output_uri),
	updated_at     = now()`,
		run.TenantID, run.AgentRunID, run.OrchestrationRunID, run.AgentID, run.AgentVersion,
		run.CompletedAt, run.LatencyMs, run.OutputSummary, run.OutputURI)
	if err != nil {
		return fmt.Errorf("upsert agent run completed: %w", err)
	}
	return nil
}

func (r *RunRepo) GetAgentRun(ctx context.Context, tx pgx.Tx, tenantID, agentRunID string) (domain.AgentRun, error) {
	query := `
SELECT tenant_id, agent_run_id, orchestration_run_id, agent_id, agent_version, model, config_hash, parent_agent_run_id,
       started_at, completed_at, latency_ms, output_summary, output_uri, created_at, updated_at
FROM agent_runs WHERE tenant_id = $1 AND agent_run_id = $2`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, tenantID, agentRunID)
	} else {
		row = r.Pool.QueryRow(ctx, query, tenantID, agentRunID)
	}
	var run domain.AgentRun
	err := row.Scan(&run.TenantID, &run.AgentRunID, &run.OrchestrationRunID, &run.AgentID, &run.AgentVersion,
		&run.Model, &run.ConfigHash, &run.ParentAgentRunID, &run.StartedAt, &run.CompletedAt, &run.LatencyMs,
		&run.OutputSummary, &run.OutputURI, &run.CreatedAt, &run.UpdatedAt)
	return run, err
}

// InsertEvaluationRecord writes the denormalized evaluation row computed
// by the normalize package, ignoring a duplicate materialization of the
// same AgentRunCompleted event on replay.
func (r *RunRepo) InsertEvaluationRecord(ctx context.Context, tx pgx.Tx, rec domain.EvaluationRecord) (inserted bool, err error) {
	tag, err := tx.Exec(ctx, `
INSERT INTO evaluation_records (
	tenant_id, evaluation_id, agent_run_id, workflow_id, agent_id, agent_version,
	latency_ms, faithfulness, hallucination_flag, coverage, confidence,
	latency_norm, faithfulness_norm, coverage_norm, confidence_norm, hallucination_norm,
	run_quality_score, risk_score, evaluator_version, normalization_version, weighting_version, scoring_timestamp
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (tenant_id, agent_run_id) DO NOTHING`,
		rec.TenantID, rec.EvaluationID, rec.AgentRunID, rec.WorkflowID, rec.AgentID, rec.AgentVersion,
		rec.LatencyMs, rec.Faithfulness, rec.HallucinationFlag, rec.Coverage, rec.Confidence,
		rec.LatencyNorm, rec.FaithfulnessNorm, rec.CoverageNorm, rec.ConfidenceNorm, rec.HallucinationNorm,
		rec.RunQualityScore, rec.RiskScore, rec.EvaluatorVersion, rec.NormalizationVersion, rec.WeightingVersion, rec.ScoringTimestamp)
	if err != nil {
		return false, fmt.Errorf("insert evaluation record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecentByGroup fetches the most recent N evaluation records for a
// (workflow, agent, version) group, newest first - the shape C7's
// anomaly job needs.
func (r *RunRepo) RecentByGroup(ctx context.Context, tenantID, workflowID, agentID, agentVersion string, limit int) ([]domain.EvaluationRecord, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, evaluation_id, agent_run_id, workflow_id, agent_id, agent_version,
       latency_ms, faithfulness, hallucination_flag, coverage, confidence,
       latency_norm, faithfulness_norm, coverage_norm, confidence_norm, hallucination_norm,
       run_quality_score, risk_score, evaluator_version, normalization_version, weighting_version,
       scoring_timestamp, anomaly_flag, created_at
FROM evaluation_records
WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3 AND agent_version = $4
ORDER BY scoring_timestamp DESC
LIMIT $5`, tenantID, workflowID, agentID, agentVersion, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvaluationRecords(rows)
}

// InLookback returns every evaluation record scored within the
// lookback window, across all groups - the population the rollup
// builder (C6) groups by (workflow, agent, version, hour_bucket).
func (r *RunRepo) InLookback(ctx context.Context, tenantID string, lookbackHours int) ([]domain.EvaluationRecord, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, evaluation_id, agent_run_id, workflow_id, agent_id, agent_version,
       latency_ms, faithfulness, hallucination_flag, coverage, confidence,
       latency_norm, faithfulness_norm, coverage_norm, confidence_norm, hallucination_norm,
       run_quality_score, risk_score, evaluator_version, normalization_version, weighting_version,
       scoring_timestamp, anomaly_flag, created_at
FROM evaluation_records
WHERE tenant_id = $1 AND scoring_timestamp >= now() - ($2 || ' hours')::interval
ORDER BY scoring_timestamp`, tenantID, lookbackHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvaluationRecords(rows)
}

type Group struct {
	WorkflowID   string
	AgentID      string
	AgentVersion string
}

// ActiveGroups returns the (workflow, agent, version) tuples with at
// least one evaluation record scored within the lookback window - the
// active-group universe C7-C9 iterate over.
func (r *RunRepo) ActiveGroups(ctx context.Context, tenantID string, lookbackHours int) ([]Group, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT DISTINCT workflow_id, agent_id, agent_version
FROM evaluation_records
WHERE tenant_id = $1 AND scoring_timestamp >= now() - ($2 || ' hours')::interval`, tenantID, lookbackHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.WorkflowID, &g.AgentID, &g.AgentVersion); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// metricColumns whitelists which evaluation_records column a caller may
// request via MetricValuesInWindow, so the column name can be
// interpolated into SQL without taking query text from the caller.
var metricColumns = map[string]string{
	"latency":      "latency_ms",
	"faithfulness": "faithfulness",
	"coverage":     "coverage",
	"confidence":   "confidence",
	"quality":      "run_quality_score",
	"risk":         "risk_score",
}

// MetricValuesInWindow fetches one metric's non-null values for a group
// scored within [start, end) - the per-window sample C8's Welch
// detector and C9's drift detector both consume.
func (r *RunRepo) MetricValuesInWindow(ctx context.Context, tenantID, workflowID, agentID, agentVersion, metric string, start, end time.Time) ([]float64, error) {
	column, ok := metricColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	query := fmt.Sprintf(`
SELECT %s::double precision FROM evaluation_records
WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3 AND agent_version = $4
  AND scoring_timestamp >= $5 AND scoring_timestamp < $6 AND %s IS NOT NULL`, column, column)
	rows, err := r.Pool.Query(ctx, query, tenantID, workflowID, agentID, agentVersion, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanEvaluationRecords(rows pgx.Rows) ([]domain.EvaluationRecord, error) {
	var out []domain.EvaluationRecord
	for rows.Next() {
		var rec domain.EvaluationRecord
		if err := rows.Scan(&rec.TenantID, &rec.EvaluationID, &rec.AgentRunID, &rec.WorkflowID, &rec.AgentID, &rec.AgentVersion,
			&rec.LatencyMs, &rec.Faithfulness, &rec.HallucinationFlag, &rec.Coverage, &rec.Confidence,
			&rec.LatencyNorm, &rec.FaithfulnessNorm, &rec.CoverageNorm, &rec.ConfidenceNorm, &rec.HallucinationNorm,
			&rec.RunQualityScore, &rec.RiskScore, &rec.EvaluatorVersion, &rec.NormalizationVersion, &rec.WeightingVersion,
			&rec.ScoringTimestamp, &rec.AnomalyFlag, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAnomalyFlag sets evaluation_records.anomaly_flag = true for one
// evaluation (C7 step: "mark the evaluation").
func (r *RunRepo) MarkAnomalyFlag(ctx context.Context, tenantID, evaluationID string) error {
	_, err := r.Pool.Exec(ctx, `UPDATE evaluation_records SET anomaly_flag = true WHERE tenant_id = $1 AND evaluation_id = $2`, tenantID, evaluationID)
	return err
}
