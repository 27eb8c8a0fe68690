package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type AnomalyRepo struct {
	Pool *pgxpool.Pool
}

func NewAnomalyRepo(pool *pgxpool.Pool) *AnomalyRepo {
	return &AnomalyRepo{Pool: pool}
}

func (r *AnomalyRepo) Insert(ctx context.Context, a domain.Anomaly) (string, error) {
	if a.AnomalyID == "" {
		a.AnomalyID = uuid.NewString()
	}
	details, err := marshalJSONB(a.Details)
	if err != nil {
		return "", err
	}
	_, err = r.Pool.Exec(ctx, `
INSERT INTO anomalies (tenant_id, anomaly_id, evaluation_id, workflow_id, agent_id, agent_version, metric_name, method, value, threshold, z_score, details)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.TenantID, a.AnomalyID, a.EvaluationID, a.WorkflowID, a.AgentID, a.AgentVersion,
		a.MetricName, a.Method, a.Value, a.Threshold, a.ZScore, details)
	if err != nil {
		return "", fmt.Errorf("insert anomaly: %w", err)
	}
	return a.AnomalyID, nil
}

func (r *AnomalyRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, anomaly_id, evaluation_id, workflow_id, agent_id, agent_version, metric_name, method, value, threshold, z_score, details, created_at
FROM anomalies WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		var a domain.Anomaly
		var details []byte
		if err := rows.Scan(&a.TenantID, &a.AnomalyID, &a.EvaluationID, &a.WorkflowID, &a.AgentID, &a.AgentVersion,
			&a.MetricName, &a.Method, &a.Value, &a.Threshold, &a.ZScore, &details, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Details, err = unmarshalJSONB(details); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
