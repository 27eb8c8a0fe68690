package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type ShiftRepo struct {
	Pool *pgxpool.Pool
}

func NewShiftRepo(pool *pgxpool.Pool) *ShiftRepo {
	return &ShiftRepo{Pool: pool}
}

func (r *ShiftRepo) Insert(ctx context.Context, s domain.PerformanceShift) (string, error) {
	if s.ShiftID == "" {
		s.ShiftID = uuid.NewString()
	}
	details, err := marshalJSONB(s.Details)
	if err != nil {
		return "", err
	}
	_, err = r.Pool.Exec(ctx, `
INSERT INTO performance_shifts (
	tenant_id, shift_id, workflow_id, agent_id, agent_version, metric_name,
	window_a_start, window_a_end, window_b_start, window_b_end,
	method, p_value, bh_adjusted_p_value, effect_size, significant, details
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.TenantID, s.ShiftID, s.WorkflowID, s.AgentID, s.AgentVersion, s.MetricName,
		s.WindowAStart, s.WindowAEnd, s.WindowBStart, s.WindowBEnd,
		s.Method, s.PValue, s.BHAdjustedPValue, s.EffectSize, s.Significant, details)
	if err != nil {
		return "", fmt.Errorf("insert performance shift: %w", err)
	}
	return s.ShiftID, nil
}

func (r *ShiftRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.PerformanceShift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, shift_id, workflow_id, agent_id, agent_version, metric_name,
       window_a_start, window_a_end, window_b_start, window_b_end,
       method, p_value, bh_adjusted_p_value, effect_size, significant, details, created_at
FROM performance_shifts WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PerformanceShift
	for rows.Next() {
		var s domain.PerformanceShift
		var details []byte
		if err := rows.Scan(&s.TenantID, &s.ShiftID, &s.WorkflowID, &s.AgentID, &s.AgentVersion, &s.MetricName,
			&s.WindowAStart, &s.WindowAEnd, &s.WindowBStart, &s.WindowBEnd,
			&s.Method, &s.PValue, &s.BHAdjustedPValue, &s.EffectSize, &s.Significant, &details, &s.CreatedAt); err != nil {
			return nil, err
		}
		if s.Details, err = unmarshalJSONB(details); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
