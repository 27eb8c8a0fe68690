package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/canon"
	"evalpipe/internal/domain"
)

type ActionRepo struct {
	Pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{Pool: pool}
}

// HasRecentOpenAction reports whether an open action of actionType with
// the same canonical target already exists within lookbackHours - the
// dedup check that keeps C9/C10 from reopening the same recommendation
// on every job run (C11).
func (r *ActionRepo) HasRecentOpenAction(ctx context.Context, tenantID, actionType string, target map[string]any, lookbackHours int) (bool, error) {
	wantKey, err := canon.TargetKey(target)
	if err != nil {
		return false, fmt.Errorf("canonicalize target: %w", err)
	}
	rows, err := r.Pool.Query(ctx, `
SELECT target FROM recommended_actions
WHERE tenant_id = $1 AND action_type = $2 AND status = $3 AND created_at >= now() - ($4 || ' hours')::interval`,
		tenantID, actionType, domain.ActionOpen, lookbackHours)
	if err != nil {
		return false, fmt.Errorf("query recent actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		existing, err := unmarshalJSONB(raw)
		if err != nil {
			return false, err
		}
		existingKey, err := canon.TargetKey(existing)
		if err != nil {
			return false, err
		}
		if existingKey == wantKey {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Create inserts a new open RecommendedAction. Callers are expected to
// have already checked HasRecentOpenAction within the same dedup
// window to avoid creating a duplicate recommendation.
func (r *ActionRepo) Create(ctx context.Context, a domain.RecommendedAction) (string, error) {
	if a.ActionID == "" {
		a.ActionID = uuid.NewString()
	}
	target, err := marshalJSONB(a.Target)
	if err != nil {
		return "", err
	}
	payload, err := marshalJSONB(a.Payload)
	if err != nil {
		return "", err
	}
	_, err = r.Pool.Exec(ctx, `
INSERT INTO recommended_actions (tenant_id, action_id, action_type, target, payload, decided_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.TenantID, a.ActionID, a.ActionType, target, payload, a.DecidedBy, domain.ActionOpen)
	if err != nil {
		return "", fmt.Errorf("create recommended action: %w", err)
	}
	return a.ActionID, nil
}

// ListByTenant lists recommended actions for a tenant, optionally
// filtered by status (empty string returns every status).
func (r *ActionRepo) ListByTenant(ctx context.Context, tenantID, status string, limit int) ([]domain.RecommendedAction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = r.Pool.Query(ctx, `
SELECT tenant_id, action_id, action_type, target, payload, decided_by, status, created_at
FROM recommended_actions WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	} else {
		rows, err = r.Pool.Query(ctx, `
SELECT tenant_id, action_id, action_type, target, payload, decided_by, status, created_at
FROM recommended_actions WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3`, tenantID, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecommendedAction
	for rows.Next() {
		var a domain.RecommendedAction
		var target, payload []byte
		if err := rows.Scan(&a.TenantID, &a.ActionID, &a.ActionType, &target, &payload, &a.DecidedBy, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Target, err = unmarshalJSONB(target); err != nil {
			return nil, err
		}
		if a.Payload, err = unmarshalJSONB(payload); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
