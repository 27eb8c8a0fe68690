package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type AuditRepo struct {
	Pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{Pool: pool}
}

func (r *AuditRepo) Append(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	payload, err := marshalJSONB(e.Payload)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	_, err = r.Pool.Exec(ctx, `
INSERT INTO audit_entries (id, tenant_id, event_type, actor_type, actor_id_hash, target_type, target_id, result, error_code, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.TenantID, e.EventType, e.ActorType, e.ActorIDHash, e.TargetType, e.TargetID, e.Result, e.ErrorCode, payload)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return e, nil
}

func (r *AuditRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
SELECT id, tenant_id, event_type, actor_type, actor_id_hash, target_type, target_id, result, error_code, payload, created_at
FROM audit_entries WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.ActorType, &e.ActorIDHash, &e.TargetType, &e.TargetID, &e.Result, &e.ErrorCode, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Payload, err = unmarshalJSONB(payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
