package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type DeadLetterRepo struct {
	Pool *pgxpool.Pool
}

func NewDeadLetterRepo(pool *pgxpool.Pool) *DeadLetterRepo {
	return &DeadLetterRepo{Pool: pool}
}

// Insert records a payload that could not be validated or processed,
// along with the structured errors that explain why (C4 step 3, and the
// ingest service's database-failure path).
func (r *DeadLetterRepo) Insert(ctx context.Context, tx pgx.Tx, tenantID, reason string, errs []domain.ValidationError, payload []byte) (string, error) {
	id := uuid.NewString()
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("marshal dead letter errors: %w", err)
	}
	exec := `
INSERT INTO dead_letter_events (id, tenant_id, reason, errors, payload)
VALUES ($1, $2, $3, $4, $5)`
	if tx != nil {
		_, err = tx.Exec(ctx, exec, id, tenantID, reason, errsJSON, payload)
	} else {
		_, err = r.Pool.Exec(ctx, exec, id, tenantID, reason, errsJSON, payload)
	}
	if err != nil {
		return "", fmt.Errorf("insert dead letter: %w", err)
	}
	return id, nil
}

func (r *DeadLetterRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
SELECT id, tenant_id, reason, errors, payload, created_at
FROM dead_letter_events WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeadLetterEvent
	for rows.Next() {
		var e domain.DeadLetterEvent
		var errsJSON []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Reason, &errsJSON, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(errsJSON) > 0 {
			if err := json.Unmarshal(errsJSON, &e.Errors); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
