package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

// RetrievalContextRepo persists RetrievalContextAttached events. The
// worker currently materializes these rows for later inspection even
// though no downstream job reads them yet (reserved, per the event's
// own design note).
type RetrievalContextRepo struct {
	Pool *pgxpool.Pool
}

func NewRetrievalContextRepo(pool *pgxpool.Pool) *RetrievalContextRepo {
	return &RetrievalContextRepo{Pool: pool}
}

func (r *RetrievalContextRepo) Upsert(ctx context.Context, tx pgx.Tx, rc domain.RetrievalContext) error {
	payload, err := marshalJSONB(rc.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO retrieval_contexts (tenant_id, orchestration_run_id, agent_run_id, context_ref, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, orchestration_run_id, agent_run_id) DO UPDATE SET
	context_ref = EXCLUDED.context_ref,
	payload     = EXCLUDED.payload`,
		rc.TenantID, rc.OrchestrationRunID, rc.AgentRunID, rc.ContextRef, payload)
	if err != nil {
		return fmt.Errorf("upsert retrieval context: %w", err)
	}
	return nil
}
