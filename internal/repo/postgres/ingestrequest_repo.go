package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type IngestRequestRepo struct {
	Pool *pgxpool.Pool
}

func NewIngestRequestRepo(pool *pgxpool.Pool) *IngestRequestRepo {
	return &IngestRequestRepo{Pool: pool}
}

// BeginProcessing inserts a new ledger row in the "processing" state,
// the first write of an idempotent request (C4 step 4). If a row
// already exists for (tenant, idempotency_key) it is returned instead
// of inserted, and the caller decides - by comparing RequestSHA256 and
// Status - whether this is a genuine replay or a conflicting reuse of
// the same key.
func (r *IngestRequestRepo) BeginProcessing(ctx context.Context, tx pgx.Tx, tenantID, idempotencyKey, requestSHA256 string) (domain.IngestRequest, bool, error) {
	insert := `
INSERT INTO ingest_requests (tenant_id, idempotency_key, request_sha256, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
RETURNING tenant_id, idempotency_key, request_sha256, status, COALESCE(response_status, 0), response_body, created_at, updated_at`

	row := tx.QueryRow(ctx, insert, tenantID, idempotencyKey, requestSHA256, domain.IngestRequestProcessing)
	rec, err := scanIngestRequest(row)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.IngestRequest{}, false, fmt.Errorf("begin processing: %w", err)
	}

	existing, err := r.Get(ctx, tx, tenantID, idempotencyKey)
	if err != nil {
		return domain.IngestRequest{}, false, err
	}
	return existing, false, nil
}

func (r *IngestRequestRepo) Get(ctx context.Context, tx pgx.Tx, tenantID, idempotencyKey string) (domain.IngestRequest, error) {
	query := `
SELECT tenant_id, idempotency_key, request_sha256, status, COALESCE(response_status, 0), response_body, created_at, updated_at
FROM ingest_requests WHERE tenant_id = $1 AND idempotency_key = $2`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, tenantID, idempotencyKey)
	} else {
		row = r.Pool.QueryRow(ctx, query, tenantID, idempotencyKey)
	}
	rec, err := scanIngestRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IngestRequest{}, domain.ErrNotFound
	}
	return rec, err
}

// Finalize records the outcome of a processed batch so future replays
// with the same idempotency key can be answered without reprocessing
// (C4 step 6).
func (r *IngestRequestRepo) Finalize(ctx context.Context, tx pgx.Tx, tenantID, idempotencyKey string, status domain.IngestRequestStatus, responseStatus int, responseBody []byte) error {
	_, err := tx.Exec(ctx, `
UPDATE ingest_requests
SET status = $3, response_status = $4, response_body = $5, updated_at = now()
WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, idempotencyKey, status, responseStatus, responseBody)
	return err
}

func scanIngestRequest(row pgx.Row) (domain.IngestRequest, error) {
	var rec domain.IngestRequest
	err := row.Scan(&rec.TenantID, &rec.IdempotencyKey, &rec.RequestSHA256, &rec.Status,
		&rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}
