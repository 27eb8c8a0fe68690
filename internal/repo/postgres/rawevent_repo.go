package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type RawEventRepo struct {
	Pool *pgxpool.Pool
}

func NewRawEventRepo(pool *pgxpool.Pool) *RawEventRepo {
	return &RawEventRepo{Pool: pool}
}

// InsertBatch performs the single multi-row, conflict-ignoring insert
// described by C4 step 5. It reports how many of the rows were actually
// new; received-inserted = duplicate.
func (r *RawEventRepo) InsertBatch(ctx context.Context, tx pgx.Tx, events []domain.RawEvent) (inserted int, err error) {
	if r == nil || r.Pool == nil {
		return 0, domain.ErrDBNotConfigured
	}
	if len(events) == 0 {
		return 0, nil
	}
	query := `
INSERT INTO raw_events (tenant_id, event_id, schema_version, type, event_time, payload, idempotency_key)
SELECT * FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[], $6::jsonb[], $7::text[])
ON CONFLICT (tenant_id, event_id) DO NOTHING`

	tenantIDs := make([]string, len(events))
	eventIDs := make([]string, len(events))
	schemaVersions := make([]string, len(events))
	types := make([]string, len(events))
	eventTimes := make([]time.Time, len(events))
	payloads := make([][]byte, len(events))
	idemKeys := make([]*string, len(events))
	for i, e := range events {
		tenantIDs[i] = e.TenantID
		eventIDs[i] = e.EventID
		schemaVersions[i] = e.SchemaVersion
		types[i] = string(e.Type)
		eventTimes[i] = e.EventTime
		payloads[i] = e.Payload
		idemKeys[i] = e.IdempotencyKey
	}

	var tag pgconn.CommandTag
	if tx != nil {
		tag, err = tx.Exec(ctx, query, tenantIDs, eventIDs, schemaVersions, types, eventTimes, payloads, idemKeys)
	} else {
		tag, err = r.Pool.Exec(ctx, query, tenantIDs, eventIDs, schemaVersions, types, eventTimes, payloads, idemKeys)
	}
	if err != nil {
		return 0, fmt.Errorf("insert raw events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimedEvent is one row locked by ClaimBatch, ready for the
// materialization worker to dispatch and update in place.
type ClaimedEvent struct {
	domain.RawEvent
}

// ClaimBatch selects up to batchSize unprocessed rows with
// FOR UPDATE SKIP LOCKED so concurrent workers never contend on the same
// rows (C5 step 1). Must be called within tx.
func (r *RawEventRepo) ClaimBatch(ctx context.Context, tx pgx.Tx, batchSize, maxAttempts int) ([]ClaimedEvent, error) {
	query := `
SELECT tenant_id, event_id, schema_version, type, event_time, ingest_time, payload, idempotency_key, attempt_count, processed_at, processing_error
FROM raw_events
WHERE processed_at IS NULL AND attempt_count < $2
ORDER BY ingest_time, event_time, event_id
LIMIT $1
FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, batchSize, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []ClaimedEvent
	for rows.Next() {
		var e ClaimedEvent
		var eventType string
		if err := rows.Scan(
			&e.TenantID, &e.EventID, &e.SchemaVersion, &eventType, &e.EventTime, &e.IngestTime,
			&e.Payload, &e.IdempotencyKey, &e.AttemptCount, &e.ProcessedAt, &e.ProcessingError,
		); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed sets processed_at = now() and clears the error (C5 step 3).
func (r *RawEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, tenantID, eventID string) error {
	_, err := tx.Exec(ctx, `UPDATE raw_events SET processed_at = now(), processing_error = NULL WHERE tenant_id = $1 AND event_id = $2`, tenantID, eventID)
	return err
}

// MarkFailedAttempt increments attempt_count and stores the (truncated)
// error; when attempt_count reaches maxAttempts the row is moved to a
// terminal dead state by also setting processed_at (C5 step 4).
func (r *RawEventRepo) MarkFailedAttempt(ctx context.Context, tx pgx.Tx, tenantID, eventID string, maxAttempts int, errMsg string) error {
	if len(errMsg) > 2000 {
		errMsg = errMsg[:2000]
	}
	_, err := tx.Exec(ctx, `
UPDATE raw_events
SET attempt_count = attempt_count + 1,
    processing_error = $3,
    processed_at = CASE WHEN attempt_count + 1 >= $4 THEN now() ELSE processed_at END
WHERE tenant_id = $1 AND event_id = $2`, tenantID, eventID, errMsg, maxAttempts)
	return err
}
