// Package ingest implements the batch-event front-end (C4): body
// normalization, schema validation, mixed-tenant/empty-batch rejection,
// idempotent replay handling, and the conflict-ignoring raw-event
// insert, in the processing order the pipeline's correctness depends
// on.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"evalpipe/internal/audit"
	"evalpipe/internal/canon"
	"evalpipe/internal/domain"
	"evalpipe/internal/metrics"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/schema"
)

// envelopeBody is the shape POST bodies may take: either a bare JSON
// array of events, or an object wrapping them with a schema version.
type envelopeBody struct {
	SchemaVersion string            `json:"schema_version"`
	Events        []json.RawMessage `json:"events"`
}

// Result is the shape returned to callers on a successful ingest.
type Result struct {
	OK                   bool   `json:"ok"`
	SchemaVersion        string `json:"schema_version"`
	TenantID             string `json:"tenant_id"`
	ReceivedEvents       int    `json:"received_events"`
	InsertedEvents       int    `json:"inserted_events"`
	DuplicateEvents      int    `json:"duplicate_events"`
	RequestIdempotencyKey string `json:"request_idempotency_key,omitempty"`
}

type errorResponse struct {
	Error  string                   `json:"error"`
	Errors []domain.ValidationError `json:"errors,omitempty"`
}

type Service struct {
	Pool        *pgxpool.Pool
	Registry    *schema.Registry
	RawEvents   *postgres.RawEventRepo
	Requests    *postgres.IngestRequestRepo
	DeadLetters *postgres.DeadLetterRepo
	Audit       *audit.Emitter
	Log         *zap.SugaredLogger
}

func NewService(pool *pgxpool.Pool, registry *schema.Registry, log *zap.SugaredLogger) *Service {
	return &Service{
		Pool:        pool,
		Registry:    registry,
		RawEvents:   postgres.NewRawEventRepo(pool),
		Requests:    postgres.NewIngestRequestRepo(pool),
		DeadLetters: postgres.NewDeadLetterRepo(pool),
		Audit:       audit.NewEmitter(postgres.NewAuditRepo(pool), log),
		Log:         log,
	}
}

// Process runs the full C4 pipeline over one request body and returns
// the HTTP status and JSON body the caller should see. idempotencyKey
// is empty when the caller sent none.
func (s *Service) Process(ctx context.Context, rawBody []byte, idempotencyKey string) (status int, body []byte) {
	defer func() {
		metrics.IngestRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	}()

	requestSHA, err := canon.SHA256Hex(rawBody)
	if err != nil {
		return s.failValidation(ctx, "", "malformed JSON body", nil, rawBody)
	}

	rawEvents, err := splitBatch(rawBody)
	if err != nil {
		return s.failValidation(ctx, "", "malformed JSON body", nil, rawBody)
	}

	events, validationErrs := s.Registry.ValidateBatch(rawEvents)
	var allErrs []domain.ValidationError
	for i, errs := range validationErrs {
		for _, e := range errs {
			e.Path = fmt.Sprintf("events[%d]%s", i, e.Path)
			allErrs = append(allErrs, e)
		}
	}
	if len(allErrs) > 0 {
		return s.failValidation(ctx, "", "schema validation failed", allErrs, rawBody)
	}

	tenantID, mixErr := commonTenant(events)
	if mixErr != nil {
		return s.failValidation(ctx, tenantID, mixErr.Error(), nil, rawBody)
	}
	if len(events) == 0 {
		return s.failValidation(ctx, tenantID, domain.ErrEmptyBatch.Error(), nil, rawBody)
	}

	if idempotencyKey != "" {
		return s.processIdempotent(ctx, tenantID, idempotencyKey, requestSHA, events, rawEvents)
	}
	return s.processOnce(ctx, tenantID, events, rawEvents)
}

func (s *Service) processOnce(ctx context.Context, tenantID string, events []domain.Event, rawEvents [][]byte) (int, []byte) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return s.failDB(ctx, tenantID, "database unavailable", nil)
	}
	defer tx.Rollback(ctx)

	result, err := s.insertRawEvents(ctx, tx, tenantID, events, rawEvents)
	if err != nil {
		return s.failDB(ctx, tenantID, "database failure", nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.failDB(ctx, tenantID, "database failure", nil)
	}

	s.Audit.EmitIngest(ctx, tenantID, result.ReceivedEvents, result.InsertedEvents, result.DuplicateEvents, domain.AuditResultSuccess, "")
	body, _ := json.Marshal(result)
	return 200, body
}

// processIdempotent implements C4 steps 4 and 6: a fresh ledger row
// proceeds to materialize the batch; a completed prior row replays its
// cached response; a processing prior row asks the caller to retry; any
// other combination is a conflict.
func (s *Service) processIdempotent(ctx context.Context, tenantID, idempotencyKey, requestSHA string, events []domain.Event, rawEvents [][]byte) (int, []byte) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return s.failDB(ctx, tenantID, "database unavailable", nil)
	}
	defer tx.Rollback(ctx)

	ledger, fresh, err := s.Requests.BeginProcessing(ctx, tx, tenantID, idempotencyKey, requestSHA)
	if err != nil {
		return s.failDB(ctx, tenantID, "database failure", nil)
	}

	if !fresh {
		if ledger.RequestSHA256 != requestSHA {
			_ = tx.Commit(ctx)
			return 409, mustMarshal(errorResponse{Error: "idempotency key reused with a different payload"})
		}
		switch ledger.Status {
		case domain.IngestRequestCompleted:
			_ = tx.Commit(ctx)
			return ledger.ResponseStatus, ledger.ResponseBody
		case domain.IngestRequestProcessing:
			_ = tx.Commit(ctx)
			return 202, mustMarshal(map[string]string{"status": "accepted"})
		default: // failed
			_ = tx.Commit(ctx)
			return 409, mustMarshal(errorResponse{Error: "prior attempt with this idempotency key failed"})
		}
	}

	result, err := s.insertRawEvents(ctx, tx, tenantID, events, rawEvents)
	if err != nil {
		_ = s.Requests.Finalize(ctx, tx, tenantID, idempotencyKey, domain.IngestRequestFailed, 500, nil)
		_ = tx.Commit(ctx)
		return s.failDB(ctx, tenantID, "database failure", nil)
	}
	result.RequestIdempotencyKey = idempotencyKey

	body, _ := json.Marshal(result)
	if err := s.Requests.Finalize(ctx, tx, tenantID, idempotencyKey, domain.IngestRequestCompleted, 200, body); err != nil {
		return s.failDB(ctx, tenantID, "database failure", nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.failDB(ctx, tenantID, "database failure", nil)
	}

	s.Audit.EmitIngest(ctx, tenantID, result.ReceivedEvents, result.InsertedEvents, result.DuplicateEvents, domain.AuditResultSuccess, "")
	return 200, body
}

// insertRawEvents persists each event's original JSON (not a re-marshal
// of the decoded struct, whose envelope is tagged json:"-") so the
// materialization worker can revalidate the exact bytes a producer sent.
func (s *Service) insertRawEvents(ctx context.Context, tx pgx.Tx, tenantID string, events []domain.Event, rawEvents [][]byte) (Result, error) {
	raws := make([]domain.RawEvent, len(events))
	schemaVersion := "v1"
	for i, ev := range events {
		env := ev.Envelope()
		if env.SchemaVersion != "" {
			schemaVersion = env.SchemaVersion
		}
		raws[i] = domain.RawEvent{
			TenantID:      env.TenantID,
			EventID:       env.EventID,
			SchemaVersion: env.SchemaVersion,
			Type:          env.Type,
			EventTime:     env.EventTime,
			Payload:       rawEvents[i],
		}
	}
	inserted, err := s.RawEvents.InsertBatch(ctx, tx, raws)
	if err != nil {
		return Result{}, err
	}
	received := len(raws)
	metrics.IngestEventsTotal.WithLabelValues("inserted").Add(float64(inserted))
	metrics.IngestEventsTotal.WithLabelValues("duplicate").Add(float64(received - inserted))
	return Result{
		OK:              true,
		SchemaVersion:   schemaVersion,
		TenantID:        tenantID,
		ReceivedEvents:  received,
		InsertedEvents:  inserted,
		DuplicateEvents: received - inserted,
	}, nil
}

// failValidation handles caller-supplied validation failures: malformed
// bodies, schema violations, mixed-tenant or empty batches. These are
// the caller's fault, so they dead-letter and return 400.
func (s *Service) failValidation(ctx context.Context, tenantID, reason string, errs []domain.ValidationError, payload []byte) (int, []byte) {
	if _, err := s.DeadLetters.Insert(ctx, nil, tenantID, reason, errs, payload); err != nil && s.Log != nil {
		s.Log.Warnw("dead letter insert failed", "tenant_id", tenantID, "error", err)
	}
	s.Audit.EmitIngest(ctx, tenantID, 0, 0, 0, domain.AuditResultFailure, reason)
	return 400, mustMarshal(errorResponse{Error: reason, Errors: errs})
}

// failDB handles infrastructure failures — a failed Begin/Commit or a
// failed insert — which are never the caller's fault, so they
// dead-letter and return 500 per the database-failure branch of the
// ingest failure taxonomy.
func (s *Service) failDB(ctx context.Context, tenantID, reason string, payload []byte) (int, []byte) {
	if _, err := s.DeadLetters.Insert(ctx, nil, tenantID, reason, nil, payload); err != nil && s.Log != nil {
		s.Log.Warnw("dead letter insert failed", "tenant_id", tenantID, "error", err)
	}
	s.Audit.EmitIngest(ctx, tenantID, 0, 0, 0, domain.AuditResultFailure, reason)
	return 500, mustMarshal(errorResponse{Error: reason})
}

func splitBatch(rawBody []byte) ([][]byte, error) {
	trimmed := firstNonSpace(rawBody)
	if trimmed == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(rawBody, &items); err != nil {
			return nil, err
		}
		out := make([][]byte, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, nil
	}
	var body envelopeBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, err
	}
	out := make([][]byte, len(body.Events))
	for i, item := range body.Events {
		out[i] = item
	}
	return out, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

// commonTenant enforces the mixed-tenant rejection: every event in the
// batch must carry the same tenant_id.
func commonTenant(events []domain.Event) (string, error) {
	var tenantID string
	for _, ev := range events {
		t := ev.Envelope().TenantID
		if tenantID == "" {
			tenantID = t
			continue
		}
		if t != tenantID {
			return tenantID, domain.ErrMixedTenant
		}
	}
	return tenantID, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"internal encoding failure"}`)
	}
	return b
}
