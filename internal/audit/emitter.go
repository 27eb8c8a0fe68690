// Package audit emits best-effort AuditEntry rows for the operations
// the pipeline's own components care to record. Emission failures are
// logged by the emitter itself and never surfaced as request failures - the
// ingest front-end's audit step (C4 step 7) is explicitly best-effort.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"evalpipe/internal/domain"
)

type Repository interface {
	Append(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error)
}

type Emitter struct {
	Repo Repository
	Log  *zap.SugaredLogger
}

func NewEmitter(repo Repository, log *zap.SugaredLogger) *Emitter {
	return &Emitter{Repo: repo, Log: log}
}

// Emit writes one entry, filling in CreatedAt when the caller left it
// zero. Failures are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, entry domain.AuditEntry) {
	if e == nil || e.Repo == nil {
		return
	}
	if entry.Payload == nil {
		entry.Payload = map[string]any{}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := e.Repo.Append(ctx, entry); err != nil && e.Log != nil {
		e.Log.Warnw("audit emit failed", "event_type", entry.EventType, "tenant_id", entry.TenantID, "error", err)
	}
}

// EmitIngest records one batch-ingest outcome (C4 step 7).
func (e *Emitter) EmitIngest(ctx context.Context, tenantID string, received, inserted, duplicate int, result domain.AuditResult, errorCode string) {
	e.Emit(ctx, domain.AuditEntry{
		TenantID:   tenantID,
		EventType:  "ingest_batch",
		ActorType:  domain.AuditActorSystem,
		TargetType: "raw_events",
		Result:     result,
		ErrorCode:  errorCode,
		Payload: map[string]any{
			"received":  received,
			"inserted":  inserted,
			"duplicate": duplicate,
		},
	})
}

// EmitActionCreated records a RecommendedAction's creation by a job
// (C11).
func (e *Emitter) EmitActionCreated(ctx context.Context, tenantID, actionType, actionID string) {
	e.Emit(ctx, domain.AuditEntry{
		TenantID:   tenantID,
		EventType:  "action_created",
		ActorType:  domain.AuditActorSystem,
		TargetType: "recommended_action",
		TargetID:   actionID,
		Result:     domain.AuditResultSuccess,
		Payload:    map[string]any{"action_type": actionType},
	})
}

// HashActor reduces a caller-identifying string (an API key, a user ID)
// to a stable, non-reversible hash suitable for ActorIDHash.
func HashActor(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
