// Package materialize implements the materialization worker (C5): it
// drains the raw-event queue under row locks, revalidates each payload,
// and dispatches by event type into the normalized evaluation store.
// One savepoint per event means a single malformed row never poisons
// the rest of its batch.
package materialize

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"evalpipe/internal/domain"
	"evalpipe/internal/metrics"
	"evalpipe/internal/normalize"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/schema"
)

type Worker struct {
	Pool         *pgxpool.Pool
	Registry     *schema.Registry
	RawEvents    *postgres.RawEventRepo
	Runs         *postgres.RunRepo
	Retrieval    *postgres.RetrievalContextRepo
	Signals      *postgres.SignalRepo
	NormConfig   normalize.Config
	BatchSize    int
	MaxAttempts  int
	PollDelay    time.Duration
	Log          *zap.SugaredLogger
}

func NewWorker(pool *pgxpool.Pool, registry *schema.Registry, normCfg normalize.Config, batchSize, maxAttempts int, pollDelay time.Duration, log *zap.SugaredLogger) *Worker {
	return &Worker{
		Pool:        pool,
		Registry:    registry,
		RawEvents:   postgres.NewRawEventRepo(pool),
		Runs:        postgres.NewRunRepo(pool),
		Retrieval:   postgres.NewRetrievalContextRepo(pool),
		Signals:     postgres.NewSignalRepo(pool),
		NormConfig:  normCfg,
		BatchSize:   batchSize,
		MaxAttempts: maxAttempts,
		PollDelay:   pollDelay,
		Log:         log,
	}
}

// Run loops forever, processing one cycle at a time, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.RunCycle(ctx)
		if err != nil {
			w.Log.Errorw("materialization cycle failed", "error", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.PollDelay):
			}
		}
	}
}

// RunCycle claims one batch, materializes each row under its own
// savepoint, and commits. It returns the number of rows claimed so the
// caller can decide whether to sleep before the next cycle.
func (w *Worker) RunCycle(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.MaterializeCycleDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := w.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cycle: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := w.RawEvents.ClaimBatch(ctx, tx, w.BatchSize, w.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	for _, row := range claimed {
		w.materializeOne(ctx, tx, row)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cycle: %w", err)
	}
	return len(claimed), nil
}

// materializeOne opens a savepoint, revalidates and dispatches one row,
// and releases or rolls back the savepoint depending on the outcome.
// Errors never propagate to the caller: a bad row is recorded on the
// row itself, never failing the whole cycle.
func (w *Worker) materializeOne(ctx context.Context, tx pgx.Tx, row postgres.ClaimedEvent) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		w.Log.Errorw("open savepoint failed", "event_id", row.EventID, "error", err)
		return
	}

	if procErr := w.dispatch(ctx, sp, row); procErr != nil {
		_ = sp.Rollback(ctx)
		metrics.MaterializeEventsTotal.WithLabelValues("failed").Inc()
		if markErr := w.RawEvents.MarkFailedAttempt(ctx, tx, row.TenantID, row.EventID, w.MaxAttempts, procErr.Error()); markErr != nil {
			w.Log.Errorw("mark failed attempt failed", "event_id", row.EventID, "error", markErr)
		}
		return
	}
	if err := sp.Commit(ctx); err != nil {
		w.Log.Errorw("release savepoint failed", "event_id", row.EventID, "error", err)
		metrics.MaterializeEventsTotal.WithLabelValues("failed").Inc()
		_ = w.RawEvents.MarkFailedAttempt(ctx, tx, row.TenantID, row.EventID, w.MaxAttempts, err.Error())
		return
	}
	metrics.MaterializeEventsTotal.WithLabelValues("processed").Inc()
	if err := w.RawEvents.MarkProcessed(ctx, tx, row.TenantID, row.EventID); err != nil {
		w.Log.Errorw("mark processed failed", "event_id", row.EventID, "error", err)
	}
}

func (w *Worker) dispatch(ctx context.Context, tx pgx.Tx, row postgres.ClaimedEvent) error {
	ev, errs := w.Registry.ValidateEvent(row.Payload)
	if len(errs) > 0 {
		return fmt.Errorf("revalidation failed: %v", errs)
	}

	switch typed := ev.(type) {
	case domain.OrchestrationRunStartedEvent:
		return w.onRunStarted(ctx, tx, typed)
	case domain.OrchestrationRunCompletedEvent:
		return w.onRunCompleted(ctx, tx, typed)
	case domain.AgentRunStartedEvent:
		return w.onAgentRunStarted(ctx, tx, typed)
	case domain.AgentRunCompletedEvent:
		return w.onAgentRunCompleted(ctx, tx, typed)
	case domain.RetrievalContextAttachedEvent:
		return w.onRetrievalContext(ctx, tx, typed)
	case domain.SignalEmittedEvent:
		return w.onSignalEmitted(ctx, tx, typed)
	case domain.MarketOutcomeIngestedEvent:
		return w.onMarketOutcome(ctx, tx, typed)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

func (w *Worker) onRunStarted(ctx context.Context, tx pgx.Tx, ev domain.OrchestrationRunStartedEvent) error {
	env := ev.Env
	return w.Runs.UpsertStarted(ctx, tx, domain.OrchestrationRun{
		TenantID:         env.TenantID,
		RunID:            env.OrchestrationRunID,
		WorkflowID:       env.WorkflowID,
		QueryID:          env.QueryID,
		Query:            ev.Query,
		RequestTimestamp: env.RequestTimestamp,
		StartedAt:        env.EventTime,
		OrchestratorMeta: ev.OrchestratorMeta,
		ClientMeta:       ev.ClientMeta,
		UserMeta:         ev.UserMeta,
	})
}

func (w *Worker) onRunCompleted(ctx context.Context, tx pgx.Tx, ev domain.OrchestrationRunCompletedEvent) error {
	env := ev.Env
	status := domain.RunStatusSuccess
	if ev.Status != "" {
		status = domain.RunStatus(ev.Status)
	}
	return w.Runs.UpsertCompleted(ctx, tx, env.TenantID, env.OrchestrationRunID, domain.OrchestrationRun{
		Status:         status,
		CompletedAt:    &ev.CompletedAt,
		TotalLatencyMs: ev.TotalLatencyMs,
		ErrorCode:      ev.ErrorCode,
		ErrorMessage:   ev.ErrorMessage,
	})
}

func (w *Worker) onAgentRunStarted(ctx context.Context, tx pgx.Tx, ev domain.AgentRunStartedEvent) error {
	env := ev.Env
	return w.Runs.UpsertAgentRunStarted(ctx, tx, env.WorkflowID, domain.AgentRun{
		TenantID:           env.TenantID,
		AgentRunID:         ev.AgentRunID,
		OrchestrationRunID: env.OrchestrationRunID,
		AgentID:            ev.AgentID,
		AgentVersion:       ev.AgentVersion,
		Model:              ev.Model,
		ConfigHash:         ev.ConfigHash,
		ParentAgentRunID:   ev.ParentAgentRunID,
		StartedAt:          &ev.StartedAt,
	})
}

func (w *Worker) onAgentRunCompleted(ctx context.Context, tx pgx.Tx, ev domain.AgentRunCompletedEvent) error {
	env := ev.Env

	existing, err := w.Runs.GetAgentRun(ctx, tx, env.TenantID, ev.AgentRunID)
	agentID, agentVersion := "", ""
	if err == nil {
		agentID, agentVersion = existing.AgentID, existing.AgentVersion
	}

	if err := w.Runs.UpsertAgentRunCompleted(ctx, tx, env.WorkflowID, domain.AgentRun{
		TenantID:           env.TenantID,
		AgentRunID:         ev.AgentRunID,
		OrchestrationRunID: env.OrchestrationRunID,
		AgentID:            agentID,
		AgentVersion:       agentVersion,
		CompletedAt:        &ev.CompletedAt,
		LatencyMs:          ev.Metrics.LatencyMs,
		OutputSummary:      ev.OutputSummary,
		OutputURI:          ev.OutputURI,
	}); err != nil {
		return err
	}

	normalized := normalize.Normalize(w.NormConfig, normalize.RawMetrics{
		LatencyMs:         ev.Metrics.LatencyMs,
		Faithfulness:      ev.Metrics.Faithfulness,
		Coverage:          ev.Metrics.Coverage,
		Confidence:        ev.Metrics.Confidence,
		HallucinationFlag: ev.Metrics.HallucinationFlag,
	})

	rec := domain.EvaluationRecord{
		TenantID:             env.TenantID,
		EvaluationID:         uuid.NewString(),
		AgentRunID:           ev.AgentRunID,
		WorkflowID:           env.WorkflowID,
		AgentID:              agentID,
		AgentVersion:         agentVersion,
		LatencyMs:            ev.Metrics.LatencyMs,
		Faithfulness:         ev.Metrics.Faithfulness,
		HallucinationFlag:    ev.Metrics.HallucinationFlag,
		Coverage:             ev.Metrics.Coverage,
		Confidence:           ev.Metrics.Confidence,
		LatencyNorm:          normalized.LatencyNorm,
		FaithfulnessNorm:     normalized.FaithfulnessNorm,
		CoverageNorm:         normalized.CoverageNorm,
		ConfidenceNorm:       normalized.ConfidenceNorm,
		HallucinationNorm:    normalized.HallucinationNorm,
		RunQualityScore:      normalized.RunQualityScore,
		RiskScore:            normalized.RiskScore,
		EvaluatorVersion:     "v1",
		NormalizationVersion: "v1",
		WeightingVersion:     "v1",
		ScoringTimestamp:     ev.CompletedAt,
	}
	_, err = w.Runs.InsertEvaluationRecord(ctx, tx, rec)
	return err
}

func (w *Worker) onRetrievalContext(ctx context.Context, tx pgx.Tx, ev domain.RetrievalContextAttachedEvent) error {
	env := ev.Env
	return w.Retrieval.Upsert(ctx, tx, domain.RetrievalContext{
		TenantID:           env.TenantID,
		OrchestrationRunID: env.OrchestrationRunID,
		AgentRunID:         ev.AgentRunID,
		ContextRef:         ev.ContextRef,
		Payload:            ev.Payload,
	})
}

func (w *Worker) onSignalEmitted(ctx context.Context, tx pgx.Tx, ev domain.SignalEmittedEvent) error {
	env := ev.Env
	return w.Signals.UpsertSignal(ctx, tx, domain.Signal{
		TenantID:           env.TenantID,
		SignalID:           ev.SignalID,
		EventTime:          env.EventTime,
		Horizon:            ev.Horizon,
		InstrumentUniverse: ev.InstrumentUniverse,
		SignalValue:        ev.SignalValue,
		Confidence:         ev.Confidence,
		Constraints:        ev.Constraints,
	})
}

func (w *Worker) onMarketOutcome(ctx context.Context, tx pgx.Tx, ev domain.MarketOutcomeIngestedEvent) error {
	env := ev.Env
	return w.Signals.UpsertMarketOutcome(ctx, tx, domain.MarketOutcome{
		TenantID:        env.TenantID,
		DatasetVersion:  ev.DatasetVersion,
		InstrumentID:    ev.InstrumentID,
		AsofTime:        ev.AsofTime,
		RealizedReturn:  ev.RealizedReturn,
		BenchmarkReturn: ev.BenchmarkReturn,
	})
}
