package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type SignalRepo struct {
	Pool *pgxpool.Pool
}

func NewSignalRepo(pool *pgxpool.Pool) *SignalRepo {
	return &SignalRepo{Pool: pool}
}

func (r *SignalRepo) UpsertSignal(ctx context.Context, tx pgx.Tx, s domain.Signal) error {
	universe, err := json.Marshal(s.InstrumentUniverse)
	if err != nil {
		return fmt.Errorf("marshal instrument universe: %w", err)
	}
	value, err := json.Marshal(s.SignalValue)
	if err != nil {
		return fmt.Errorf("marshal signal value: %w", err)
	}
	constraints, err := marshalJSONB(s.Constraints)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO signals (tenant_id, signal_id, event_time, horizon, instrument_universe, signal_value, confidence, constraints)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, signal_id) DO UPDATE SET
	event_time          = EXCLUDED.event_time,
	horizon             = EXCLUDED.horizon,
	instrument_universe = EXCLUDED.instrument_universe,
	signal_value        = EXCLUDED.signal_value,
	confidence          = EXCLUDED.confidence,
	constraints         = EXCLUDED.constraints`,
		s.TenantID, s.SignalID, s.EventTime, s.Horizon, universe, value, s.Confidence, constraints)
	if err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (r *SignalRepo) UpsertMarketOutcome(ctx context.Context, tx pgx.Tx, m domain.MarketOutcome) error {
	_, err := tx.Exec(ctx, `
INSERT INTO market_outcomes (tenant_id, dataset_version, instrument_id, asof_time, realized_return, benchmark_return)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant_id, dataset_version, instrument_id, asof_time) DO UPDATE SET
	realized_return  = EXCLUDED.realized_return,
	benchmark_return = EXCLUDED.benchmark_return`,
		m.TenantID, m.DatasetVersion, m.InstrumentID, m.AsofTime, m.RealizedReturn, m.BenchmarkReturn)
	if err != nil {
		return fmt.Errorf("upsert market outcome: %w", err)
	}
	return nil
}

// SignalsForBacktest returns signals for a horizon with event_time in
// [start, end) - the population C12 matches against realized outcomes.
func (r *SignalRepo) SignalsForBacktest(ctx context.Context, tenantID, horizon string, start, end time.Time) ([]domain.Signal, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, signal_id, event_time, horizon, instrument_universe, signal_value, confidence, constraints, created_at
FROM signals
WHERE tenant_id = $1 AND horizon = $2 AND event_time >= $3 AND event_time < $4
ORDER BY event_time`, tenantID, horizon, start, end)
	if err != nil {
		return nil, fmt.Errorf("query signals for backtest: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var s domain.Signal
		var universe, value, constraints []byte
		if err := rows.Scan(&s.TenantID, &s.SignalID, &s.EventTime, &s.Horizon, &universe, &value, &s.Confidence, &constraints, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(universe, &s.InstrumentUniverse); err != nil {
			return nil, fmt.Errorf("unmarshal instrument universe: %w", err)
		}
		if err := json.Unmarshal(value, &s.SignalValue); err != nil {
			return nil, fmt.Errorf("unmarshal signal value: %w", err)
		}
		if s.Constraints, err = unmarshalJSONB(constraints); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetByID fetches one signal by its tenant-scoped signal_id.
func (r *SignalRepo) GetByID(ctx context.Context, tenantID, signalID string) (domain.Signal, error) {
	row := r.Pool.QueryRow(ctx, `
SELECT tenant_id, signal_id, event_time, horizon, instrument_universe, signal_value, confidence, constraints, created_at
FROM signals WHERE tenant_id = $1 AND signal_id = $2`, tenantID, signalID)

	var s domain.Signal
	var universe, value, constraints []byte
	if err := row.Scan(&s.TenantID, &s.SignalID, &s.EventTime, &s.Horizon, &universe, &value, &s.Confidence, &constraints, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, err
	}
	if err := json.Unmarshal(universe, &s.InstrumentUniverse); err != nil {
		return domain.Signal{}, fmt.Errorf("unmarshal instrument universe: %w", err)
	}
	if err := json.Unmarshal(value, &s.SignalValue); err != nil {
		return domain.Signal{}, fmt.Errorf("unmarshal signal value: %w", err)
	}
	var err error
	if s.Constraints, err = unmarshalJSONB(constraints); err != nil {
		return domain.Signal{}, err
	}
	return s, nil
}

// OutcomeFor looks up the realized and benchmark return for one
// instrument at a dataset version/as-of time, the join key C12 uses to
// compute per-signal excess and net returns.
func (r *SignalRepo) OutcomeFor(ctx context.Context, tenantID, datasetVersion, instrumentID string, asof time.Time) (domain.MarketOutcome, error) {
	row := r.Pool.QueryRow(ctx, `
SELECT tenant_id, dataset_version, instrument_id, asof_time, realized_return, benchmark_return, created_at
FROM market_outcomes
WHERE tenant_id = $1 AND dataset_version = $2 AND instrument_id = $3 AND asof_time = $4`,
		tenantID, datasetVersion, instrumentID, asof)
	var m domain.MarketOutcome
	err := row.Scan(&m.TenantID, &m.DatasetVersion, &m.InstrumentID, &m.AsofTime, &m.RealizedReturn, &m.BenchmarkReturn, &m.CreatedAt)
	return m, err
}

type SignalOutcomeRepo struct {
	Pool *pgxpool.Pool
}

func NewSignalOutcomeRepo(pool *pgxpool.Pool) *SignalOutcomeRepo {
	return &SignalOutcomeRepo{Pool: pool}
}

func (r *SignalOutcomeRepo) Insert(ctx context.Context, tx pgx.Tx, o domain.SignalOutcome) error {
	details, err := marshalJSONB(o.Details)
	if err != nil {
		return err
	}
	exec := `
INSERT INTO signal_outcomes (tenant_id, backtest_id, signal_id, horizon, dataset_version, realized_return, benchmark_return, excess_return, net_return, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (tenant_id, backtest_id, signal_id, horizon) DO NOTHING`
	if tx != nil {
		_, err = tx.Exec(ctx, exec, o.TenantID, o.BacktestID, o.SignalID, o.Horizon, o.DatasetVersion,
			o.RealizedReturn, o.BenchmarkReturn, o.ExcessReturn, o.NetReturn, details)
	} else {
		_, err = r.Pool.Exec(ctx, exec, o.TenantID, o.BacktestID, o.SignalID, o.Horizon, o.DatasetVersion,
			o.RealizedReturn, o.BenchmarkReturn, o.ExcessReturn, o.NetReturn, details)
	}
	if err != nil {
		return fmt.Errorf("insert signal outcome: %w", err)
	}
	return nil
}

func (r *SignalOutcomeRepo) ListByBacktest(ctx context.Context, tenantID, backtestID string) ([]domain.SignalOutcome, error) {
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, backtest_id, signal_id, horizon, dataset_version, realized_return, benchmark_return, excess_return, net_return, details, created_at
FROM signal_outcomes WHERE tenant_id = $1 AND backtest_id = $2`, tenantID, backtestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SignalOutcome
	for rows.Next() {
		var o domain.SignalOutcome
		var details []byte
		if err := rows.Scan(&o.TenantID, &o.BacktestID, &o.SignalID, &o.Horizon, &o.DatasetVersion,
			&o.RealizedReturn, &o.BenchmarkReturn, &o.ExcessReturn, &o.NetReturn, &details, &o.CreatedAt); err != nil {
			return nil, err
		}
		if o.Details, err = unmarshalJSONB(details); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
