package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"evalpipe/internal/domain"
)

type BacktestRepo struct {
	Pool *pgxpool.Pool
}

func NewBacktestRepo(pool *pgxpool.Pool) *BacktestRepo {
	return &BacktestRepo{Pool: pool}
}

func (r *BacktestRepo) Create(ctx context.Context, b domain.BacktestRun) (string, error) {
	if b.BacktestID == "" {
		b.BacktestID = uuid.NewString()
	}
	_, err := r.Pool.Exec(ctx, `
INSERT INTO backtest_runs (tenant_id, backtest_id, dataset_version, horizon, start_time, end_time, cost_bps, code_version, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.TenantID, b.BacktestID, b.DatasetVersion, b.Horizon, b.Start, b.End, b.CostBps, b.CodeVersion, domain.BacktestRunning)
	if err != nil {
		return "", fmt.Errorf("create backtest run: %w", err)
	}
	return b.BacktestID, nil
}

func (r *BacktestRepo) Complete(ctx context.Context, tenantID, backtestID string, summary map[string]any) error {
	payload, err := marshalJSONB(summary)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, `
UPDATE backtest_runs SET status = $3, summary = $4 WHERE tenant_id = $1 AND backtest_id = $2`,
		tenantID, backtestID, domain.BacktestComplete, payload)
	if err != nil {
		return fmt.Errorf("complete backtest run: %w", err)
	}
	return nil
}

func (r *BacktestRepo) Get(ctx context.Context, tenantID, backtestID string) (domain.BacktestRun, error) {
	row := r.Pool.QueryRow(ctx, `
SELECT tenant_id, backtest_id, dataset_version, horizon, start_time, end_time, cost_bps, code_version, summary, status, created_at
FROM backtest_runs WHERE tenant_id = $1 AND backtest_id = $2`, tenantID, backtestID)
	var b domain.BacktestRun
	var summary []byte
	err := row.Scan(&b.TenantID, &b.BacktestID, &b.DatasetVersion, &b.Horizon, &b.Start, &b.End, &b.CostBps, &b.CodeVersion, &summary, &b.Status, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.BacktestRun{}, domain.ErrNotFound
		}
		return domain.BacktestRun{}, err
	}
	if b.Summary, err = unmarshalJSONB(summary); err != nil {
		return domain.BacktestRun{}, err
	}
	return b, nil
}

// ListByTenant lists the most recent backtest runs for a tenant, newest
// first, the population GET /backtests serves.
func (r *BacktestRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
SELECT tenant_id, backtest_id, dataset_version, horizon, start_time, end_time, cost_bps, code_version, summary, status, created_at
FROM backtest_runs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestRun
	for rows.Next() {
		var b domain.BacktestRun
		var summary []byte
		if err := rows.Scan(&b.TenantID, &b.BacktestID, &b.DatasetVersion, &b.Horizon, &b.Start, &b.End, &b.CostBps, &b.CodeVersion, &summary, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.Summary, err = unmarshalJSONB(summary); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
