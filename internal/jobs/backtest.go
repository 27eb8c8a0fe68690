package jobs

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"evalpipe/internal/domain"
	"evalpipe/internal/repo/postgres"
	"evalpipe/internal/stats"
)

const (
	dayMs   = 86400000
	weekMs  = 7 * dayMs
	monthMs = 30 * dayMs
	yearMs  = 365 * dayMs

	minPricedInstruments = 2
	backtestAnnualization = 252
)

var horizonPattern = regexp.MustCompile(`^(\d+)\s*([dwmy])$`)

// BacktestJob implements C12: joins signals with point-in-time market
// outcomes over a horizon and aggregates Sharpe/IC/hit-rate summary
// statistics.
type BacktestJob struct {
	Signals   *postgres.SignalRepo
	Outcomes  *postgres.SignalOutcomeRepo
	Backtests *postgres.BacktestRepo
	Log       *zap.SugaredLogger
}

func NewBacktestJob(signals *postgres.SignalRepo, outcomes *postgres.SignalOutcomeRepo, backtests *postgres.BacktestRepo, log *zap.SugaredLogger) *BacktestJob {
	return &BacktestJob{Signals: signals, Outcomes: outcomes, Backtests: backtests, Log: log}
}

type signalResult struct {
	ic              float64
	netReturn       float64
	benchmarkReturn float64
	excessReturn    float64
	matched         int
}

// Run joins every signal with a given horizon in [start, end) to its
// point-in-time market outcome, writes one SignalOutcome per matched
// signal, and inserts a BacktestRun carrying the aggregate summary.
func (j *BacktestJob) Run(ctx context.Context, tenantID, datasetVersion, horizon string, start, end time.Time, costBps float64, codeVersion string) (string, error) {
	horizonMs, err := parseHorizonMs(horizon)
	if err != nil {
		return "", err
	}

	backtestID, err := j.Backtests.Create(ctx, domain.BacktestRun{
		TenantID:       tenantID,
		DatasetVersion: datasetVersion,
		Horizon:        horizon,
		Start:          start,
		End:            end,
		CostBps:        costBps,
		CodeVersion:    codeVersion,
	})
	if err != nil {
		return "", fmt.Errorf("create backtest run: %w", err)
	}

	signals, err := j.Signals.SignalsForBacktest(ctx, tenantID, horizon, start, end)
	if err != nil {
		return backtestID, fmt.Errorf("load signals: %w", err)
	}

	var results []signalResult
	for _, sig := range signals {
		res, matched, err := j.evaluateSignal(ctx, tenantID, datasetVersion, backtestID, costBps, horizonMs, sig)
		if err != nil {
			j.Log.Errorw("evaluate signal failed", "signal_id", sig.SignalID, "error", err)
			continue
		}
		if matched {
			results = append(results, res)
		}
	}

	summary := summarize(results)
	if err := j.Backtests.Complete(ctx, tenantID, backtestID, summary); err != nil {
		return backtestID, fmt.Errorf("complete backtest run: %w", err)
	}
	return backtestID, nil
}

// evaluateSignal builds portfolio weights from the signal's value
// variant, matches instruments against point-in-time outcomes, and
// writes the resulting SignalOutcome. The bool return reports whether
// enough instruments were priced to produce a result.
func (j *BacktestJob) evaluateSignal(ctx context.Context, tenantID, datasetVersion, backtestID string, costBps float64, horizonMs int64, sig domain.Signal) (signalResult, bool, error) {
	rawWeights := rawInstrumentScores(sig)
	if len(rawWeights) < minPricedInstruments {
		return signalResult{}, false, nil
	}

	var l1 float64
	for _, v := range rawWeights {
		l1 += absFloat(v)
	}
	if l1 == 0 {
		return signalResult{}, false, nil
	}

	targetTime := sig.EventTime.Add(time.Duration(horizonMs) * time.Millisecond)

	var portfolioReturn float64
	var benchmarkReturns, matchedReturns, rawScores []float64
	matched := 0
	for instrumentID, raw := range rawWeights {
		outcome, err := j.Signals.OutcomeFor(ctx, tenantID, datasetVersion, instrumentID, targetTime)
		if err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return signalResult{}, false, fmt.Errorf("outcome lookup for %s: %w", instrumentID, err)
		}
		weight := raw / l1
		portfolioReturn += weight * outcome.RealizedReturn
		rawScores = append(rawScores, raw)
		matchedReturns = append(matchedReturns, outcome.RealizedReturn)
		if outcome.BenchmarkReturn != nil {
			benchmarkReturns = append(benchmarkReturns, *outcome.BenchmarkReturn)
		}
		matched++
	}
	if matched < minPricedInstruments {
		return signalResult{}, false, nil
	}

	benchmarkReturn := 0.0
	if len(benchmarkReturns) > 0 {
		benchmarkReturn = stats.Mean(benchmarkReturns)
	}
	netReturn := portfolioReturn - costBps/10000
	excessReturn := netReturn - benchmarkReturn
	ic := stats.Pearson(rawScores, matchedReturns)

	if err := j.Outcomes.Insert(ctx, nil, domain.SignalOutcome{
		TenantID:        tenantID,
		SignalID:        sig.SignalID,
		Horizon:         sig.Horizon,
		DatasetVersion:  datasetVersion,
		BacktestID:      backtestID,
		RealizedReturn:  portfolioReturn,
		BenchmarkReturn: benchmarkReturn,
		ExcessReturn:    excessReturn,
		NetReturn:       netReturn,
		Details: map[string]any{
			"ic":                ic,
			"matched_instruments": matched,
		},
	}); err != nil {
		return signalResult{}, false, fmt.Errorf("insert signal outcome: %w", err)
	}

	return signalResult{
		ic:              ic,
		netReturn:       netReturn,
		benchmarkReturn: benchmarkReturn,
		excessReturn:    excessReturn,
		matched:         matched,
	}, true, nil
}

// rawInstrumentScores expands a signal's value variant into
// per-instrument raw scores, before L1 normalization.
func rawInstrumentScores(sig domain.Signal) map[string]float64 {
	out := make(map[string]float64)
	switch sig.SignalValue.Kind {
	case domain.SignalValueScalar:
		if sig.SignalValue.Scalar == nil {
			return out
		}
		for _, iw := range sig.InstrumentUniverse {
			out[iw.ID] = *sig.SignalValue.Scalar * weightOf(iw)
		}
	case domain.SignalValueVector:
		for _, iw := range sig.InstrumentUniverse {
			v, ok := sig.SignalValue.Vector[iw.ID]
			if !ok {
				continue
			}
			out[iw.ID] = v * weightOf(iw)
		}
	case domain.SignalValueText:
		return out
	}
	return out
}

func weightOf(iw domain.InstrumentWeight) float64 {
	if iw.Weight == nil {
		return 1
	}
	return *iw.Weight
}

func parseHorizonMs(horizon string) (int64, error) {
	m := horizonPattern.FindStringSubmatch(horizon)
	if m == nil {
		return 0, fmt.Errorf("invalid horizon %q", horizon)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid horizon %q: %w", horizon, err)
	}
	switch m[2] {
	case "d":
		return n * dayMs, nil
	case "w":
		return n * weekMs, nil
	case "m":
		return n * monthMs, nil
	case "y":
		return n * yearMs, nil
	default:
		return 0, fmt.Errorf("invalid horizon unit in %q", horizon)
	}
}

// summarize aggregates per-signal results into the BacktestRun summary
// JSON: mean/std/Sharpe of net returns, mean/Sharpe of excess, mean IC,
// IC t-stat, hit-rate, instrument observations, and signal count.
func summarize(results []signalResult) map[string]any {
	if len(results) == 0 {
		return map[string]any{
			"signal_count": 0,
		}
	}
	netReturns := make([]float64, len(results))
	excessReturns := make([]float64, len(results))
	ics := make([]float64, len(results))
	hits := 0
	observations := 0
	for i, r := range results {
		netReturns[i] = r.netReturn
		excessReturns[i] = r.excessReturn
		ics[i] = r.ic
		if r.netReturn > 0 {
			hits++
		}
		observations += r.matched
	}
	return map[string]any{
		"signal_count":       len(results),
		"instrument_observations": observations,
		"mean_net_return":    stats.Mean(netReturns),
		"stddev_net_return":  stats.StdDev(netReturns),
		"sharpe_net":         stats.Sharpe(netReturns, backtestAnnualization),
		"mean_excess_return": stats.Mean(excessReturns),
		"sharpe_excess":      stats.Sharpe(excessReturns, backtestAnnualization),
		"mean_ic":            stats.Mean(ics),
		"ic_tstat":           stats.TStatMean(ics),
		"hit_rate":           float64(hits) / float64(len(results)),
	}
}
