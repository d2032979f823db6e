package storage

// ledger.go: SQLite persistence for the parameter search ledger.
//
// Tables:
//   backtest_jobs : one row per scheduled job (lineage via parent_job_id), with its metrics
//   pair_states   : last known search state per (run, pair)

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS backtest_jobs (
    id              TEXT PRIMARY KEY,
    run_id          TEXT NOT NULL,
    symbol          TEXT NOT NULL,
    strategy_id     TEXT NOT NULL,
    parameters      TEXT NOT NULL,
    iteration       INTEGER NOT NULL DEFAULT 0,
    parent_job_id   TEXT NOT NULL DEFAULT '',
    ml_enhanced     INTEGER NOT NULL DEFAULT 0,
    phase           TEXT NOT NULL,
    status          TEXT NOT NULL,
    error           TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL,
    finished_at     DATETIME,
    sharpe_ratio    REAL,
    total_return    REAL,
    max_drawdown    REAL,
    win_rate        REAL,
    trade_count     INTEGER,
    meets_target    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS backtest_jobs_pair ON backtest_jobs(run_id, symbol, strategy_id);
CREATE INDEX IF NOT EXISTS backtest_jobs_created ON backtest_jobs(created_at);

CREATE TABLE IF NOT EXISTS pair_states (
    run_id          TEXT NOT NULL,
    symbol          TEXT NOT NULL,
    strategy_id     TEXT NOT NULL,
    iteration_count INTEGER NOT NULL DEFAULT 0,
    best_job_id     TEXT NOT NULL DEFAULT '',
    phase           TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    updated_at      DATETIME NOT NULL,
    PRIMARY KEY (run_id, symbol, strategy_id)
);
`

// JobRecord is a persisted job with its result, if it completed.
type JobRecord struct {
	Job    domain.BacktestJob
	Result *domain.BacktestResult
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

// SaveJob inserts or updates a job. Result is nil for failed or skipped jobs.
func (s *SQLiteStorage) SaveJob(ctx context.Context, runID string, job domain.BacktestJob, result *domain.BacktestResult) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("storage.SaveJob: encode parameters: %w", err)
	}

	var sharpe, ret, dd, win, trades any
	meets := 0
	if result != nil {
		sharpe, ret, dd, win, trades = result.SharpeRatio, result.TotalReturn, result.MaxDrawdown, result.WinRate, result.TradeCount
		meets = boolToInt(result.MeetsTarget)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_jobs (id, run_id, symbol, strategy_id, parameters, iteration,
		                           parent_job_id, ml_enhanced, phase, status, error, created_at,
		                           finished_at, sharpe_ratio, total_return, max_drawdown,
		                           win_rate, trade_count, meets_target)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			iteration    = excluded.iteration,
			status       = excluded.status,
			error        = excluded.error,
			finished_at  = excluded.finished_at,
			sharpe_ratio = excluded.sharpe_ratio,
			total_return = excluded.total_return,
			max_drawdown = excluded.max_drawdown,
			win_rate     = excluded.win_rate,
			trade_count  = excluded.trade_count,
			meets_target = excluded.meets_target`,
		job.ID, runID, job.Pair.Symbol, string(job.Pair.StrategyID), string(params), job.Iteration,
		job.ParentJobID, boolToInt(job.MLEnhanced), string(job.Phase), string(job.Status), job.Err,
		formatTime(job.CreatedAt), nullTimeVal(job.FinishedAt),
		sharpe, ret, dd, win, trades, meets,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveJob: %s: %w", job.ID, err)
	}
	return nil
}

// JobsForPair returns the jobs of a pair in a run, in dispatch order.
func (s *SQLiteStorage) JobsForPair(ctx context.Context, runID string, pair domain.PairKey) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameters, iteration, parent_job_id, ml_enhanced, phase, status, error,
		       created_at, finished_at, sharpe_ratio, total_return, max_drawdown, win_rate,
		       trade_count, meets_target
		FROM backtest_jobs
		WHERE run_id = ? AND symbol = ? AND strategy_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		runID, pair.Symbol, string(pair.StrategyID),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.JobsForPair: query: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			rec                 JobRecord
			params              string
			ml, meets           int
			phase, status       string
			created             string
			finished            sql.NullString
			sharpe, ret, dd, wr sql.NullFloat64
			trades              sql.NullInt64
		)
		if err := rows.Scan(&rec.Job.ID, &params, &rec.Job.Iteration, &rec.Job.ParentJobID, &ml,
			&phase, &status, &rec.Job.Err, &created, &finished,
			&sharpe, &ret, &dd, &wr, &trades, &meets,
		); err != nil {
			return nil, fmt.Errorf("storage.JobsForPair: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Job.Parameters); err != nil {
			return nil, fmt.Errorf("storage.JobsForPair: decode parameters: %w", err)
		}
		rec.Job.Pair = pair
		rec.Job.MLEnhanced = ml == 1
		rec.Job.Phase = domain.Phase(phase)
		rec.Job.Status = domain.JobStatus(status)
		rec.Job.CreatedAt = parseTime(created)
		if finished.Valid {
			rec.Job.FinishedAt = parseTime(finished.String)
		}
		if sharpe.Valid {
			rec.Result = &domain.BacktestResult{
				JobID:       rec.Job.ID,
				Pair:        pair,
				SharpeRatio: sharpe.Float64,
				TotalReturn: ret.Float64,
				MaxDrawdown: dd.Float64,
				WinRate:     wr.Float64,
				TradeCount:  int(trades.Int64),
				MeetsTarget: meets == 1,
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ─── Pair states ─────────────────────────────────────────────────────────────

// SavePairState stores the latest search state of a pair within a run.
func (s *SQLiteStorage) SavePairState(ctx context.Context, runID string, st domain.PairSearchState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pair_states (run_id, symbol, strategy_id, iteration_count, best_job_id,
		                         phase, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, symbol, strategy_id) DO UPDATE SET
			iteration_count = excluded.iteration_count,
			best_job_id     = excluded.best_job_id,
			phase           = excluded.phase,
			reason          = excluded.reason,
			updated_at      = excluded.updated_at`,
		runID, st.Pair.Symbol, string(st.Pair.StrategyID), st.IterationCount, st.BestJobID,
		string(st.Phase), st.Reason, formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePairState: %s: %w", st.Pair, err)
	}
	return nil
}

// GetPairState returns the stored state of a pair within a run.
func (s *SQLiteStorage) GetPairState(ctx context.Context, runID string, pair domain.PairKey) (domain.PairSearchState, bool, error) {
	st := domain.PairSearchState{Pair: pair}
	var phase, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT iteration_count, best_job_id, phase, reason, updated_at
		FROM pair_states
		WHERE run_id = ? AND symbol = ? AND strategy_id = ?`,
		runID, pair.Symbol, string(pair.StrategyID),
	).Scan(&st.IterationCount, &st.BestJobID, &phase, &st.Reason, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PairSearchState{}, false, nil
	}
	if err != nil {
		return domain.PairSearchState{}, false, fmt.Errorf("storage.GetPairState: %w", err)
	}
	st.Phase = domain.Phase(phase)
	st.UpdatedAt = parseTime(updated)
	return st, true, nil
}

// RunPairs returns the pairs searched in a run. runID may be a prefix, as
// printed by the run history; an ambiguous prefix is an error.
func (s *SQLiteStorage) RunPairs(ctx context.Context, runID string) (string, []domain.PairKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, symbol, strategy_id
		FROM pair_states
		WHERE run_id LIKE ? || '%'
		ORDER BY symbol, strategy_id`,
		runID,
	)
	if err != nil {
		return "", nil, fmt.Errorf("storage.RunPairs: query: %w", err)
	}
	defer rows.Close()

	var (
		resolved string
		pairs    []domain.PairKey
	)
	for rows.Next() {
		var id, symbol, strategy string
		if err := rows.Scan(&id, &symbol, &strategy); err != nil {
			return "", nil, fmt.Errorf("storage.RunPairs: scan row: %w", err)
		}
		if resolved != "" && id != resolved {
			return "", nil, fmt.Errorf("storage.RunPairs: run id %q is ambiguous", runID)
		}
		resolved = id
		pairs = append(pairs, domain.PairKey{Symbol: symbol, StrategyID: domain.StrategyID(strategy)})
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("storage.RunPairs: %w", err)
	}
	return resolved, pairs, nil
}
