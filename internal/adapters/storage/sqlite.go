package storage

// sqlite.go: persistencia del pipeline en un único fichero SQLite.
//
// Tablas:
//   - `runs`: resumen ligero por run (una fila por run, adaptado de los ciclos de scan).
//   - `schedule_state`: una sola fila (id = 1) con last_run / next_run / ventanas.
//   - `promotions`: UNA fila por par (symbol, strategy). UPSERT con versión.
//   - `promotion_audit`: histórico append-only de creaciones y actualizaciones.
//   - Ledger de búsqueda (`backtest_jobs`, `pair_states`) en ledger.go.
//   - Sink de paper trading (`paper_strategies`) en paper.go.
//
// Prune automático al arrancar: runs > 90d, jobs > 30d.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Resumen por run del pipeline
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    trigger     TEXT     NOT NULL,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    status      TEXT     NOT NULL,
    cancelled   INTEGER  NOT NULL DEFAULT 0,
    candidates  INTEGER  NOT NULL DEFAULT 0,
    pairs       INTEGER  NOT NULL DEFAULT 0,
    done        INTEGER  NOT NULL DEFAULT 0,
    failed      INTEGER  NOT NULL DEFAULT 0,
    top         INTEGER  NOT NULL DEFAULT 0,
    promoted    INTEGER  NOT NULL DEFAULT 0,
    warnings    INTEGER  NOT NULL DEFAULT 0,
    alerts      INTEGER  NOT NULL DEFAULT 0,
    best_score  REAL     NOT NULL DEFAULT 0
);

-- Estado del scheduler: una sola fila
CREATE TABLE IF NOT EXISTS schedule_state (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    last_run    DATETIME,
    next_run    DATETIME NOT NULL,
    run_windows TEXT     NOT NULL DEFAULT '[]'
);

-- Una fila por par promovido, sin duplicados
CREATE TABLE IF NOT EXISTS promotions (
    symbol         TEXT    NOT NULL,
    strategy_id    TEXT    NOT NULL,
    job_id         TEXT    NOT NULL,
    parameters     TEXT    NOT NULL,
    metrics        TEXT    NOT NULL,
    combined_score REAL    NOT NULL DEFAULT 0,
    promoted       INTEGER NOT NULL DEFAULT 1,
    promoted_at    DATETIME NOT NULL,
    version        INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (symbol, strategy_id)
);

CREATE TABLE IF NOT EXISTS promotion_audit (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT    NOT NULL,
    symbol         TEXT    NOT NULL,
    strategy_id    TEXT    NOT NULL,
    action         TEXT    NOT NULL,
    version        INTEGER NOT NULL,
    combined_score REAL    NOT NULL DEFAULT 0,
    recorded_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started   ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_promo_combined ON promotions(combined_score DESC);
CREATE INDEX IF NOT EXISTS idx_audit_pair     ON promotion_audit(symbol, strategy_id);
`

// timeFormat es de ancho fijo para que el orden lexicográfico coincida con el cronológico.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const (
	retentionRuns = 90 * 24 * time.Hour // runs: 90 días
	retentionJobs = 30 * 24 * time.Hour // jobs del ledger: 30 días
)

// AuditEntry es una fila del audit log de promociones.
type AuditEntry struct {
	RunID         string
	Pair          domain.PairKey
	Action        string
	Version       int
	CombinedScore float64
	RecordedAt    time.Time
}

// SQLiteStorage implementa los stores del pipeline usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema (incluido el ledger) y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	for _, ddl := range []string{schema, ledgerSchema} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
		}
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveRun persiste el resumen de un run. Reescribe la fila si el run_id ya existe.
func (s *SQLiteStorage) SaveRun(ctx context.Context, r domain.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, trigger, started_at, finished_at, status, cancelled,
		                  candidates, pairs, done, failed, top, promoted, warnings, alerts, best_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status      = excluded.status,
			cancelled   = excluded.cancelled,
			candidates  = excluded.candidates,
			pairs       = excluded.pairs,
			done        = excluded.done,
			failed      = excluded.failed,
			top         = excluded.top,
			promoted    = excluded.promoted,
			warnings    = excluded.warnings,
			alerts      = excluded.alerts,
			best_score  = excluded.best_score`,
		r.RunID, string(r.Trigger), formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Status,
		boolToInt(r.Cancelled), r.Candidates, r.Pairs, r.Done, r.Failed, r.Top, r.Promoted,
		r.Warnings, r.Alerts, r.BestScore,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: %w", err)
	}
	return nil
}

// RecentRuns devuelve los últimos n runs, el más reciente primero.
func (s *SQLiteStorage) RecentRuns(ctx context.Context, n int) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, trigger, started_at, finished_at, status, cancelled,
		       candidates, pairs, done, failed, top, promoted, warnings, alerts, best_score
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentRuns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var (
			r                 domain.RunSummary
			trigger           string
			started, finished string
			cancelled         int
		)
		if err := rows.Scan(&r.RunID, &trigger, &started, &finished, &r.Status, &cancelled,
			&r.Candidates, &r.Pairs, &r.Done, &r.Failed, &r.Top, &r.Promoted,
			&r.Warnings, &r.Alerts, &r.BestScore,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentRuns: scan row: %w", err)
		}
		r.Trigger = domain.Trigger(trigger)
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Cancelled = cancelled == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSchedule devuelve el estado persistido del scheduler. ok=false si no hay ninguno.
func (s *SQLiteStorage) LoadSchedule(ctx context.Context) (domain.ScheduleState, bool, error) {
	var (
		lastRun sql.NullString
		nextRun string
		windows string
		st      domain.ScheduleState
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run, next_run, run_windows FROM schedule_state WHERE id = 1`,
	).Scan(&lastRun, &nextRun, &windows)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleState{}, false, nil
	}
	if err != nil {
		return domain.ScheduleState{}, false, fmt.Errorf("storage.LoadSchedule: %w", err)
	}

	if lastRun.Valid {
		st.LastRun = parseTime(lastRun.String)
	}
	st.NextRun = parseTime(nextRun)
	if err := json.Unmarshal([]byte(windows), &st.RunWindows); err != nil {
		return domain.ScheduleState{}, false, fmt.Errorf("storage.LoadSchedule: decode windows: %w", err)
	}
	return st, true, nil
}

// SaveSchedule persiste el estado del scheduler. Rechaza estados con next_run <= last_run.
func (s *SQLiteStorage) SaveSchedule(ctx context.Context, st domain.ScheduleState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("storage.SaveSchedule: %w", err)
	}
	windows, err := json.Marshal(st.RunWindows)
	if err != nil {
		return fmt.Errorf("storage.SaveSchedule: encode windows: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (id, last_run, next_run, run_windows)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_run    = excluded.last_run,
			next_run    = excluded.next_run,
			run_windows = excluded.run_windows`,
		nullTimeVal(st.LastRun), formatTime(st.NextRun), string(windows),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSchedule: %w", err)
	}
	return nil
}

// UpsertPromotion crea o actualiza la promoción del par. Nunca duplica:
// una segunda promoción del mismo (symbol, strategy) incrementa la versión.
func (s *SQLiteStorage) UpsertPromotion(ctx context.Context, rec domain.PromotionRecord) (domain.PromotionRecord, bool, error) {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: encode parameters: %w", err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: encode metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: begin tx: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM promotions WHERE symbol = ? AND strategy_id = ?`,
		rec.Symbol, string(rec.StrategyID),
	).Scan(&version)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: lookup: %w", err)
	}
	rec.Version = version + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO promotions (symbol, strategy_id, job_id, parameters, metrics,
		                        combined_score, promoted, promoted_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, strategy_id) DO UPDATE SET
			job_id         = excluded.job_id,
			parameters     = excluded.parameters,
			metrics        = excluded.metrics,
			combined_score = excluded.combined_score,
			promoted       = excluded.promoted,
			promoted_at    = excluded.promoted_at,
			version        = excluded.version`,
		rec.Symbol, string(rec.StrategyID), rec.JobID, string(params), string(metrics),
		rec.CombinedScore, boolToInt(rec.Promoted), formatTime(rec.PromotedAt), rec.Version,
	); err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: upsert %s: %w", rec.Pair(), err)
	}

	if err := tx.Commit(); err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.UpsertPromotion: commit: %w", err)
	}
	return rec, created, nil
}

// GetPromotion devuelve la promoción de un par, si existe.
func (s *SQLiteStorage) GetPromotion(ctx context.Context, pair domain.PairKey) (domain.PromotionRecord, bool, error) {
	recs, err := s.queryPromotions(ctx,
		`WHERE symbol = ? AND strategy_id = ?`, pair.Symbol, string(pair.StrategyID))
	if err != nil {
		return domain.PromotionRecord{}, false, fmt.Errorf("storage.GetPromotion: %w", err)
	}
	if len(recs) == 0 {
		return domain.PromotionRecord{}, false, nil
	}
	return recs[0], true, nil
}

// ListPromotions devuelve todas las promociones, mejor combined score primero.
func (s *SQLiteStorage) ListPromotions(ctx context.Context) ([]domain.PromotionRecord, error) {
	recs, err := s.queryPromotions(ctx, `ORDER BY combined_score DESC, symbol ASC, strategy_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPromotions: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStorage) queryPromotions(ctx context.Context, where string, args ...any) ([]domain.PromotionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, strategy_id, job_id, parameters, metrics,
		       combined_score, promoted, promoted_at, version
		FROM promotions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.PromotionRecord
	for rows.Next() {
		var (
			rec                 domain.PromotionRecord
			strategy            string
			params, metrics, at string
			promoted            int
		)
		if err := rows.Scan(&rec.Symbol, &strategy, &rec.JobID, &params, &metrics,
			&rec.CombinedScore, &promoted, &at, &rec.Version,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		rec.StrategyID = domain.StrategyID(strategy)
		rec.Promoted = promoted == 1
		rec.PromotedAt = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendAudit añade una entrada al audit log de promociones.
func (s *SQLiteStorage) AppendAudit(ctx context.Context, runID string, rec domain.PromotionRecord, action string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promotion_audit (run_id, symbol, strategy_id, action, version, combined_score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Symbol, string(rec.StrategyID), action, rec.Version, rec.CombinedScore,
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendAudit: %w", err)
	}
	return nil
}

// AuditTrail devuelve el histórico de un par en orden cronológico.
func (s *SQLiteStorage) AuditTrail(ctx context.Context, pair domain.PairKey) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, action, version, combined_score, recorded_at
		FROM promotion_audit
		WHERE symbol = ? AND strategy_id = ?
		ORDER BY id ASC`, pair.Symbol, string(pair.StrategyID))
	if err != nil {
		return nil, fmt.Errorf("storage.AuditTrail: query: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		e := AuditEntry{Pair: pair}
		var at string
		if err := rows.Scan(&e.RunID, &e.Action, &e.Version, &e.CombinedScore, &at); err != nil {
			return nil, fmt.Errorf("storage.AuditTrail: scan row: %w", err)
		}
		e.RecordedAt = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoffRuns := formatTime(s.now().Add(-retentionRuns))
	cutoffJobs := formatTime(s.now().Add(-retentionJobs))
	s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoffRuns)
	s.db.ExecContext(ctx, `DELETE FROM backtest_jobs WHERE created_at < ?`, cutoffJobs)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTimeVal(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
