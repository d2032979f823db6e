package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

const paperSchema = `
CREATE TABLE IF NOT EXISTS paper_strategies (
    reference      TEXT PRIMARY KEY,
    symbol         TEXT NOT NULL,
    strategy_id    TEXT NOT NULL,
    job_id         TEXT NOT NULL,
    parameters     TEXT NOT NULL,
    combined_score REAL NOT NULL DEFAULT 0,
    version        INTEGER NOT NULL DEFAULT 1,
    status         TEXT NOT NULL DEFAULT 'ACTIVE',
    accepted_at    DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_paper_strategies_pair ON paper_strategies(symbol, strategy_id);
`

// PaperStrategy is a promoted strategy running in paper trading.
type PaperStrategy struct {
	Reference     string
	Pair          domain.PairKey
	JobID         string
	Parameters    domain.Parameters
	CombinedScore float64
	Version       int
	Status        string
	AcceptedAt    time.Time
}

// ApplyPaperSchema creates the paper trading tables if they don't exist.
func (s *SQLiteStorage) ApplyPaperSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, paperSchema); err != nil {
		return fmt.Errorf("storage.ApplyPaperSchema: %w", err)
	}
	return nil
}

// AcceptPromotion registers a promoted strategy for paper trading.
// A pair already in paper trading keeps its reference and gets the new parameters.
func (s *SQLiteStorage) AcceptPromotion(ctx context.Context, rec domain.PromotionRecord) (domain.PaperAck, error) {
	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return domain.PaperAck{}, fmt.Errorf("storage.AcceptPromotion: encode parameters: %w", err)
	}
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_strategies (reference, symbol, strategy_id, job_id, parameters,
		                              combined_score, version, status, accepted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'ACTIVE', ?, ?)
		ON CONFLICT(symbol, strategy_id) DO UPDATE SET
			job_id         = excluded.job_id,
			parameters     = excluded.parameters,
			combined_score = excluded.combined_score,
			version        = excluded.version,
			status         = 'ACTIVE',
			updated_at     = excluded.updated_at`,
		uuid.NewString(), rec.Symbol, string(rec.StrategyID), rec.JobID, string(params),
		rec.CombinedScore, rec.Version, formatTime(now), formatTime(now),
	)
	if err != nil {
		return domain.PaperAck{}, fmt.Errorf("storage.AcceptPromotion: %s: %w", rec.Pair(), err)
	}

	var ref string
	err = s.db.QueryRowContext(ctx,
		`SELECT reference FROM paper_strategies WHERE symbol = ? AND strategy_id = ?`,
		rec.Symbol, string(rec.StrategyID),
	).Scan(&ref)
	if err != nil {
		return domain.PaperAck{}, fmt.Errorf("storage.AcceptPromotion: read reference: %w", err)
	}
	return domain.PaperAck{Reference: ref, AcceptedAt: now}, nil
}

// GetPaperStrategy returns the paper trading entry of a pair, if any.
func (s *SQLiteStorage) GetPaperStrategy(ctx context.Context, pair domain.PairKey) (PaperStrategy, bool, error) {
	out, err := s.queryPaperStrategies(ctx, `WHERE symbol = ? AND strategy_id = ?`, pair.Symbol, string(pair.StrategyID))
	if err != nil {
		return PaperStrategy{}, false, fmt.Errorf("storage.GetPaperStrategy: %w", err)
	}
	if len(out) == 0 {
		return PaperStrategy{}, false, nil
	}
	return out[0], true, nil
}

// ListPaperStrategies returns all strategies in paper trading, best score first.
func (s *SQLiteStorage) ListPaperStrategies(ctx context.Context) ([]PaperStrategy, error) {
	out, err := s.queryPaperStrategies(ctx, `ORDER BY combined_score DESC, symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPaperStrategies: %w", err)
	}
	return out, nil
}

func (s *SQLiteStorage) queryPaperStrategies(ctx context.Context, where string, args ...any) ([]PaperStrategy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference, symbol, strategy_id, job_id, parameters, combined_score,
		       version, status, accepted_at
		FROM paper_strategies `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []PaperStrategy
	for rows.Next() {
		var (
			p        PaperStrategy
			strategy string
			params   string
			accepted string
		)
		if err := rows.Scan(&p.Reference, &p.Pair.Symbol, &strategy, &p.JobID, &params,
			&p.CombinedScore, &p.Version, &p.Status, &accepted,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &p.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		p.Pair.StrategyID = domain.StrategyID(strategy)
		p.AcceptedAt = parseTime(accepted)
		out = append(out, p)
	}
	return out, rows.Err()
}
