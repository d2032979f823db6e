package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Thresholds son los cinco mínimos que debe cumplir un par para pasar a paper trading.
type Thresholds struct {
	MinCombinedScore float64
	MinSharpe        float64
	MinTotalReturn   float64
	MaxDrawdown      float64
	MinWinRate       float64
}

// DefaultThresholds: combined ≥ 0.85, sharpe ≥ 1.5, return ≥ 10%, drawdown ≤ 8%, win rate ≥ 55%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCombinedScore: 0.85,
		MinSharpe:        1.5,
		MinTotalReturn:   0.10,
		MaxDrawdown:      0.08,
		MinWinRate:       0.55,
	}
}

// Check devuelve los umbrales que no se cumplen. Vacío significa promocionable.
func (t Thresholds) Check(r domain.RankedStrategy) []string {
	var failed []string
	if r.CombinedScore < t.MinCombinedScore {
		failed = append(failed, fmt.Sprintf("combined %.4f < %.4f", r.CombinedScore, t.MinCombinedScore))
	}
	if r.Result.SharpeRatio < t.MinSharpe {
		failed = append(failed, fmt.Sprintf("sharpe %.4f < %.4f", r.Result.SharpeRatio, t.MinSharpe))
	}
	if r.Result.TotalReturn < t.MinTotalReturn {
		failed = append(failed, fmt.Sprintf("return %.4f < %.4f", r.Result.TotalReturn, t.MinTotalReturn))
	}
	if r.Result.MaxDrawdown > t.MaxDrawdown {
		failed = append(failed, fmt.Sprintf("drawdown %.4f > %.4f", r.Result.MaxDrawdown, t.MaxDrawdown))
	}
	if r.Result.WinRate < t.MinWinRate {
		failed = append(failed, fmt.Sprintf("win rate %.4f < %.4f", r.Result.WinRate, t.MinWinRate))
	}
	return failed
}

// Alerter recibe las alertas no fatales del gate (fallos del paper sink).
type Alerter interface {
	Alert(kind domain.AlertKind, pair domain.PairKey, msg string)
}

// Gate decide y registra promociones.
type Gate struct {
	thresholds Thresholds
	store      ports.PromotionStore
	audit      ports.AuditLog
	sink       ports.PaperSink
	now        func() time.Time
}

// New crea un Gate. audit y sink pueden ser nil.
func New(t Thresholds, store ports.PromotionStore, audit ports.AuditLog, sink ports.PaperSink) *Gate {
	return &Gate{thresholds: t, store: store, audit: audit, sink: sink, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Promote promociona el par si cumple los cinco umbrales a la vez.
// Devuelve nil si no los cumple. Promocionar un par ya promovido actualiza
// su registro (métricas, parámetros, fecha) en lugar de duplicarlo.
// Solo los fallos del store o del audit log devuelven error.
func (g *Gate) Promote(ctx context.Context, runID string, r domain.RankedStrategy, alerts Alerter) (*domain.PromotionRecord, error) {
	if failed := g.thresholds.Check(r); len(failed) > 0 {
		slog.Debug("promotion rejected",
			"pair", r.Pair.String(),
			"failed", failed,
		)
		return nil, nil
	}

	rec := domain.PromotionRecord{
		Symbol:        r.Pair.Symbol,
		StrategyID:    r.Pair.StrategyID,
		JobID:         r.Result.JobID,
		Parameters:    r.Parameters.Clone(),
		Metrics:       domain.SnapshotOf(r.Result),
		CombinedScore: r.CombinedScore,
		PromotedAt:    g.now().UTC(),
		Promoted:      true,
	}

	saved, created, err := g.store.UpsertPromotion(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("promotion.Promote: upsert %s: %w: %w", r.Pair, domain.ErrInfrastructure, err)
	}

	action := "created"
	if !created {
		action = "updated"
		slog.Info("promotion conflict resolved by update",
			"pair", r.Pair.String(),
			"version", saved.Version,
			"err", domain.ErrPromotionConflict,
		)
	}

	if g.audit != nil {
		if err := g.audit.AppendAudit(ctx, runID, saved, action); err != nil {
			return &saved, fmt.Errorf("promotion.Promote: audit %s: %w: %w", r.Pair, domain.ErrInfrastructure, err)
		}
	}

	if g.sink != nil {
		ack, err := g.sink.AcceptPromotion(ctx, saved)
		if err != nil {
			msg := fmt.Sprintf("paper sink rejected promotion: %v", err)
			slog.Warn("paper sink error", "pair", r.Pair.String(), "err", err)
			if alerts != nil {
				alerts.Alert(domain.AlertPaperSink, r.Pair, msg)
			}
		} else {
			slog.Debug("paper sink accepted promotion", "pair", r.Pair.String(), "ref", ack.Reference)
		}
	}

	slog.Info("strategy promoted",
		"pair", r.Pair.String(),
		"action", action,
		"version", saved.Version,
		"combined", fmt.Sprintf("%.4f", r.CombinedScore),
		"sharpe", fmt.Sprintf("%.4f", r.Result.SharpeRatio),
	)
	return &saved, nil
}
