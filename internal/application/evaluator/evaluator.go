package evaluator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Evaluator compara un resultado contra los targets de su estrategia.
type Evaluator struct {
	targets ports.TargetRegistry
}

// New crea un Evaluator.
func New(targets ports.TargetRegistry) *Evaluator {
	return &Evaluator{targets: targets}
}

// Evaluate devuelve true solo si se cumplen los cuatro targets.
// Si el registry falla el resultado cuenta como no cumplido y se devuelve el error
// para que el llamador lo registre como warning.
func (e *Evaluator) Evaluate(ctx context.Context, result domain.BacktestResult, strategy domain.StrategyID) (bool, error) {
	t, err := e.targets.TargetThresholds(ctx, strategy)
	if err != nil {
		return false, fmt.Errorf("evaluator.Evaluate: targets for %s: %w", strategy, err)
	}

	met := t.Met(result)
	slog.Debug("evaluated result",
		"pair", result.Pair.String(),
		"job_id", result.JobID,
		"sharpe", fmt.Sprintf("%.4f", result.SharpeRatio),
		"return", fmt.Sprintf("%.4f", result.TotalReturn),
		"drawdown", fmt.Sprintf("%.4f", result.MaxDrawdown),
		"win_rate", fmt.Sprintf("%.4f", result.WinRate),
		"meets_target", met,
	)
	return met, nil
}
