package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// PriorResult es un resultado previo del par que se envía al optimizador.
type PriorResult struct {
	Iteration  int
	Parameters domain.Parameters
	Result     domain.BacktestResult
}

// Optimizer sugiere parámetros a partir del historial del par.
type Optimizer interface {
	// SuggestParameters devuelve nil (sin error) si no tiene nada que sugerir.
	// Un error se trata como domain.ErrOptimizerUnavailable.
	SuggestParameters(ctx context.Context, symbol string, strategy domain.StrategyID, prior []PriorResult) (domain.Parameters, error)
}
