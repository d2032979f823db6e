package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// ParameterRegistry guarda los parámetros baseline de cada estrategia.
type ParameterRegistry interface {
	BaselineParameters(ctx context.Context, strategy domain.StrategyID) (domain.Parameters, error)
}

// TargetRegistry guarda los mínimos de rendimiento por estrategia.
type TargetRegistry interface {
	TargetThresholds(ctx context.Context, strategy domain.StrategyID) (domain.Targets, error)
}

// SchemaProvider es opcional: si el registry lo implementa, sus rangos
// se aplican a cada candidato antes de programarlo.
type SchemaProvider interface {
	ParameterBounds(ctx context.Context, strategy domain.StrategyID) (map[string]domain.Bound, error)
}
