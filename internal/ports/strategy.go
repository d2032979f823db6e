package ports

import "github.com/alejandrodnm/stratbot/internal/domain"

// Strategy es una implementación enchufable de generación de señales y sizing.
type Strategy interface {
	// ID devuelve el identificador de la estrategia.
	ID() domain.StrategyID

	// GenerateSignals evalúa la ventana visible y devuelve las señales de la vela actual.
	GenerateSignals(data domain.MarketData, sctx domain.SignalContext) []domain.Signal

	// CalculatePositionSize devuelve las unidades a comprar para la señal dada.
	CalculatePositionSize(sig domain.Signal, portfolioValue float64) float64
}

// StrategyRegistry resuelve implementaciones por id.
type StrategyRegistry interface {
	Get(id domain.StrategyID) (Strategy, bool)
}
