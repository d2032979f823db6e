package strategy

import (
	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Registry mantiene las estrategias disponibles indexadas por id.
type Registry map[domain.StrategyID]ports.Strategy

// NewRegistry crea un registry vacío.
func NewRegistry() Registry {
	return make(Registry)
}

// Default registra una implementación para cada estrategia conocida.
// Las familias de tendencia usan Momentum; las de reversión, Reversion.
func Default() Registry {
	r := NewRegistry()
	r.Register(NewMomentum(domain.StrategyTrendFollowing))
	r.Register(NewMomentum(domain.StrategyMomentum))
	r.Register(NewBreakout(domain.StrategyVolatilityBreakout))
	r.Register(NewMomentum(domain.StrategyBalanced))
	r.Register(NewReversion(domain.StrategyMeanReversion))
	r.Register(NewReversion(domain.StrategyContrarian))
	return r
}

// Register añade una estrategia al registry.
func (r Registry) Register(s ports.Strategy) {
	r[s.ID()] = s
}

// Get devuelve la estrategia por id.
func (r Registry) Get(id domain.StrategyID) (ports.Strategy, bool) {
	s, ok := r[id]
	return s, ok
}
