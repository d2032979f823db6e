package search

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// GridGenerator perturba el baseline dentro de ±spread en cada parámetro numérico.
// La semilla sale del par: el mismo par genera siempre las mismas variantes.
type GridGenerator struct {
	spread float64
	rng    *rand.Rand
}

// NewGridGenerator crea el generador determinista de un par.
func NewGridGenerator(pair domain.PairKey, spread float64) *GridGenerator {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pair.String()))
	seed := h.Sum64()
	return &GridGenerator{
		spread: spread,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Variant devuelve una perturbación de base: cada valor × (1 + U(−spread, spread)).
func (g *GridGenerator) Variant(base domain.Parameters) domain.Parameters {
	out := make(domain.Parameters, len(base))
	for _, k := range base.Keys() {
		factor := 1 + (g.rng.Float64()*2-1)*g.spread
		out[k] = base[k] * factor
	}
	return out
}

// Generate devuelve hasta n variantes válidas según schema, distintas del baseline
// y entre sí. Devuelve también cuántas rechazó el guard.
func (g *GridGenerator) Generate(base domain.Parameters, n int, schema domain.ParamSchema) (variants []domain.Parameters, rejected int) {
	if n <= 0 {
		return nil, 0
	}
	maxAttempts := 4 * n
	for attempt := 0; attempt < maxAttempts && len(variants) < n; attempt++ {
		v := g.Variant(base)
		if err := schema.Validate(v); err != nil {
			rejected++
			continue
		}
		if v.Equal(base) || containsParams(variants, v) {
			continue
		}
		variants = append(variants, v)
	}
	return variants, rejected
}

func containsParams(list []domain.Parameters, p domain.Parameters) bool {
	for _, q := range list {
		if q.Equal(p) {
			return true
		}
	}
	return false
}
