package discovery

import (
	"github.com/alejandrodnm/stratbot/internal/domain"
)

// FilterConfig contiene los mínimos de liquidez y actividad de un candidato.
type FilterConfig struct {
	// MinVolume descarta símbolos con volumen medio menor.
	MinVolume float64
	// MinNews descarta símbolos con menos artículos en las últimas 24h.
	MinNews int
}

// DefaultFilterConfig devuelve los mínimos por defecto: 500k de volumen y 3 noticias.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinVolume: 500_000,
		MinNews:   3,
	}
}

// Filter aplica los mínimos configurados sobre el pool de candidatos.
type Filter struct {
	cfg FilterConfig
}

// NewFilter crea un Filter con la configuración dada.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply devuelve los candidatos que pasan todos los filtros, en el mismo orden.
func (f *Filter) Apply(cands []domain.Candidate) []domain.Candidate {
	result := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if f.passes(c) {
			result = append(result, c)
		}
	}
	return result
}

// passes: ambos mínimos son inclusivos.
func (f *Filter) passes(c domain.Candidate) bool {
	if c.NewsCount24h < f.cfg.MinNews {
		return false
	}
	if c.Volume < f.cfg.MinVolume {
		return false
	}
	return true
}
