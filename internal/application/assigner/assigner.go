// Package assigner elige la familia de estrategia de cada candidato.
//
// Dos pasadas explícitas y ordenadas: primero las reglas base (gana la primera
// que se cumple), después los overrides por sentimiento, que pueden reemplazar
// el resultado base pero nunca ser reemplazados por él.
package assigner

import (
	"fmt"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Thresholds contiene los umbrales de las reglas.
type Thresholds struct {
	RSIOverbought   float64
	RSIOversold     float64
	VIXHigh         float64
	ContrarianBelow float64 // sentiment < x → contrarian
	MomentumAbove   float64 // sentiment > x → momentum
}

// DefaultThresholds: RSI 70/30, VIX 25, sentimiento ±0.6.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOverbought:   70,
		RSIOversold:     30,
		VIXHigh:         25,
		ContrarianBelow: -0.6,
		MomentumAbove:   0.6,
	}
}

// Rule es una regla base: predicado sobre los indicadores → estrategia.
type Rule struct {
	Name     string
	Matches  func(s domain.IndicatorSnapshot) bool
	Strategy domain.StrategyID
}

// Override es una regla de la segunda pasada: puede cambiar la estrategia base.
type Override struct {
	Name     string
	Matches  func(sentiment float64, current domain.StrategyID) bool
	Strategy domain.StrategyID
}

// Assigner evalúa la tabla de reglas. Puro y determinista.
type Assigner struct {
	rules     []Rule
	overrides []Override
	fallback  domain.StrategyID
}

// New construye el Assigner con la tabla de reglas estándar.
func New(t Thresholds) *Assigner {
	return &Assigner{
		rules: []Rule{
			{
				Name:     "ma_50 > ma_200",
				Matches:  func(s domain.IndicatorSnapshot) bool { return s.MA50 > s.MA200 },
				Strategy: domain.StrategyTrendFollowing,
			},
			{
				Name: fmt.Sprintf("rsi > %g || rsi < %g", t.RSIOverbought, t.RSIOversold),
				Matches: func(s domain.IndicatorSnapshot) bool {
					return s.RSI > t.RSIOverbought || s.RSI < t.RSIOversold
				},
				Strategy: domain.StrategyMeanReversion,
			},
			{
				Name:     fmt.Sprintf("vix > %g", t.VIXHigh),
				Matches:  func(s domain.IndicatorSnapshot) bool { return s.VIX > t.VIXHigh },
				Strategy: domain.StrategyVolatilityBreakout,
			},
		},
		overrides: []Override{
			{
				Name: fmt.Sprintf("sentiment < %g && base != mean_reversion", t.ContrarianBelow),
				Matches: func(sent float64, current domain.StrategyID) bool {
					return sent < t.ContrarianBelow && current != domain.StrategyMeanReversion
				},
				Strategy: domain.StrategyContrarian,
			},
			{
				Name: fmt.Sprintf("sentiment > %g", t.MomentumAbove),
				Matches: func(sent float64, _ domain.StrategyID) bool {
					return sent > t.MomentumAbove
				},
				Strategy: domain.StrategyMomentum,
			},
		},
		fallback: domain.StrategyBalanced,
	}
}

// Default devuelve el Assigner con los umbrales por defecto.
func Default() *Assigner {
	return New(DefaultThresholds())
}

// Assign aplica las reglas base y después los overrides en orden.
// La traza registra cada regla aplicada.
func (a *Assigner) Assign(symbol string, snap domain.IndicatorSnapshot, sentiment float64) domain.StrategyAssignment {
	out := domain.StrategyAssignment{Symbol: symbol, StrategyID: a.fallback}

	matched := false
	for _, r := range a.rules {
		if r.Matches(snap) {
			out.StrategyID = r.Strategy
			out.Trace = append(out.Trace, "base: "+r.Name+" → "+string(r.Strategy))
			matched = true
			break
		}
	}
	if !matched {
		out.Trace = append(out.Trace, "base: default → "+string(a.fallback))
	}
	out.Base = out.StrategyID

	for _, o := range a.overrides {
		if o.Matches(sentiment, out.Base) {
			out.StrategyID = o.Strategy
			out.Trace = append(out.Trace, "override: "+o.Name+" → "+string(o.Strategy))
		}
	}
	return out
}
