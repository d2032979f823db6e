package strategy

// returns.go: estrategias basadas en el retorno de una ventana (lookback).
//
// No calculan indicadores técnicos: solo comparan el precio actual con el de
// hace `lookback` velas y con el precio de entrada. Los parámetros que leen:
//   - lookback:        velas de la ventana (entero, >= 2)
//   - entry_threshold: retorno de la ventana que dispara la entrada
//   - exit_threshold:  retorno sobre el precio de entrada que dispara la salida
//   - position_size:   fracción del capital por posición

import (
	"math"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

const (
	defaultLookback       = 20
	defaultEntryThreshold = 0.02
	defaultExitThreshold  = 0.04
	minLookback           = 2
)

// windowReturn devuelve el retorno entre la vela actual y la de hace lookback velas.
func windowReturn(bars []domain.Bar, lookback int) (float64, bool) {
	if lookback < minLookback || len(bars) <= lookback {
		return 0, false
	}
	past := bars[len(bars)-1-lookback].Close
	if past <= 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close/past - 1, true
}

func lookbackOf(p domain.Parameters) int {
	return int(math.Round(p.Get("lookback", defaultLookback)))
}

// Momentum compra cuando el retorno de la ventana supera entry_threshold
// y sale cuando el retorno se da la vuelta o se alcanza exit_threshold.
type Momentum struct {
	id domain.StrategyID
}

// NewMomentum crea una estrategia de momentum registrada bajo id.
func NewMomentum(id domain.StrategyID) *Momentum {
	return &Momentum{id: id}
}

// ID implementa ports.Strategy.
func (m *Momentum) ID() domain.StrategyID { return m.id }

// GenerateSignals implementa ports.Strategy.
func (m *Momentum) GenerateSignals(data domain.MarketData, sctx domain.SignalContext) []domain.Signal {
	p := sctx.Parameters
	ret, ok := windowReturn(data.Bars, lookbackOf(p))
	if !ok {
		return nil
	}
	last := data.Last()
	entry := p.Get("entry_threshold", defaultEntryThreshold)
	exit := p.Get("exit_threshold", defaultExitThreshold)

	if !sctx.InPosition {
		if ret > entry {
			return []domain.Signal{{
				Symbol:       data.Symbol,
				Action:       domain.ActionBuy,
				Price:        last.Close,
				Strength:     strength(ret, entry),
				SizeFraction: p.PositionSize(),
				Reason:       "window return above entry",
			}}
		}
		return nil
	}

	gain := last.Close/sctx.EntryPrice - 1
	if ret < 0 || gain >= exit {
		return []domain.Signal{{Symbol: data.Symbol, Action: domain.ActionSell, Price: last.Close, Reason: "momentum exit"}}
	}
	return nil
}

// CalculatePositionSize implementa ports.Strategy.
func (m *Momentum) CalculatePositionSize(sig domain.Signal, portfolioValue float64) float64 {
	return unitsFor(sig, portfolioValue)
}

// Reversion compra caídas de la ventana mayores que entry_threshold
// y sale al recuperar exit_threshold sobre el precio de entrada.
type Reversion struct {
	id domain.StrategyID
}

// NewReversion crea una estrategia de reversión registrada bajo id.
func NewReversion(id domain.StrategyID) *Reversion {
	return &Reversion{id: id}
}

// ID implementa ports.Strategy.
func (r *Reversion) ID() domain.StrategyID { return r.id }

// GenerateSignals implementa ports.Strategy.
func (r *Reversion) GenerateSignals(data domain.MarketData, sctx domain.SignalContext) []domain.Signal {
	p := sctx.Parameters
	ret, ok := windowReturn(data.Bars, lookbackOf(p))
	if !ok {
		return nil
	}
	last := data.Last()
	entry := p.Get("entry_threshold", defaultEntryThreshold)
	exit := p.Get("exit_threshold", defaultExitThreshold)

	if !sctx.InPosition {
		if ret < -entry {
			return []domain.Signal{{
				Symbol:       data.Symbol,
				Action:       domain.ActionBuy,
				Price:        last.Close,
				Strength:     strength(-ret, entry),
				SizeFraction: p.PositionSize(),
				Reason:       "window drop below entry",
			}}
		}
		return nil
	}

	if last.Close/sctx.EntryPrice-1 >= exit {
		return []domain.Signal{{Symbol: data.Symbol, Action: domain.ActionSell, Price: last.Close, Reason: "reversion target"}}
	}
	return nil
}

// CalculatePositionSize implementa ports.Strategy.
func (r *Reversion) CalculatePositionSize(sig domain.Signal, portfolioValue float64) float64 {
	return unitsFor(sig, portfolioValue)
}

// Breakout compra cuando el cierre supera el máximo de la ventana previa.
type Breakout struct {
	id domain.StrategyID
}

// NewBreakout crea una estrategia de ruptura registrada bajo id.
func NewBreakout(id domain.StrategyID) *Breakout {
	return &Breakout{id: id}
}

// ID implementa ports.Strategy.
func (b *Breakout) ID() domain.StrategyID { return b.id }

// GenerateSignals implementa ports.Strategy.
func (b *Breakout) GenerateSignals(data domain.MarketData, sctx domain.SignalContext) []domain.Signal {
	p := sctx.Parameters
	lookback := lookbackOf(p)
	if lookback < minLookback || len(data.Bars) <= lookback {
		return nil
	}
	last := data.Last()
	window := data.Bars[len(data.Bars)-1-lookback : len(data.Bars)-1]

	if !sctx.InPosition {
		high := window[0].High
		for _, bar := range window[1:] {
			high = math.Max(high, bar.High)
		}
		entry := p.Get("entry_threshold", defaultEntryThreshold)
		if high > 0 && last.Close > high*(1+entry) {
			return []domain.Signal{{
				Symbol:       data.Symbol,
				Action:       domain.ActionBuy,
				Price:        last.Close,
				Strength:     1,
				SizeFraction: p.PositionSize(),
				Reason:       "close above window high",
			}}
		}
		return nil
	}

	low := window[0].Low
	for _, bar := range window[1:] {
		low = math.Min(low, bar.Low)
	}
	exit := p.Get("exit_threshold", defaultExitThreshold)
	if last.Close < low || last.Close/sctx.EntryPrice-1 >= exit {
		return []domain.Signal{{Symbol: data.Symbol, Action: domain.ActionSell, Price: last.Close, Reason: "breakout exit"}}
	}
	return nil
}

// CalculatePositionSize implementa ports.Strategy.
func (b *Breakout) CalculatePositionSize(sig domain.Signal, portfolioValue float64) float64 {
	return unitsFor(sig, portfolioValue)
}

// strength escala la señal entre 0.5 y 1 según cuánto supera el umbral.
func strength(move, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return math.Min(1, 0.5+0.5*(move-threshold)/threshold)
}

// unitsFor convierte la fracción de capital pedida en unidades al precio de la señal.
func unitsFor(sig domain.Signal, portfolioValue float64) float64 {
	if sig.Price <= 0 || portfolioValue <= 0 || sig.SizeFraction <= 0 {
		return 0
	}
	s := sig.Strength
	if s <= 0 {
		s = 1
	}
	return portfolioValue * sig.SizeFraction * s / sig.Price
}
