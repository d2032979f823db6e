package domain

import "time"

// BacktestResult es el resultado de un job. Inmutable una vez producido.
type BacktestResult struct {
	JobID       string
	Pair        PairKey
	SharpeRatio float64
	TotalReturn float64 // fracción: 0.128 = 12.8%
	MaxDrawdown float64 // fracción positiva
	WinRate     float64 // fracción
	TradeCount  int
	MeetsTarget bool

	ForcedExits int  // cierres por max_position_drawdown
	Halted      bool // se alcanzó max_portfolio_drawdown
}

// WithTarget devuelve una copia con MeetsTarget fijado.
func (r BacktestResult) WithTarget(meets bool) BacktestResult {
	r.MeetsTarget = meets
	return r
}

// Better devuelve true si a es estrictamente mejor que b:
// Sharpe descendente y, en empate, total return descendente.
func Better(a, b BacktestResult) bool {
	if a.SharpeRatio != b.SharpeRatio {
		return a.SharpeRatio > b.SharpeRatio
	}
	return a.TotalReturn > b.TotalReturn
}

// BestResult devuelve el mejor resultado de la lista. En empate total gana el primero.
func BestResult(results []BacktestResult) (BacktestResult, bool) {
	if len(results) == 0 {
		return BacktestResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if Better(r, best) {
			best = r
		}
	}
	return best, true
}

// Targets son los mínimos de rendimiento de una estrategia.
type Targets struct {
	MinSharpe      float64 `yaml:"min_sharpe"`
	MinTotalReturn float64 `yaml:"min_total_return"`
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	MinWinRate     float64 `yaml:"min_win_rate"`
}

// Met devuelve true solo si se cumplen los cuatro targets.
func (t Targets) Met(r BacktestResult) bool {
	return r.SharpeRatio >= t.MinSharpe &&
		r.TotalReturn >= t.MinTotalReturn &&
		r.MaxDrawdown <= t.MaxDrawdown &&
		r.WinRate >= t.MinWinRate
}

// RankedStrategy es la mejor combinación de un par, con su score global.
type RankedStrategy struct {
	Rank          int
	Pair          PairKey
	Parameters    Parameters
	Result        BacktestResult
	CombinedScore float64
	Phase         Phase
}

// MetricsSnapshot es la foto de métricas guardada con una promoción.
type MetricsSnapshot struct {
	SharpeRatio float64 `json:"sharpe_ratio"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	TradeCount  int     `json:"trade_count"`
}

// SnapshotOf extrae las métricas de un resultado.
func SnapshotOf(r BacktestResult) MetricsSnapshot {
	return MetricsSnapshot{
		SharpeRatio: r.SharpeRatio,
		TotalReturn: r.TotalReturn,
		MaxDrawdown: r.MaxDrawdown,
		WinRate:     r.WinRate,
		TradeCount:  r.TradeCount,
	}
}

// PromotionRecord marca un par como apto para paper trading.
// Idempotente en (symbol, strategy): una nueva promoción actualiza, no duplica.
type PromotionRecord struct {
	Symbol        string
	StrategyID    StrategyID
	JobID         string
	Parameters    Parameters
	Metrics       MetricsSnapshot
	CombinedScore float64
	PromotedAt    time.Time
	Promoted      bool
	Version       int // 1 en la creación, +1 por cada actualización
}

// Pair devuelve la clave del par promovido.
func (r PromotionRecord) Pair() PairKey {
	return PairKey{Symbol: r.Symbol, StrategyID: r.StrategyID}
}

// PaperAck es la confirmación del sink de paper trading.
type PaperAck struct {
	Reference  string
	AcceptedAt time.Time
}
