package domain

// StrategyID identifica una familia de estrategia.
type StrategyID string

const (
	StrategyTrendFollowing     StrategyID = "trend_following"
	StrategyMeanReversion      StrategyID = "mean_reversion"
	StrategyVolatilityBreakout StrategyID = "volatility_breakout"
	StrategyBalanced           StrategyID = "balanced"
	StrategyContrarian         StrategyID = "contrarian"
	StrategyMomentum           StrategyID = "momentum"
)

// AllStrategies lista todas las estrategias conocidas, en orden estable.
var AllStrategies = []StrategyID{
	StrategyTrendFollowing,
	StrategyMeanReversion,
	StrategyVolatilityBreakout,
	StrategyBalanced,
	StrategyContrarian,
	StrategyMomentum,
}

func (s StrategyID) String() string { return string(s) }

// StrategyAssignment es la estrategia elegida para un símbolo y la traza de reglas aplicadas.
type StrategyAssignment struct {
	Symbol     string
	StrategyID StrategyID
	Base       StrategyID // resultado de las reglas base, antes de overrides
	Trace      []string
}

// SignalAction es la acción que propone una estrategia en una vela.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Signal es una señal emitida por una estrategia.
type Signal struct {
	Symbol   string
	Action   SignalAction
	Price    float64
	Strength float64 // 0..1, usado para el sizing
	// SizeFraction es la fracción del capital pedida (position_size del set de parámetros).
	SizeFraction float64
	Reason       string
}

// MarketData es la ventana de precios visible para la estrategia en una vela.
// Bars termina en la vela actual: nunca incluye datos futuros.
type MarketData struct {
	Symbol string
	Bars   []Bar
}

// Last devuelve la última vela disponible.
func (m MarketData) Last() Bar {
	if len(m.Bars) == 0 {
		return Bar{}
	}
	return m.Bars[len(m.Bars)-1]
}

// SignalContext es el estado de la simulación que ve la estrategia.
type SignalContext struct {
	Parameters     Parameters
	PortfolioValue float64
	InPosition     bool
	EntryPrice     float64
}
