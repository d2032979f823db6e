package backtest

// engine.go: simulación vela a vela de una estrategia sobre el histórico de un símbolo.
//
// Por cada vela:
// 1. Marca a mercado la posición abierta
// 2. Cierra forzosamente si la pérdida no realizada supera max_position_drawdown
// 3. Si el drawdown de la cartera supera max_portfolio_drawdown, liquida y deja de operar
// 4. Pide señales a la estrategia con las velas hasta la actual (nunca futuras)
// 5. Ejecuta las señales con slippage y comisión por unidad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// SimulationConfig es fija por run.
type SimulationConfig struct {
	Slippage             float64 // fracción del precio que se pierde en cada fill
	CommissionPerUnit    float64 // comisión por unidad operada, en moneda
	MaxPositionDrawdown  float64 // pérdida no realizada que fuerza el cierre
	MaxPortfolioDrawdown float64 // drawdown de cartera que detiene la simulación
	InitialCapital       float64
	HistoryWindow        int // velas de histórico pedidas al proveedor
	PeriodsPerYear       int // para anualizar el Sharpe
}

// DefaultSimulationConfig devuelve la configuración por defecto.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Slippage:             0.001,
		CommissionPerUnit:    0.35,
		MaxPositionDrawdown:  0.10,
		MaxPortfolioDrawdown: 0.20,
		InitialCapital:       100_000,
		HistoryWindow:        252,
		PeriodsPerYear:       252,
	}
}

// Engine ejecuta backtests. No guarda estado entre ejecuciones: es seguro
// usarlo desde varios controllers a la vez.
type Engine struct {
	cfg        SimulationConfig
	market     ports.MarketProvider
	strategies ports.StrategyRegistry
}

// New crea un Engine. Los campos a cero de cfg toman el valor por defecto.
func New(cfg SimulationConfig, market ports.MarketProvider, strategies ports.StrategyRegistry) *Engine {
	def := DefaultSimulationConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = def.PeriodsPerYear
	}
	if cfg.MaxPositionDrawdown <= 0 {
		cfg.MaxPositionDrawdown = def.MaxPositionDrawdown
	}
	if cfg.MaxPortfolioDrawdown <= 0 {
		cfg.MaxPortfolioDrawdown = def.MaxPortfolioDrawdown
	}
	return &Engine{cfg: cfg, market: market, strategies: strategies}
}

// Config devuelve la configuración efectiva.
func (e *Engine) Config() SimulationConfig { return e.cfg }

// Execute simula la estrategia con los parámetros dados.
// Devuelve (nil, nil) si no hay histórico para el símbolo (ErrDataUnavailable o
// menos de dos velas): el llamador lo trata como skip y no consume iteración.
// Cualquier otro fallo del proveedor se devuelve como error de ejecución.
func (e *Engine) Execute(ctx context.Context, symbol string, strategyID domain.StrategyID, params domain.Parameters) (*domain.BacktestResult, error) {
	strat, ok := e.strategies.Get(strategyID)
	if !ok {
		return nil, fmt.Errorf("backtest.Execute: %w: %s", domain.ErrUnknownStrategy, strategyID)
	}

	bars, err := e.market.PriceHistory(ctx, symbol, e.cfg.HistoryWindow)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backtest.Execute: price history: %w", ctxErr)
		}
		if errors.Is(err, domain.ErrDataUnavailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("backtest.Execute: price history %s: %w", symbol, err)
	}
	if len(bars) < 2 {
		return nil, nil
	}

	sim := newSimulation(e.cfg, symbol, strat, params)
	for i := 1; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest.Execute: %s bar %d: %w", symbol, i, err)
		}
		sim.step(bars[:i+1])
	}
	sim.finish(bars[len(bars)-1])

	result := sim.result()
	result.Pair = domain.PairKey{Symbol: symbol, StrategyID: strategyID}

	slog.Debug("backtest executed",
		"symbol", symbol,
		"strategy", strategyID,
		"bars", len(bars),
		"trades", result.TradeCount,
		"forced_exits", result.ForcedExits,
		"halted", result.Halted,
		"sharpe", fmt.Sprintf("%.4f", result.SharpeRatio),
		"return", fmt.Sprintf("%.4f", result.TotalReturn),
	)
	return &result, nil
}

// simulation es el estado mutable de una ejecución.
type simulation struct {
	cfg    SimulationConfig
	symbol string
	strat  ports.Strategy
	params domain.Parameters

	cash       float64
	units      float64
	entryPrice float64 // precio de fill, slippage incluido
	entryCost  float64 // caja invertida, comisión incluida

	peak   float64
	equity []float64

	trades      int
	wins        int
	forcedExits int
	halted      bool
}

func newSimulation(cfg SimulationConfig, symbol string, strat ports.Strategy, params domain.Parameters) *simulation {
	return &simulation{
		cfg:    cfg,
		symbol: symbol,
		strat:  strat,
		params: params,
		cash:   cfg.InitialCapital,
		peak:   cfg.InitialCapital,
		equity: []float64{cfg.InitialCapital},
	}
}

func (s *simulation) inPosition() bool { return s.units > 0 }

func (s *simulation) markToMarket(price float64) float64 {
	return s.cash + s.units*price
}

// step procesa la última vela de visible.
func (s *simulation) step(visible []domain.Bar) {
	bar := visible[len(visible)-1]

	if s.halted {
		s.record(bar.Close)
		return
	}

	if s.inPosition() && s.entryPrice > 0 {
		loss := (s.entryPrice - bar.Close) / s.entryPrice
		if loss >= s.cfg.MaxPositionDrawdown {
			s.sell(bar.Close)
			s.forcedExits++
		}
	}

	if s.drawdown(s.markToMarket(bar.Close)) >= s.cfg.MaxPortfolioDrawdown {
		if s.inPosition() {
			s.sell(bar.Close)
		}
		s.halted = true
		s.record(bar.Close)
		return
	}

	equity := s.markToMarket(bar.Close)
	signals := s.strat.GenerateSignals(
		domain.MarketData{Symbol: s.symbol, Bars: visible},
		domain.SignalContext{
			Parameters:     s.params,
			PortfolioValue: equity,
			InPosition:     s.inPosition(),
			EntryPrice:     s.entryPrice,
		},
	)
	for _, sig := range signals {
		price := sig.Price
		if price <= 0 {
			price = bar.Close
		}
		switch sig.Action {
		case domain.ActionBuy:
			if !s.inPosition() {
				s.buy(sig, price, equity)
			}
		case domain.ActionSell:
			if s.inPosition() {
				s.sell(price)
			}
		}
	}
	s.record(bar.Close)
}

// buy abre una posición. El nocional nunca supera position_size × equity ni la caja.
func (s *simulation) buy(sig domain.Signal, price, equity float64) {
	fill := price * (1 + s.cfg.Slippage)
	perUnit := fill + s.cfg.CommissionPerUnit

	units := math.Floor(s.strat.CalculatePositionSize(sig, equity))
	if limit := s.params.PositionSize() * equity; units*fill > limit {
		units = math.Floor(limit / fill)
	}
	if units*perUnit > s.cash {
		units = math.Floor(s.cash / perUnit)
	}
	if units < 1 {
		return
	}

	s.units = units
	s.entryPrice = fill
	s.entryCost = units * perUnit
	s.cash -= s.entryCost
}

// sell cierra la posición completa y contabiliza el trade.
func (s *simulation) sell(price float64) {
	fill := price * (1 - s.cfg.Slippage)
	proceeds := s.units*fill - s.units*s.cfg.CommissionPerUnit
	s.cash += proceeds

	s.trades++
	if proceeds > s.entryCost {
		s.wins++
	}
	s.units = 0
	s.entryPrice = 0
	s.entryCost = 0
}

func (s *simulation) drawdown(equity float64) float64 {
	if s.peak <= 0 {
		return 0
	}
	return (s.peak - equity) / s.peak
}

func (s *simulation) record(price float64) {
	eq := s.markToMarket(price)
	if eq > s.peak {
		s.peak = eq
	}
	s.equity = append(s.equity, eq)
}

// finish liquida la posición abierta al cierre de la última vela.
func (s *simulation) finish(last domain.Bar) {
	if !s.inPosition() {
		return
	}
	s.sell(last.Close)
	s.equity[len(s.equity)-1] = s.cash
}

func (s *simulation) result() domain.BacktestResult {
	final := s.equity[len(s.equity)-1]
	r := domain.BacktestResult{
		TotalReturn: final/s.cfg.InitialCapital - 1,
		MaxDrawdown: maxDrawdown(s.equity),
		TradeCount:  s.trades,
		ForcedExits: s.forcedExits,
		Halted:      s.halted,
		SharpeRatio: sharpe(s.equity, s.cfg.PeriodsPerYear),
	}
	if s.trades > 0 {
		r.WinRate = float64(s.wins) / float64(s.trades)
	}
	return r
}

// sharpe anualiza el ratio media/desviación de los retornos por vela (risk-free = 0).
func sharpe(equity []float64, periodsPerYear int) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(float64(periodsPerYear))
}

// maxDrawdown devuelve la mayor caída pico-valle de la curva, como fracción.
func maxDrawdown(equity []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
