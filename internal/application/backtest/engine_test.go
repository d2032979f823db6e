package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStrategy emite la acción indicada para el índice de la vela actual.
type scriptedStrategy struct {
	actions map[int]domain.SignalAction
	seen    []int
}

func (s *scriptedStrategy) ID() domain.StrategyID { return domain.StrategyMomentum }

func (s *scriptedStrategy) GenerateSignals(data domain.MarketData, sctx domain.SignalContext) []domain.Signal {
	idx := len(data.Bars) - 1
	s.seen = append(s.seen, len(data.Bars))
	action, ok := s.actions[idx]
	if !ok {
		return nil
	}
	return []domain.Signal{{
		Symbol:       data.Symbol,
		Action:       action,
		Price:        data.Last().Close,
		Strength:     1,
		SizeFraction: sctx.Parameters.PositionSize(),
	}}
}

func (s *scriptedStrategy) CalculatePositionSize(sig domain.Signal, portfolioValue float64) float64 {
	return portfolioValue * sig.SizeFraction / sig.Price
}

type registry map[domain.StrategyID]ports.Strategy

func (r registry) Get(id domain.StrategyID) (ports.Strategy, bool) {
	s, ok := r[id]
	return s, ok
}

type mockMarket struct {
	bars map[string][]domain.Bar
	err  error
}

func (m *mockMarket) Indicators(_ context.Context, _ string) (domain.IndicatorSnapshot, error) {
	return domain.IndicatorSnapshot{}, nil
}

func (m *mockMarket) PriceHistory(_ context.Context, symbol string, _ int) ([]domain.Bar, error) {
	if m.err != nil {
		return nil, m.err
	}
	bars, ok := m.bars[symbol]
	if !ok {
		return nil, domain.ErrDataUnavailable
	}
	return bars, nil
}

func closes(prices ...float64) []domain.Bar {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(prices))
	for i, p := range prices {
		bars[i] = domain.Bar{Time: start.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, Volume: 1_000_000}
	}
	return bars
}

var tenPct = domain.Parameters{domain.ParamPositionSize: 0.10}

func newEngine(cfg SimulationConfig, strat *scriptedStrategy, prices ...float64) *Engine {
	market := &mockMarket{bars: map[string][]domain.Bar{"AAPL": closes(prices...)}}
	return New(cfg, market, registry{domain.StrategyMomentum: strat})
}

func TestExecute_MissingHistoryReturnsNil(t *testing.T) {
	e := newEngine(DefaultSimulationConfig(), &scriptedStrategy{}, 100, 101)

	res, err := e.Execute(context.Background(), "NOPE", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestExecute_ProviderFailureIsAnError(t *testing.T) {
	market := &mockMarket{err: errors.New("market api: 502 bad gateway")}
	e := New(DefaultSimulationConfig(), market, registry{domain.StrategyMomentum: &scriptedStrategy{}})

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Contains(t, err.Error(), "502")
	assert.Nil(t, res)
}

func TestExecute_SingleBarReturnsNil(t *testing.T) {
	e := newEngine(DefaultSimulationConfig(), &scriptedStrategy{}, 100)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestExecute_UnknownStrategy(t *testing.T) {
	e := newEngine(DefaultSimulationConfig(), &scriptedStrategy{}, 100, 101)

	_, err := e.Execute(context.Background(), "AAPL", domain.StrategyContrarian, tenPct)
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestExecute_FrictionsOnRoundTrip(t *testing.T) {
	strat := &scriptedStrategy{actions: map[int]domain.SignalAction{
		1: domain.ActionBuy,
		2: domain.ActionSell,
	}}
	e := newEngine(DefaultSimulationConfig(), strat, 100, 100, 100, 100)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	require.NotNil(t, res)

	// 99 unidades: 10% de 100k al precio con slippage (100.1) redondeado hacia abajo.
	// Coste: 99 × (100.1 + 0.35). Venta: 99 × (99.9 − 0.35).
	cost := 99 * (100.1 + 0.35)
	proceeds := 99 * (99.9 - 0.35)
	assert.InDelta(t, (proceeds-cost)/100_000, res.TotalReturn, 1e-9)
	assert.Equal(t, 1, res.TradeCount)
	assert.Equal(t, 0.0, res.WinRate)
	assert.Equal(t, domain.PairKey{Symbol: "AAPL", StrategyID: domain.StrategyMomentum}, res.Pair)
}

func TestExecute_WinningTradeClosedAtEnd(t *testing.T) {
	strat := &scriptedStrategy{actions: map[int]domain.SignalAction{1: domain.ActionBuy}}
	e := newEngine(DefaultSimulationConfig(), strat, 100, 100, 102, 104, 106, 108, 110)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 1, res.TradeCount)
	assert.Equal(t, 1.0, res.WinRate)
	assert.Greater(t, res.TotalReturn, 0.0)
	assert.Less(t, res.TotalReturn, 0.01, "only 10% of capital was exposed")
	assert.Greater(t, res.SharpeRatio, 0.0)
	assert.False(t, res.Halted)
}

func TestExecute_ForceClosesLosingPosition(t *testing.T) {
	strat := &scriptedStrategy{actions: map[int]domain.SignalAction{1: domain.ActionBuy}}
	e := newEngine(DefaultSimulationConfig(), strat, 100, 100, 88, 80, 70)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 1, res.ForcedExits)
	assert.Equal(t, 1, res.TradeCount)
	assert.Equal(t, 0.0, res.WinRate)
	// Cerrada a 88: las caídas posteriores ya no afectan.
	assert.InDelta(t, res.MaxDrawdown, -res.TotalReturn, 1e-9)
}

func TestExecute_PortfolioDrawdownHaltsTrading(t *testing.T) {
	cfg := DefaultSimulationConfig()
	cfg.MaxPositionDrawdown = 0.5
	cfg.MaxPortfolioDrawdown = 0.005
	strat := &scriptedStrategy{actions: map[int]domain.SignalAction{
		1: domain.ActionBuy,
		3: domain.ActionBuy,
		5: domain.ActionBuy,
	}}
	e := newEngine(cfg, strat, 100, 100, 90, 90, 95, 100, 105)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Halted)
	assert.Equal(t, 1, res.TradeCount, "no trades after the halt")
	assert.Equal(t, []int{2}, strat.seen, "strategy is not consulted once halted")
}

func TestExecute_NoLookahead(t *testing.T) {
	strat := &scriptedStrategy{}
	e := newEngine(DefaultSimulationConfig(), strat, 100, 101, 102, 103, 104)

	_, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, strat.seen)
}

func TestExecute_NoTrades(t *testing.T) {
	e := newEngine(DefaultSimulationConfig(), &scriptedStrategy{}, 100, 110, 90, 120)

	res, err := e.Execute(context.Background(), "AAPL", domain.StrategyMomentum, tenPct)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.TradeCount)
	assert.Equal(t, 0.0, res.TotalReturn)
	assert.Equal(t, 0.0, res.SharpeRatio)
	assert.Equal(t, 0.0, res.MaxDrawdown)
}

func TestExecute_CancelledContext(t *testing.T) {
	e := newEngine(DefaultSimulationConfig(), &scriptedStrategy{}, 100, 101, 102)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Execute(ctx, "AAPL", domain.StrategyMomentum, tenPct)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.25, maxDrawdown([]float64{100, 120, 90, 110, 130}), 1e-9)
	assert.Equal(t, 0.0, maxDrawdown([]float64{100, 101, 102}))
}

func TestSharpe_FlatCurveIsZero(t *testing.T) {
	assert.Equal(t, 0.0, sharpe([]float64{100, 100, 100, 100}, 252))
	assert.Equal(t, 0.0, sharpe([]float64{100}, 252))
}

func TestNew_Defaults(t *testing.T) {
	e := New(SimulationConfig{}, &mockMarket{}, registry{})
	cfg := e.Config()
	assert.Equal(t, 100_000.0, cfg.InitialCapital)
	assert.Equal(t, 252, cfg.HistoryWindow)
	assert.Equal(t, 0.10, cfg.MaxPositionDrawdown)
	assert.Equal(t, 0.20, cfg.MaxPortfolioDrawdown)
}
