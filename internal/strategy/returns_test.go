package strategy

import (
	"testing"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func params(lookback, entry, exit, size float64) domain.Parameters {
	return domain.Parameters{
		"lookback":               lookback,
		"entry_threshold":        entry,
		"exit_threshold":         exit,
		domain.ParamPositionSize: size,
	}
}

func TestMomentum_BuysOnPositiveWindowReturn(t *testing.T) {
	m := NewMomentum(domain.StrategyMomentum)
	data := domain.MarketData{Symbol: "AAPL", Bars: barsFromCloses(100, 101, 103, 106)}

	sigs := m.GenerateSignals(data, domain.SignalContext{Parameters: params(3, 0.02, 0.05, 0.1)})

	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionBuy, sigs[0].Action)
	assert.Equal(t, 106.0, sigs[0].Price)
	assert.Equal(t, 0.1, sigs[0].SizeFraction)
}

func TestMomentum_NotEnoughBars(t *testing.T) {
	m := NewMomentum(domain.StrategyMomentum)
	data := domain.MarketData{Symbol: "AAPL", Bars: barsFromCloses(100, 110)}

	assert.Empty(t, m.GenerateSignals(data, domain.SignalContext{Parameters: params(5, 0.02, 0.05, 0.1)}))
}

func TestMomentum_ExitsOnTarget(t *testing.T) {
	m := NewMomentum(domain.StrategyMomentum)
	data := domain.MarketData{Symbol: "AAPL", Bars: barsFromCloses(100, 102, 104, 106)}

	sigs := m.GenerateSignals(data, domain.SignalContext{
		Parameters: params(3, 0.02, 0.05, 0.1),
		InPosition: true,
		EntryPrice: 100,
	})

	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionSell, sigs[0].Action)
}

func TestReversion_BuysDrop(t *testing.T) {
	r := NewReversion(domain.StrategyMeanReversion)
	data := domain.MarketData{Symbol: "XOM", Bars: barsFromCloses(100, 98, 96, 94)}

	sigs := r.GenerateSignals(data, domain.SignalContext{Parameters: params(3, 0.03, 0.04, 0.05)})

	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionBuy, sigs[0].Action)
}

func TestBreakout_BuysAboveWindowHigh(t *testing.T) {
	b := NewBreakout(domain.StrategyVolatilityBreakout)
	data := domain.MarketData{Symbol: "TSLA", Bars: barsFromCloses(100, 101, 100, 110)}

	sigs := b.GenerateSignals(data, domain.SignalContext{Parameters: params(3, 0.01, 0.1, 0.05)})

	require.Len(t, sigs, 1)
	assert.Equal(t, domain.ActionBuy, sigs[0].Action)
}

func TestUnitsFor_UsesFractionAndStrength(t *testing.T) {
	sig := domain.Signal{Price: 50, SizeFraction: 0.1, Strength: 0.5}
	// 100_000 × 0.1 × 0.5 / 50 = 100
	assert.InDelta(t, 100, unitsFor(sig, 100_000), 1e-9)
	assert.Equal(t, 0.0, unitsFor(domain.Signal{Price: 0, SizeFraction: 0.1}, 100_000))
}

func TestDefaultRegistry_CoversAllStrategies(t *testing.T) {
	r := Default()
	for _, id := range domain.AllStrategies {
		s, ok := r.Get(id)
		require.True(t, ok, "missing %s", id)
		assert.Equal(t, id, s.ID())
	}
}
