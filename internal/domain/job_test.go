package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairSearchState_AdvanceForward(t *testing.T) {
	s := NewPairSearchState(PairKey{Symbol: "AAPL", StrategyID: StrategyMomentum})
	assert.NoError(t, s.Advance(PhaseGridSearch))
	assert.NoError(t, s.Advance(PhaseMLEnhanced))
	assert.NoError(t, s.Advance(PhaseFailed))
	assert.Equal(t, PhaseFailed, s.Phase)
}

func TestPairSearchState_NoRegression(t *testing.T) {
	s := NewPairSearchState(PairKey{Symbol: "AAPL", StrategyID: StrategyMomentum})
	s.Phase = PhaseMLEnhanced

	err := s.Advance(PhaseGridSearch)
	assert.ErrorIs(t, err, ErrPhaseRegression)
	assert.Equal(t, PhaseMLEnhanced, s.Phase)
}

func TestPairSearchState_TerminalIsFinal(t *testing.T) {
	s := NewPairSearchState(PairKey{Symbol: "AAPL", StrategyID: StrategyMomentum})
	s.Phase = PhaseDone

	assert.ErrorIs(t, s.Advance(PhaseFailed), ErrPhaseRegression)
	assert.NoError(t, s.Advance(PhaseDone), "misma fase no es regresión")
}

func TestPairSearchState_BaselineCanFinishDirectly(t *testing.T) {
	s := NewPairSearchState(PairKey{Symbol: "AAPL", StrategyID: StrategyMomentum})
	assert.NoError(t, s.Advance(PhaseDone))
}

func TestBetter_SharpeThenReturn(t *testing.T) {
	a := BacktestResult{SharpeRatio: 1.66, TotalReturn: 0.128}
	b := BacktestResult{SharpeRatio: 1.66, TotalReturn: 0.100}
	c := BacktestResult{SharpeRatio: 1.70, TotalReturn: 0.010}

	assert.True(t, Better(a, b))
	assert.False(t, Better(b, a))
	assert.True(t, Better(c, a))

	best, ok := BestResult([]BacktestResult{b, a, c})
	assert.True(t, ok)
	assert.Equal(t, c, best)
}

func TestTargets_Met(t *testing.T) {
	tg := Targets{MinSharpe: 1.0, MinTotalReturn: 0.05, MaxDrawdown: 0.15, MinWinRate: 0.5}

	assert.True(t, tg.Met(BacktestResult{SharpeRatio: 1.0, TotalReturn: 0.05, MaxDrawdown: 0.15, WinRate: 0.5}))
	assert.False(t, tg.Met(BacktestResult{SharpeRatio: 1.0, TotalReturn: 0.05, MaxDrawdown: 0.151, WinRate: 0.5}))
	assert.False(t, tg.Met(BacktestResult{SharpeRatio: 0.99, TotalReturn: 0.05, MaxDrawdown: 0.1, WinRate: 0.5}))
}
