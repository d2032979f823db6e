package ranking

import (
	"fmt"
	"testing"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome construye un PairOutcome con un job completado por resultado.
func outcome(symbol string, phase domain.Phase, results ...domain.BacktestResult) domain.PairOutcome {
	pair := domain.PairKey{Symbol: symbol, StrategyID: domain.StrategyTrendFollowing}
	o := domain.PairOutcome{State: domain.PairSearchState{Pair: pair, Phase: phase}}
	for i, r := range results {
		id := fmt.Sprintf("%s-%d", symbol, i+1)
		r.JobID = id
		r.Pair = pair
		o.Jobs = append(o.Jobs, domain.BacktestJob{
			ID:         id,
			Pair:       pair,
			Iteration:  i + 1,
			Status:     domain.JobCompleted,
			Parameters: domain.Parameters{domain.ParamPositionSize: 0.01 * float64(i+1)},
		})
		o.Results = append(o.Results, r)
	}
	return o
}

func res(sharpe, ret float64) domain.BacktestResult {
	return domain.BacktestResult{SharpeRatio: sharpe, TotalReturn: ret}
}

func TestSelect_ScenarioD_TieBrokenByReturn(t *testing.T) {
	got := Select([]domain.PairOutcome{
		outcome("LOW", domain.PhaseDone, res(1.66, 0.100)),
		outcome("HIGH", domain.PhaseDone, res(1.66, 0.128)),
	}, DefaultConfig())

	require.Len(t, got, 2)
	assert.Equal(t, "HIGH", got[0].Pair.Symbol)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, "LOW", got[1].Pair.Symbol)
	assert.InDelta(t, 0.6*1.66+0.4*0.128, got[0].CombinedScore, 1e-12)
}

func TestSelect_BestPerPairBySharpeThenReturn(t *testing.T) {
	got := Select([]domain.PairOutcome{
		outcome("AAPL", domain.PhaseDone,
			res(1.2, 0.30),
			res(1.9, 0.05),
			res(1.9, 0.08),
			res(1.5, 0.40),
		),
	}, DefaultConfig())

	require.Len(t, got, 1)
	assert.Equal(t, 1.9, got[0].Result.SharpeRatio)
	assert.Equal(t, 0.08, got[0].Result.TotalReturn)
	assert.Equal(t, "AAPL-3", got[0].Result.JobID)
	assert.InDelta(t, 0.03, got[0].Parameters.PositionSize(), 1e-12, "parameters of the winning job")
}

func TestSelect_ScenarioC_FailedPairsExcluded(t *testing.T) {
	got := Select([]domain.PairOutcome{
		outcome("FAIL", domain.PhaseFailed, res(3.0, 0.5), res(2.5, 0.4)),
		outcome("OK", domain.PhaseDone, res(1.0, 0.1)),
	}, DefaultConfig())

	require.Len(t, got, 1)
	assert.Equal(t, "OK", got[0].Pair.Symbol)
}

func TestSelect_PairsWithoutResultsExcluded(t *testing.T) {
	empty := outcome("EMPTY", domain.PhaseGridSearch)
	empty.Cancelled = true

	partial := outcome("PART", domain.PhaseGridSearch, res(1.1, 0.02))
	partial.Cancelled = true

	got := Select([]domain.PairOutcome{empty, partial}, DefaultConfig())
	require.Len(t, got, 1)
	assert.Equal(t, "PART", got[0].Pair.Symbol)
}

func TestSelect_TopKTruncates(t *testing.T) {
	var outs []domain.PairOutcome
	for i := 0; i < 6; i++ {
		outs = append(outs, outcome(fmt.Sprintf("S%d", i), domain.PhaseDone, res(1+float64(i)/10, 0.1)))
	}

	got := Select(outs, DefaultConfig())
	require.Len(t, got, 3)
	assert.Equal(t, "S5", got[0].Pair.Symbol)
	assert.Equal(t, "S4", got[1].Pair.Symbol)
	assert.Equal(t, "S3", got[2].Pair.Symbol)
	for i, r := range got {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestSelect_ReturnCanOutweighSharpe(t *testing.T) {
	// 0.6·1.0 + 0.4·1.5 = 1.2 > 0.6·1.5 + 0.4·0.1 = 0.94
	got := Select([]domain.PairOutcome{
		outcome("SHARPE", domain.PhaseDone, res(1.5, 0.1)),
		outcome("RETURN", domain.PhaseDone, res(1.0, 1.5)),
	}, DefaultConfig())

	require.Len(t, got, 2)
	assert.Equal(t, "RETURN", got[0].Pair.Symbol)
}

func TestSelect_Empty(t *testing.T) {
	got := Select(nil, DefaultConfig())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
