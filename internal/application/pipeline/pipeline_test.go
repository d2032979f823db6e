package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/stratbot/internal/application/evaluator"
	"github.com/alejandrodnm/stratbot/internal/application/monitor"
	"github.com/alejandrodnm/stratbot/internal/domain"
)

var now = time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

type symbolData struct {
	sentiment float64
	news      int
	volume    float64
	snap      domain.IndicatorSnapshot
	fetchedAt time.Time
}

// mockFeed implementa MarketProvider, NewsProvider y DataCache.
type mockFeed struct {
	data map[string]symbolData
}

func (m *mockFeed) Indicators(_ context.Context, symbol string) (domain.IndicatorSnapshot, error) {
	d, ok := m.data[symbol]
	if !ok {
		return domain.IndicatorSnapshot{}, domain.ErrDataUnavailable
	}
	return d.snap, nil
}

func (m *mockFeed) PriceHistory(_ context.Context, symbol string, window int) ([]domain.Bar, error) {
	d, ok := m.data[symbol]
	if !ok {
		return nil, domain.ErrDataUnavailable
	}
	bars := make([]domain.Bar, window)
	for i := range bars {
		bars[i] = domain.Bar{Close: 100, Volume: d.volume}
	}
	return bars, nil
}

func (m *mockFeed) Sentiment(_ context.Context, symbol string) (float64, error) {
	return m.data[symbol].sentiment, nil
}

func (m *mockFeed) NewsCount24h(_ context.Context, symbol string) (int, error) {
	return m.data[symbol].news, nil
}

func (m *mockFeed) Entries(_ context.Context) ([]domain.CacheEntry, error) {
	var out []domain.CacheEntry
	for sym, d := range m.data {
		out = append(out, domain.CacheEntry{Symbol: sym, Kind: domain.EntryIndicator, FetchedAt: d.fetchedAt})
	}
	return out, nil
}

func (m *mockFeed) Refresh(_ context.Context, symbol string, kind domain.EntryKind) (domain.CacheEntry, error) {
	return domain.CacheEntry{Symbol: symbol, Kind: kind, FetchedAt: m.data[symbol].fetchedAt}, nil
}

type mockParams struct{}

func (mockParams) BaselineParameters(_ context.Context, _ domain.StrategyID) (domain.Parameters, error) {
	return domain.Parameters{"lookback": 20, domain.ParamPositionSize: 0.05}, nil
}

type mockTargets struct{}

func (mockTargets) TargetThresholds(_ context.Context, _ domain.StrategyID) (domain.Targets, error) {
	return domain.Targets{MinSharpe: 1.5, MinTotalReturn: 0.10, MaxDrawdown: 0.10, MinWinRate: 0.5}, nil
}

// mockEngine devuelve el resultado configurado por símbolo.
type mockEngine struct {
	results  map[string]domain.BacktestResult
	blocking bool // cada ejecución espera a que se cancele el ctx
	started  chan struct{}
	once     sync.Once
}

func (m *mockEngine) Execute(ctx context.Context, symbol string, _ domain.StrategyID, _ domain.Parameters) (*domain.BacktestResult, error) {
	if m.blocking {
		m.once.Do(func() { close(m.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, ok := m.results[symbol]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type memPromotions struct {
	mu   sync.Mutex
	recs map[domain.PairKey]domain.PromotionRecord
	err  error
}

func (m *memPromotions) UpsertPromotion(_ context.Context, rec domain.PromotionRecord) (domain.PromotionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.PromotionRecord{}, false, m.err
	}
	if m.recs == nil {
		m.recs = make(map[domain.PairKey]domain.PromotionRecord)
	}
	prev, exists := m.recs[rec.Pair()]
	rec.Version = prev.Version + 1
	m.recs[rec.Pair()] = rec
	return rec, !exists, nil
}

func (m *memPromotions) GetPromotion(_ context.Context, pair domain.PairKey) (domain.PromotionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[pair]
	return r, ok, nil
}

func (m *memPromotions) ListPromotions(_ context.Context) ([]domain.PromotionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PromotionRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

type memRuns struct {
	mu    sync.Mutex
	saved []domain.RunSummary
}

func (m *memRuns) SaveRun(_ context.Context, s domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

type failingLedger struct{}

func (failingLedger) SaveJob(context.Context, string, domain.BacktestJob, *domain.BacktestResult) error {
	return errors.New("database is locked")
}

func (failingLedger) SavePairState(context.Context, string, domain.PairSearchState) error {
	return errors.New("database is locked")
}

type recordingNotifier struct {
	reports []domain.RunReport
}

func (n *recordingNotifier) NotifyRun(_ context.Context, r domain.RunReport) error {
	n.reports = append(n.reports, r)
	return nil
}

// --- fixture ---

type fixture struct {
	feed       *mockFeed
	engine     *mockEngine
	promotions *memPromotions
	runs       *memRuns
	notifier   *recordingNotifier
	cfg        Config
	deps       Deps
}

func newFixture() *fixture {
	feed := &mockFeed{data: map[string]symbolData{
		// golden cross → trend_following
		"AAPL": {sentiment: 0.4, news: 8, volume: 2_000_000, snap: domain.IndicatorSnapshot{MA50: 110, MA200: 100, RSI: 55, VIX: 15}, fetchedAt: now},
		// rsi > 70 → mean_reversion
		"MSFT": {sentiment: 0.2, news: 5, volume: 1_500_000, snap: domain.IndicatorSnapshot{MA50: 90, MA200: 100, RSI: 75, VIX: 15}, fetchedAt: now},
		// volumen insuficiente
		"XYZ": {sentiment: 0.1, news: 1, volume: 10_000, fetchedAt: now},
		// caché vieja
		"OLD": {sentiment: 0.9, news: 20, volume: 9_000_000, fetchedAt: now.Add(-time.Hour)},
	}}
	engine := &mockEngine{results: map[string]domain.BacktestResult{
		"AAPL": {SharpeRatio: 2.0, TotalReturn: 0.15, MaxDrawdown: 0.05, WinRate: 0.60, TradeCount: 12},
		"MSFT": {SharpeRatio: 0.8, TotalReturn: 0.04, MaxDrawdown: 0.09, WinRate: 0.48, TradeCount: 9},
	}}
	f := &fixture{
		feed:       feed,
		engine:     engine,
		promotions: &memPromotions{},
		runs:       &memRuns{},
		notifier:   &recordingNotifier{},
		cfg: Config{
			Universe: []string{"AAPL", "MSFT", "XYZ", "OLD", "AAPL"},
			Workers:  2,
		},
	}
	f.deps = Deps{
		Cache:      feed,
		Market:     feed,
		News:       feed,
		Params:     mockParams{},
		Engine:     engine,
		Evaluator:  evaluator.New(mockTargets{}),
		Promotions: f.promotions,
		Notifier:   f.notifier,
		Monitor:    monitor.New(nil, f.runs, 0),
	}
	return f
}

func (f *fixture) pipeline() *Pipeline {
	return New(f.cfg, f.deps).WithClock(func() time.Time { return now })
}

func outcomeFor(r *domain.RunReport, symbol string) (domain.PairOutcome, bool) {
	for _, o := range r.Pairs {
		if o.State.Pair.Symbol == symbol {
			return o, true
		}
	}
	return domain.PairOutcome{}, false
}

// --- tests ---

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture()

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Freshness.IsStale("OLD"))
	require.Len(t, report.Candidates, 2)
	assert.Equal(t, "AAPL", report.Candidates[0].Symbol)

	require.Len(t, report.Assignments, 2)
	strategies := map[string]domain.StrategyID{}
	for _, a := range report.Assignments {
		strategies[a.Symbol] = a.StrategyID
	}
	assert.Equal(t, domain.StrategyTrendFollowing, strategies["AAPL"])
	assert.Equal(t, domain.StrategyMeanReversion, strategies["MSFT"])

	aapl, ok := outcomeFor(report, "AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDone, aapl.State.Phase)
	assert.Equal(t, 1, aapl.State.IterationCount)

	msft, ok := outcomeFor(report, "MSFT")
	require.True(t, ok)
	assert.Equal(t, domain.PhaseFailed, msft.State.Phase)
	assert.LessOrEqual(t, msft.State.IterationCount, 5)

	require.Len(t, report.TopStrategies, 1, "FAILED pairs are not ranked")
	assert.Equal(t, "AAPL", report.TopStrategies[0].Pair.Symbol)

	require.Len(t, report.Promotions, 1)
	assert.Equal(t, "AAPL", report.Promotions[0].Symbol)
	assert.Len(t, f.promotions.recs, 1)

	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, StatusOK, f.runs.saved[0].Status)
	assert.Len(t, f.notifier.reports, 1)
	assert.False(t, report.Cancelled)
	assert.NotEmpty(t, report.Warnings, "stale symbol is reported")
}

func TestRun_ZeroDiscoveryConfigStillFilters(t *testing.T) {
	f := newFixture()
	f.cfg.Universe = []string{"AAPL", "XYZ"}

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)

	require.Len(t, report.Candidates, 1)
	assert.Equal(t, "AAPL", report.Candidates[0].Symbol)
	require.Len(t, report.Pairs, 1)
	_, ok := outcomeFor(report, "XYZ")
	assert.False(t, ok, "low volume symbol never reaches backtesting")
}

func TestRun_SecondRunUpdatesPromotion(t *testing.T) {
	f := newFixture()
	p := f.pipeline()

	_, err := p.Run(context.Background(), domain.TriggerScheduled)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), domain.TriggerScheduled)
	require.NoError(t, err)

	require.Len(t, f.promotions.recs, 1)
	rec := f.promotions.recs[domain.PairKey{Symbol: "AAPL", StrategyID: domain.StrategyTrendFollowing}]
	assert.Equal(t, 2, rec.Version)
}

func TestRun_EmptyUniverse(t *testing.T) {
	f := newFixture()
	f.cfg.Universe = nil

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.Empty(t, report.TopStrategies)
	assert.Empty(t, report.Promotions)
	assert.Len(t, f.runs.saved, 1)
}

func TestRun_DryRunSkipsPromotion(t *testing.T) {
	f := newFixture()
	f.cfg.DryRun = true

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.Len(t, report.TopStrategies, 1)
	assert.Empty(t, report.Promotions)
	assert.Empty(t, f.promotions.recs)
}

func TestRun_CancellationIsNotAnError(t *testing.T) {
	f := newFixture()
	f.engine.blocking = true
	f.engine.started = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.engine.started
		cancel()
	}()

	report, err := f.pipeline().Run(ctx, domain.TriggerOnDemand)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Promotions)
	assert.Empty(t, f.promotions.recs)
	for _, o := range report.Pairs {
		assert.True(t, o.Cancelled)
		assert.Empty(t, o.Results)
	}
	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, StatusCancelled, f.runs.saved[0].Status)
}

func TestRun_PromotionStoreFailureAborts(t *testing.T) {
	f := newFixture()
	f.promotions.err = errors.New("database is locked")

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	require.NotNil(t, report, "partial report is still returned")
	assert.Len(t, report.TopStrategies, 1)
	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, StatusAborted, f.runs.saved[0].Status)
}

func TestRun_LedgerFailureAborts(t *testing.T) {
	f := newFixture()
	f.deps.Ledger = failingLedger{}

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	require.NotNil(t, report)
	assert.Empty(t, report.Promotions)
	assert.False(t, report.Cancelled)
}

func TestRun_PairWithoutHistoryIsSkipped(t *testing.T) {
	f := newFixture()
	delete(f.engine.results, "MSFT")

	report, err := f.pipeline().Run(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)

	msft, ok := outcomeFor(report, "MSFT")
	require.True(t, ok)
	assert.Equal(t, domain.ReasonDataUnavailable, msft.State.Reason)
	assert.Equal(t, 0, msft.State.IterationCount)
	assert.Len(t, report.Promotions, 1)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, dedupe([]string{"A", "", "B", "A"}))
}
