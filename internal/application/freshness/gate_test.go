package freshness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCache devuelve entradas refrescadas según un mapa símbolo → fetchedAt.
type mockCache struct {
	refreshed map[string]time.Time
	err       error
	calls     map[string]int
}

func (m *mockCache) Entries(_ context.Context) ([]domain.CacheEntry, error) {
	return nil, nil
}

func (m *mockCache) Refresh(_ context.Context, symbol string, kind domain.EntryKind) (domain.CacheEntry, error) {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[symbol]++
	if m.err != nil {
		return domain.CacheEntry{}, m.err
	}
	return domain.CacheEntry{Symbol: symbol, Kind: kind, FetchedAt: m.refreshed[symbol]}, nil
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func TestGate_AllFresh(t *testing.T) {
	cache := &mockCache{}
	g := New(DefaultConfig(), cache).WithClock(fixedClock)

	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "AAPL", Kind: domain.EntryIndicator, FetchedAt: t0.Add(-4 * time.Minute)},
		{Symbol: "AAPL", Kind: domain.EntrySentiment, FetchedAt: t0.Add(-29 * time.Minute)},
	})

	assert.True(t, report.Fresh)
	assert.Empty(t, report.StaleSymbols)
	assert.Empty(t, report.Warnings)
	assert.Empty(t, cache.calls, "fresh entries must not be refreshed")
}

func TestGate_ThresholdsPerKind(t *testing.T) {
	g := New(DefaultConfig(), nil).WithClock(fixedClock)

	// 10 minutos: viejo para indicadores, fresco para sentimiento.
	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "IND", Kind: domain.EntryIndicator, FetchedAt: t0.Add(-10 * time.Minute)},
		{Symbol: "SEN", Kind: domain.EntrySentiment, FetchedAt: t0.Add(-10 * time.Minute)},
	})

	assert.False(t, report.Fresh)
	assert.True(t, report.IsStale("IND"))
	assert.False(t, report.IsStale("SEN"))
	require.Len(t, report.Warnings, 1)
}

func TestGate_RefreshSucceeds(t *testing.T) {
	cache := &mockCache{refreshed: map[string]time.Time{"MSFT": t0}}
	g := New(DefaultConfig(), cache).WithClock(fixedClock)

	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "MSFT", Kind: domain.EntryIndicator, FetchedAt: t0.Add(-time.Hour)},
	})

	assert.True(t, report.Fresh)
	assert.Equal(t, []string{"MSFT"}, report.Refreshed)
	assert.Equal(t, 1, cache.calls["MSFT"])
}

func TestGate_StillStaleAfterRefresh(t *testing.T) {
	cache := &mockCache{refreshed: map[string]time.Time{"TSLA": t0.Add(-time.Hour)}}
	g := New(DefaultConfig(), cache).WithClock(fixedClock)

	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "TSLA", Kind: domain.EntrySentiment, FetchedAt: t0.Add(-2 * time.Hour)},
	})

	assert.False(t, report.Fresh)
	assert.True(t, report.IsStale("TSLA"))
	assert.Empty(t, report.Refreshed)
	assert.Equal(t, 1, cache.calls["TSLA"], "exactly one refresh attempt")
}

func TestGate_RefreshErrorCountsAsStale(t *testing.T) {
	cache := &mockCache{err: errors.New("provider down")}
	g := New(DefaultConfig(), cache).WithClock(fixedClock)

	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "NVDA", Kind: domain.EntryIndicator, FetchedAt: t0.Add(-6 * time.Minute)},
		{Symbol: "AMD", Kind: domain.EntryIndicator, FetchedAt: t0},
	})

	assert.Equal(t, []string{"NVDA"}, Stale(report))
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "provider down")
}

func TestGate_PartiallyRefreshedSymbolStaysExcluded(t *testing.T) {
	// El indicador se refresca, el sentimiento no: el símbolo entero queda fuera.
	cache := &mockCache{refreshed: map[string]time.Time{"AAPL": t0}}
	g := New(Config{IndicatorMaxAge: 5 * time.Minute, SentimentMaxAge: 30 * time.Minute}, cache).WithClock(fixedClock)
	cache.refreshed["AAPL"] = t0

	report := g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "AAPL", Kind: domain.EntryIndicator, FetchedAt: t0.Add(-time.Hour)},
	})
	assert.True(t, report.Fresh)

	cache.refreshed["AAPL"] = t0.Add(-2 * time.Hour)
	report = g.Check(context.Background(), []domain.CacheEntry{
		{Symbol: "AAPL", Kind: domain.EntryIndicator, FetchedAt: t0},
		{Symbol: "AAPL", Kind: domain.EntrySentiment, FetchedAt: t0.Add(-time.Hour)},
	})
	assert.True(t, report.IsStale("AAPL"))
	assert.Empty(t, report.Refreshed)
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{}, nil)
	assert.Equal(t, 5*time.Minute, g.cfg.IndicatorMaxAge)
	assert.Equal(t, 30*time.Minute, g.cfg.SentimentMaxAge)
}
