package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Provider sirve indicadores, histórico, sentimiento y noticias desde un snapshot JSON.
// Implementa ports.MarketProvider, ports.NewsProvider y ports.DataCache.
// Refresh recarga el fichero: las entradas sin fecha explícita toman la hora de la carga.
type Provider struct {
	path string
	now  func() time.Time

	mu       sync.RWMutex
	symbols  map[string]symbolSnapshot
	bars     map[string][]domain.Bar
	loadedAt time.Time
}

// Load lee el snapshot en path.
func Load(path string) (*Provider, error) {
	p := &Provider{path: path, now: time.Now}
	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("marketdata.Load: %w", err)
	}
	return p, nil
}

// WithClock reemplaza el reloj usado como fecha de carga (tests).
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.mu.Lock()
	p.now = now
	p.loadedAt = now()
	p.mu.Unlock()
	return p
}

// Symbols devuelve los símbolos del snapshot, ordenados.
func (p *Provider) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Indicators implementa ports.MarketProvider.
func (p *Provider) Indicators(_ context.Context, symbol string) (domain.IndicatorSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.symbols[symbol]
	if !ok {
		return domain.IndicatorSnapshot{}, fmt.Errorf("marketdata.Indicators: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return domain.IndicatorSnapshot{
		MA50:  s.Indicators.MA50,
		MA200: s.Indicators.MA200,
		RSI:   s.Indicators.RSI,
		VIX:   s.Indicators.VIX,
		AsOf:  p.fetchedAt(s.IndicatorsFetchedAt),
	}, nil
}

// PriceHistory implementa ports.MarketProvider. Devuelve las últimas window velas.
func (p *Provider) PriceHistory(ctx context.Context, symbol string, window int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	bars, ok := p.bars[symbol]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("marketdata.PriceHistory: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	if window > 0 && window < len(bars) {
		bars = bars[len(bars)-window:]
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// Sentiment implementa ports.NewsProvider.
func (p *Provider) Sentiment(_ context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.symbols[symbol]
	if !ok {
		return 0, fmt.Errorf("marketdata.Sentiment: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return math.Max(-1, math.Min(1, s.Sentiment)), nil
}

// NewsCount24h implementa ports.NewsProvider.
func (p *Provider) NewsCount24h(_ context.Context, symbol string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.symbols[symbol]
	if !ok {
		return 0, fmt.Errorf("marketdata.NewsCount24h: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return s.News24h, nil
}

// Entries implementa ports.DataCache: una entrada de indicadores y otra de sentimiento por símbolo.
func (p *Provider) Entries(_ context.Context) ([]domain.CacheEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.CacheEntry, 0, 2*len(p.symbols))
	for sym, s := range p.symbols {
		out = append(out,
			domain.CacheEntry{Symbol: sym, Kind: domain.EntryIndicator, FetchedAt: p.fetchedAt(s.IndicatorsFetchedAt)},
			domain.CacheEntry{Symbol: sym, Kind: domain.EntrySentiment, FetchedAt: p.fetchedAt(s.SentimentFetchedAt)},
		)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// Refresh implementa ports.DataCache recargando el snapshot desde disco.
func (p *Provider) Refresh(ctx context.Context, symbol string, kind domain.EntryKind) (domain.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.CacheEntry{}, err
	}
	if err := p.reload(); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("marketdata.Refresh: %s: %w", symbol, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.symbols[symbol]
	if !ok {
		return domain.CacheEntry{}, fmt.Errorf("marketdata.Refresh: %s: %w", symbol, domain.ErrDataUnavailable)
	}
	at := s.IndicatorsFetchedAt
	if kind == domain.EntrySentiment {
		at = s.SentimentFetchedAt
	}
	return domain.CacheEntry{Symbol: symbol, Kind: kind, FetchedAt: p.fetchedAt(at)}, nil
}

// fetchedAt: fecha explícita del snapshot o, si no hay, la de la última carga.
// Debe llamarse con p.mu tomado.
func (p *Provider) fetchedAt(t *time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return *t
	}
	return p.loadedAt
}

func (p *Provider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read %q: %w", p.path, err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse %q: %w", p.path, err)
	}

	bars := make(map[string][]domain.Bar, len(snap.Symbols))
	for sym, s := range snap.Symbols {
		switch {
		case len(s.Bars) > 0:
			bars[sym] = convertBars(s.Bars)
		case s.Synthetic != nil:
			bars[sym] = generateBars(*s.Synthetic, snap.AsOf)
		}
	}

	p.mu.Lock()
	p.symbols = snap.Symbols
	p.bars = bars
	p.loadedAt = p.now()
	p.mu.Unlock()

	slog.Debug("market snapshot loaded", "path", p.path, "symbols", len(snap.Symbols))
	return nil
}

func convertBars(in []bar) []domain.Bar {
	out := make([]domain.Bar, len(in))
	for i, b := range in {
		out[i] = domain.Bar{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// generateBars crea cfg.Count velas diarias que terminan en end.
// Misma semilla → mismas velas.
func generateBars(cfg synthetic, end time.Time) []domain.Bar {
	if cfg.Count <= 0 || cfg.Start <= 0 {
		return nil
	}
	if end.IsZero() {
		end = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	out := make([]domain.Bar, cfg.Count)
	price := cfg.Start
	for i := range out {
		open := price
		ret := cfg.Drift + cfg.Volatility*rng.NormFloat64()
		price = math.Max(0.01, price*(1+ret))
		spread := math.Abs(cfg.Volatility*rng.NormFloat64()) * open / 2
		out[i] = domain.Bar{
			Time:   end.AddDate(0, 0, i-cfg.Count+1),
			Open:   open,
			High:   math.Max(open, price) + spread,
			Low:    math.Max(0.01, math.Min(open, price)-spread),
			Close:  price,
			Volume: math.Round(cfg.Volume * (0.5 + rng.Float64())),
		}
	}
	return out
}
