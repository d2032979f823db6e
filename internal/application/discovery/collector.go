package discovery

// collector.go: worker pool para el fetch de sentimiento, noticias y volumen por símbolo.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Collector construye el pool de candidatos a partir del universo de símbolos.
type Collector struct {
	market  ports.MarketProvider
	news    ports.NewsProvider
	workers int
	window  int
}

// NewCollector crea un Collector. Si workers <= 0 usa runtime.NumCPU() × 2.
func NewCollector(market ports.MarketProvider, news ports.NewsProvider, cfg Config) *Collector {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	window := cfg.VolumeWindow
	if window <= 0 {
		window = DefaultConfig().VolumeWindow
	}
	return &Collector{market: market, news: news, workers: workers, window: window}
}

// Collect obtiene los datos crudos de cada símbolo en paralelo.
// Un símbolo cuyo fetch falla se descarta con warning; el resto sigue.
// El resultado se devuelve ordenado por símbolo para que el run sea determinista.
func (c *Collector) Collect(ctx context.Context, symbols []string) ([]domain.Candidate, []string) {
	type result struct {
		cand domain.Candidate
		err  error
	}

	workCh := make(chan string, len(symbols))
	resultCh := make(chan result, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range workCh {
				if ctx.Err() != nil {
					resultCh <- result{cand: domain.Candidate{Symbol: sym}, err: ctx.Err()}
					continue
				}
				cand, err := c.collectOne(ctx, sym)
				resultCh <- result{cand: cand, err: err}
			}
		}()
	}

	for _, sym := range symbols {
		workCh <- sym
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	cands := make([]domain.Candidate, 0, len(symbols))
	var warnings []string
	for r := range resultCh {
		if r.err != nil {
			slog.Warn("discovery: symbol skipped",
				"symbol", r.cand.Symbol,
				"err", r.err,
			)
			warnings = append(warnings, fmt.Sprintf("%s: %v", r.cand.Symbol, r.err))
			continue
		}
		cands = append(cands, r.cand)
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].Symbol < cands[j].Symbol })
	sort.Strings(warnings)

	slog.Debug("discovery collection complete",
		"symbols", len(symbols),
		"candidates", len(cands),
		"workers", c.workers,
	)
	return cands, warnings
}

func (c *Collector) collectOne(ctx context.Context, symbol string) (domain.Candidate, error) {
	cand := domain.Candidate{Symbol: symbol}

	sentiment, err := c.news.Sentiment(ctx, symbol)
	if err != nil {
		return cand, fmt.Errorf("discovery.collect: sentiment: %w: %w", domain.ErrDataUnavailable, err)
	}
	count, err := c.news.NewsCount24h(ctx, symbol)
	if err != nil {
		return cand, fmt.Errorf("discovery.collect: news count: %w: %w", domain.ErrDataUnavailable, err)
	}
	bars, err := c.market.PriceHistory(ctx, symbol, c.window)
	if err != nil {
		return cand, fmt.Errorf("discovery.collect: price history: %w: %w", domain.ErrDataUnavailable, err)
	}
	if len(bars) == 0 {
		return cand, fmt.Errorf("discovery.collect: %w: empty price history", domain.ErrDataUnavailable)
	}

	cand.Sentiment = sentiment
	cand.NewsCount24h = count
	cand.Volume = domain.AverageVolume(bars, c.window)
	return cand, nil
}
