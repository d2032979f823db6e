package freshness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Config fija la antigüedad máxima por tipo de entrada.
type Config struct {
	IndicatorMaxAge time.Duration
	SentimentMaxAge time.Duration
}

// DefaultConfig: indicadores 5 minutos, sentimiento/noticias 30 minutos.
func DefaultConfig() Config {
	return Config{
		IndicatorMaxAge: 5 * time.Minute,
		SentimentMaxAge: 30 * time.Minute,
	}
}

// Gate valida la edad de los datos antes de que un run avance.
type Gate struct {
	cfg   Config
	cache ports.DataCache
	now   func() time.Time
}

// New crea un Gate. cache puede ser nil: entonces no hay refresh posible.
func New(cfg Config, cache ports.DataCache) *Gate {
	def := DefaultConfig()
	if cfg.IndicatorMaxAge <= 0 {
		cfg.IndicatorMaxAge = def.IndicatorMaxAge
	}
	if cfg.SentimentMaxAge <= 0 {
		cfg.SentimentMaxAge = def.SentimentMaxAge
	}
	return &Gate{cfg: cfg, cache: cache, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check revisa cada entrada. Las viejas tienen UN intento de refresh; los símbolos
// que siguen viejos quedan excluidos con warning. Un error del refresh cuenta como viejo.
func (g *Gate) Check(ctx context.Context, entries []domain.CacheEntry) domain.FreshnessReport {
	report := domain.FreshnessReport{
		StaleSymbols: make(map[string]bool),
		CheckedAt:    g.now(),
	}
	refreshed := make(map[string]bool)

	for _, e := range entries {
		if !g.isStale(e, report.CheckedAt) {
			continue
		}

		fresh, err := g.refresh(ctx, e)
		if err != nil {
			report.StaleSymbols[e.Symbol] = true
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: %s refresh failed: %v", e.Symbol, e.Kind, err))
			slog.Warn("freshness: refresh failed",
				"symbol", e.Symbol,
				"kind", e.Kind,
				"age", e.Age(report.CheckedAt).Round(time.Second),
				"err", err,
			)
			continue
		}

		if g.isStale(fresh, g.now()) {
			report.StaleSymbols[e.Symbol] = true
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s: %s still stale after refresh (age %s)", e.Symbol, e.Kind, fresh.Age(g.now()).Round(time.Second)))
			slog.Warn("freshness: still stale after refresh",
				"symbol", e.Symbol,
				"kind", e.Kind,
			)
			continue
		}
		refreshed[e.Symbol] = true
	}

	for sym := range refreshed {
		if !report.StaleSymbols[sym] {
			report.Refreshed = append(report.Refreshed, sym)
		}
	}
	sort.Strings(report.Refreshed)
	report.Fresh = len(report.StaleSymbols) == 0

	slog.Debug("freshness check complete",
		"entries", len(entries),
		"stale_symbols", len(report.StaleSymbols),
		"refreshed", len(report.Refreshed),
	)
	return report
}

// Stale devuelve los símbolos excluidos, ordenados.
func Stale(r domain.FreshnessReport) []string {
	out := make([]string, 0, len(r.StaleSymbols))
	for s := range r.StaleSymbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (g *Gate) refresh(ctx context.Context, e domain.CacheEntry) (domain.CacheEntry, error) {
	if g.cache == nil {
		return e, fmt.Errorf("%w: no refresh provider", domain.ErrStaleData)
	}
	return g.cache.Refresh(ctx, e.Symbol, e.Kind)
}

// isStale aplica el umbral según el tipo. Tipos desconocidos usan el más estricto.
func (g *Gate) isStale(e domain.CacheEntry, now time.Time) bool {
	maxAge := g.cfg.IndicatorMaxAge
	if e.Kind == domain.EntrySentiment {
		maxAge = g.cfg.SentimentMaxAge
	}
	return e.Age(now) > maxAge
}
