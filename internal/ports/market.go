package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// MarketProvider obtiene indicadores e histórico de precios de un símbolo.
// El cálculo de los indicadores es responsabilidad del proveedor.
type MarketProvider interface {
	// Indicators devuelve la foto {ma_50, ma_200, rsi, vix} del símbolo.
	Indicators(ctx context.Context, symbol string) (domain.IndicatorSnapshot, error)

	// PriceHistory devuelve las últimas `window` velas en orden cronológico.
	// Devuelve domain.ErrDataUnavailable si no hay histórico para el símbolo.
	PriceHistory(ctx context.Context, symbol string, window int) ([]domain.Bar, error)
}

// NewsProvider obtiene el sentimiento y la actividad de noticias de un símbolo.
type NewsProvider interface {
	// Sentiment devuelve el score de sentimiento en [-1, 1].
	Sentiment(ctx context.Context, symbol string) (float64, error)

	// NewsCount24h devuelve el número de artículos de las últimas 24h.
	NewsCount24h(ctx context.Context, symbol string) (int, error)
}

// DataCache expone las entradas cacheadas y su refresh para el Freshness Gate.
type DataCache interface {
	// Entries devuelve las entradas actuales (indicadores y sentimiento) de la caché.
	Entries(ctx context.Context) ([]domain.CacheEntry, error)

	// Refresh intenta refrescar una entrada y devuelve su nuevo estado.
	Refresh(ctx context.Context, symbol string, kind domain.EntryKind) (domain.CacheEntry, error)
}
