package domain

import "time"

// Candidate es un símbolo que compite por entrar en el ciclo de backtesting.
// Efímero: se recalcula en cada ciclo de discovery y no se persiste.
type Candidate struct {
	Symbol           string
	OpportunityScore float64
	Volume           float64 // volumen medio de la ventana de precios
	NewsCount24h     int
	Sentiment        float64 // -1..1

	// --- Componentes normalizados del score (0..1) ---
	SentimentComponent float64 // |sentiment|
	VolumeComponent    float64 // percentil de volumen dentro del pool
	NewsComponent      float64 // peso por recencia de noticias
}

// IndicatorSnapshot es la foto de indicadores que consume el Strategy Assigner.
// El cálculo de los indicadores vive fuera de este repo.
type IndicatorSnapshot struct {
	MA50  float64
	MA200 float64
	RSI   float64
	VIX   float64
	AsOf  time.Time
}

// Bar es una vela OHLCV del histórico de precios.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// AverageVolume devuelve el volumen medio de las últimas n velas (todas si n <= 0).
func AverageVolume(bars []Bar, n int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if n <= 0 || n > len(bars) {
		n = len(bars)
	}
	total := 0.0
	for _, b := range bars[len(bars)-n:] {
		total += b.Volume
	}
	return total / float64(n)
}

// EntryKind distingue las entradas de la caché de datos según su umbral de frescura.
type EntryKind string

const (
	EntryIndicator EntryKind = "indicator"
	EntrySentiment EntryKind = "sentiment"
)

// CacheEntry es una entrada de la caché de datos de mercado o sentimiento.
type CacheEntry struct {
	Symbol    string
	Kind      EntryKind
	FetchedAt time.Time
}

// Age devuelve la antigüedad de la entrada respecto a now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// FreshnessReport es el resultado del Freshness Gate.
type FreshnessReport struct {
	Fresh        bool
	StaleSymbols map[string]bool
	Refreshed    []string // símbolos que quedaron frescos tras el refresh
	Warnings     []string
	CheckedAt    time.Time
}

// IsStale devuelve true si el símbolo quedó excluido por datos viejos.
func (r FreshnessReport) IsStale(symbol string) bool {
	return r.StaleSymbols[symbol]
}
