package marketdata

import "time"

// Formato JSON del snapshot de mercado.

type snapshotFile struct {
	AsOf    time.Time                 `json:"as_of"`
	Symbols map[string]symbolSnapshot `json:"symbols"`
}

type symbolSnapshot struct {
	Indicators          indicators `json:"indicators"`
	Sentiment           float64    `json:"sentiment"`
	News24h             int        `json:"news_24h"`
	IndicatorsFetchedAt *time.Time `json:"indicators_fetched_at,omitempty"`
	SentimentFetchedAt  *time.Time `json:"sentiment_fetched_at,omitempty"`
	Bars                []bar      `json:"bars,omitempty"`
	Synthetic           *synthetic `json:"synthetic,omitempty"`
}

type indicators struct {
	MA50  float64 `json:"ma_50"`
	MA200 float64 `json:"ma_200"`
	RSI   float64 `json:"rsi"`
	VIX   float64 `json:"vix"`
}

type bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// synthetic genera un histórico diario determinista (random walk con drift).
type synthetic struct {
	Seed       uint64  `json:"seed"`
	Count      int     `json:"count"`
	Start      float64 `json:"start"`
	Drift      float64 `json:"drift"`      // retorno medio por vela
	Volatility float64 `json:"volatility"` // desviación del retorno por vela
	Volume     float64 `json:"volume"`     // volumen medio por vela
}
