package domain

import "math"

// ScoreWeights pondera los tres componentes del opportunity score.
type ScoreWeights struct {
	Sentiment float64 `yaml:"sentiment"`
	Volume    float64 `yaml:"volume"`
	News      float64 `yaml:"news"`
}

// EqualWeights es la ponderación por defecto: 1/3 cada componente.
func EqualWeights() ScoreWeights {
	return ScoreWeights{Sentiment: 1, Volume: 1, News: 1}
}

// OpportunityScore combina los componentes normalizados (cada uno en [0,1]).
// Los pesos se normalizan para que el resultado también quede en [0,1].
//
// Fórmula: S = (ws·|sent| + wv·volRank + wn·newsWeight) / (ws + wv + wn)
func OpportunityScore(w ScoreWeights, sentiment, volumeRank, newsWeight float64) float64 {
	total := w.Sentiment + w.Volume + w.News
	if total <= 0 {
		w = EqualWeights()
		total = 3
	}
	s := w.Sentiment*clamp01(sentiment) + w.Volume*clamp01(volumeRank) + w.News*clamp01(newsWeight)
	return s / total
}

// SentimentComponent devuelve |sentiment| acotado a [0,1].
func SentimentComponent(sentiment float64) float64 {
	return clamp01(math.Abs(sentiment))
}

// NewsRecencyWeight normaliza el número de noticias de 24h a [0,1].
// Satura en `saturation` artículos: más noticias no suben el peso.
func NewsRecencyWeight(newsCount24h int, saturation int) float64 {
	if newsCount24h <= 0 {
		return 0
	}
	if saturation <= 0 {
		saturation = 10
	}
	return clamp01(float64(newsCount24h) / float64(saturation))
}

// CombinedScore mezcla Sharpe y total return para el ranking global.
//
// Fórmula: C = ws·sharpe + wr·total_return  (por defecto 0.6 / 0.4)
// totalReturn es una fracción, no un porcentaje: 0.128 = 12.8%.
func CombinedScore(sharpe, totalReturn, sharpeWeight, returnWeight float64) float64 {
	return sharpeWeight*sharpe + returnWeight*totalReturn
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
