package discovery

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Config contiene la configuración del Opportunity Scorer.
type Config struct {
	TopN           int
	Filter         FilterConfig
	Weights        domain.ScoreWeights
	NewsSaturation int // artículos a partir de los cuales el peso de noticias satura

	// Collector
	Workers      int // goroutines para el fetch por símbolo (0 = NumCPU*2)
	VolumeWindow int // velas usadas para el volumen medio
}

// DefaultConfig devuelve la configuración por defecto del discovery.
func DefaultConfig() Config {
	return Config{
		TopN:           10,
		Filter:         DefaultFilterConfig(),
		Weights:        domain.EqualWeights(),
		NewsSaturation: 10,
		VolumeWindow:   20,
	}
}

// Scorer puntúa, filtra y ordena el pool de candidatos.
type Scorer struct {
	cfg    Config
	filter *Filter
}

// WithDefaults completa los campos a cero con DefaultConfig.
// Un filtro a cero dejaría pasar todo el pool: MinVolume y MinNews también se completan.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.TopN <= 0 {
		c.TopN = def.TopN
	}
	if c.Filter.MinVolume <= 0 {
		c.Filter.MinVolume = def.Filter.MinVolume
	}
	if c.Filter.MinNews <= 0 {
		c.Filter.MinNews = def.Filter.MinNews
	}
	if c.Weights == (domain.ScoreWeights{}) {
		c.Weights = def.Weights
	}
	if c.NewsSaturation <= 0 {
		c.NewsSaturation = def.NewsSaturation
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = def.VolumeWindow
	}
	return c
}

// NewScorer crea un Scorer. Los campos a cero de cfg toman el valor por defecto.
func NewScorer(cfg Config) *Scorer {
	cfg = cfg.WithDefaults()
	return &Scorer{cfg: cfg, filter: NewFilter(cfg.Filter)}
}

// Rank devuelve como mucho TopN candidatos ordenados por opportunity score.
// El percentil de volumen se calcula sobre el pool completo, antes del filtro.
// Un pool sin candidatos válidos devuelve una lista vacía, no un error.
func (s *Scorer) Rank(pool []domain.Candidate) []domain.Candidate {
	if len(pool) == 0 {
		return []domain.Candidate{}
	}

	volumes := make([]float64, len(pool))
	for i, c := range pool {
		volumes[i] = c.Volume
	}
	sort.Float64s(volumes)

	scored := make([]domain.Candidate, len(pool))
	for i, c := range pool {
		c.SentimentComponent = domain.SentimentComponent(c.Sentiment)
		c.VolumeComponent = stat.CDF(c.Volume, stat.Empirical, volumes, nil)
		c.NewsComponent = domain.NewsRecencyWeight(c.NewsCount24h, s.cfg.NewsSaturation)
		c.OpportunityScore = domain.OpportunityScore(s.cfg.Weights,
			c.SentimentComponent, c.VolumeComponent, c.NewsComponent)
		scored[i] = c
	}

	passed := s.filter.Apply(scored)
	sort.SliceStable(passed, func(i, j int) bool {
		if passed[i].OpportunityScore != passed[j].OpportunityScore {
			return passed[i].OpportunityScore > passed[j].OpportunityScore
		}
		return passed[i].Symbol < passed[j].Symbol
	})

	if len(passed) > s.cfg.TopN {
		passed = passed[:s.cfg.TopN]
	}

	slog.Debug("discovery ranking complete",
		"pool", len(pool),
		"passed", len(passed),
		"top_n", s.cfg.TopN,
	)
	return passed
}
