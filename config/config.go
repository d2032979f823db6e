package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de stratbot.
type Config struct {
	Universe  []string        `yaml:"universe"`
	Workers   int             `yaml:"workers"` // pares en paralelo (0 = NumCPU)
	Freshness FreshnessConfig `yaml:"freshness"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Assigner  AssignerConfig  `yaml:"assigner"`
	Search    SearchConfig    `yaml:"search"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Promotion PromotionConfig `yaml:"promotion"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Data      DataConfig      `yaml:"data"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// FreshnessConfig fija la antigüedad máxima de los datos cacheados.
type FreshnessConfig struct {
	IndicatorMaxAgeSeconds int `yaml:"indicator_max_age_seconds"`
	SentimentMaxAgeSeconds int `yaml:"sentiment_max_age_seconds"`
}

// DiscoveryConfig controla el pool de candidatos.
type DiscoveryConfig struct {
	TopN            int     `yaml:"top_n"`
	MinVolume       float64 `yaml:"min_volume"`
	MinNews         int     `yaml:"min_news"`
	NewsSaturation  int     `yaml:"news_saturation"`
	VolumeWindow    int     `yaml:"volume_window"`
	FetchWorkers    int     `yaml:"fetch_workers"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
	VolumeWeight    float64 `yaml:"volume_weight"`
	NewsWeight      float64 `yaml:"news_weight"`
}

// AssignerConfig contiene los umbrales de las reglas de asignación.
type AssignerConfig struct {
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	VIXHigh         float64 `yaml:"vix_high"`
	ContrarianBelow float64 `yaml:"contrarian_below"`
	MomentumAbove   float64 `yaml:"momentum_above"`
}

// SearchConfig limita la búsqueda de parámetros por par.
type SearchConfig struct {
	MaxIterations     int     `yaml:"max_iterations"`
	GridVariants      int     `yaml:"grid_variants"`
	GridSpread        float64 `yaml:"grid_spread"`
	MaxPositionSize   float64 `yaml:"max_position_size"`
	MLAttempts        int     `yaml:"ml_attempts"`
	JobTimeoutSeconds int     `yaml:"job_timeout_seconds"`
}

// BacktestConfig es la configuración de simulación.
type BacktestConfig struct {
	Slippage             float64 `yaml:"slippage"`
	CommissionPerUnit    float64 `yaml:"commission_per_unit"`
	MaxPositionDrawdown  float64 `yaml:"max_position_drawdown"`
	MaxPortfolioDrawdown float64 `yaml:"max_portfolio_drawdown"`
	InitialCapital       float64 `yaml:"initial_capital"`
	HistoryWindow        int     `yaml:"history_window"`
	PeriodsPerYear       int     `yaml:"periods_per_year"`
}

// RankingConfig contiene los pesos del combined score.
type RankingConfig struct {
	SharpeWeight float64 `yaml:"sharpe_weight"`
	ReturnWeight float64 `yaml:"return_weight"`
	TopK         int     `yaml:"top_k"`
}

// PromotionConfig contiene los mínimos para pasar a paper trading.
type PromotionConfig struct {
	MinCombinedScore float64 `yaml:"min_combined_score"`
	MinSharpe        float64 `yaml:"min_sharpe"`
	MinTotalReturn   float64 `yaml:"min_total_return"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	MinWinRate       float64 `yaml:"min_win_rate"`
}

// ScheduleConfig lista las ventanas de ejecución (cron de 5 campos).
type ScheduleConfig struct {
	Windows []WindowConfig `yaml:"windows"`
}

// WindowConfig es una ventana con nombre.
type WindowConfig struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
}

// DataConfig indica de dónde salen los datos de mercado y el registro de estrategias.
type DataConfig struct {
	MarketSnapshot string `yaml:"market_snapshot"`
	Strategies     string `yaml:"strategies"` // vacío = defaults embebidos
}

// OptimizerConfig controla el cliente del optimizador ML.
type OptimizerConfig struct {
	URL            string  `yaml:"url"` // vacío = sin fase ML
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Retries        int     `yaml:"retries"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = sin endpoint
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// IndicatorMaxAge devuelve la antigüedad máxima de indicadores como time.Duration.
func (c *Config) IndicatorMaxAge() time.Duration {
	return time.Duration(c.Freshness.IndicatorMaxAgeSeconds) * time.Second
}

// SentimentMaxAge devuelve la antigüedad máxima de sentimiento y noticias.
func (c *Config) SentimentMaxAge() time.Duration {
	return time.Duration(c.Freshness.SentimentMaxAgeSeconds) * time.Second
}

// JobTimeout devuelve el tiempo máximo de un backtest.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Search.JobTimeoutSeconds) * time.Second
}

// OptimizerTimeout devuelve el timeout HTTP del optimizador.
func (c *Config) OptimizerTimeout() time.Duration {
	return time.Duration(c.Optimizer.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STRATBOT_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("STRATBOT_OPTIMIZER_URL"); v != "" {
		cfg.Optimizer.URL = v
	}
	if v := os.Getenv("STRATBOT_UNIVERSE"); v != "" {
		cfg.Universe = splitSymbols(v)
	}
	if v := os.Getenv("STRATBOT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Freshness.IndicatorMaxAgeSeconds <= 0 {
		cfg.Freshness.IndicatorMaxAgeSeconds = 300
	}
	if cfg.Freshness.SentimentMaxAgeSeconds <= 0 {
		cfg.Freshness.SentimentMaxAgeSeconds = 1800
	}

	d := &cfg.Discovery
	if d.TopN <= 0 {
		d.TopN = 10
	}
	if d.MinVolume <= 0 {
		d.MinVolume = 500_000
	}
	if d.MinNews <= 0 {
		d.MinNews = 3
	}
	if d.NewsSaturation <= 0 {
		d.NewsSaturation = 10
	}
	if d.VolumeWindow <= 0 {
		d.VolumeWindow = 20
	}
	if d.SentimentWeight == 0 && d.VolumeWeight == 0 && d.NewsWeight == 0 {
		d.SentimentWeight, d.VolumeWeight, d.NewsWeight = 1.0/3, 1.0/3, 1.0/3
	}

	a := &cfg.Assigner
	if a.RSIOverbought <= 0 {
		a.RSIOverbought = 70
	}
	if a.RSIOversold <= 0 {
		a.RSIOversold = 30
	}
	if a.VIXHigh <= 0 {
		a.VIXHigh = 25
	}
	if a.ContrarianBelow == 0 {
		a.ContrarianBelow = -0.6
	}
	if a.MomentumAbove == 0 {
		a.MomentumAbove = 0.6
	}

	s := &cfg.Search
	if s.MaxIterations <= 0 {
		s.MaxIterations = 5
	}
	if s.GridVariants <= 0 {
		s.GridVariants = 3
	}
	if s.GridSpread <= 0 {
		s.GridSpread = 0.20
	}
	if s.MaxPositionSize <= 0 {
		s.MaxPositionSize = 0.10
	}
	if s.MLAttempts <= 0 {
		s.MLAttempts = 3
	}
	if s.JobTimeoutSeconds <= 0 {
		s.JobTimeoutSeconds = 120
	}

	// backtest: los ceros los completa backtest.New

	r := &cfg.Ranking
	if r.SharpeWeight == 0 && r.ReturnWeight == 0 {
		r.SharpeWeight, r.ReturnWeight = 0.6, 0.4
	}
	if r.TopK <= 0 {
		r.TopK = 3
	}

	p := &cfg.Promotion
	if *p == (PromotionConfig{}) {
		*p = PromotionConfig{
			MinCombinedScore: 0.85,
			MinSharpe:        1.5,
			MinTotalReturn:   0.10,
			MaxDrawdown:      0.08,
			MinWinRate:       0.55,
		}
	}

	if len(cfg.Schedule.Windows) == 0 {
		cfg.Schedule.Windows = []WindowConfig{
			{Name: "overnight", Cron: "0 2 * * *"},
			{Name: "pre_market", Cron: "30 8 * * 1-5"},
		}
	}

	if cfg.Data.MarketSnapshot == "" {
		cfg.Data.MarketSnapshot = "testdata/fixtures/market_snapshot.json"
	}
	if cfg.Optimizer.TimeoutSeconds <= 0 {
		cfg.Optimizer.TimeoutSeconds = 10
	}
	if cfg.Optimizer.RatePerSecond <= 0 {
		cfg.Optimizer.RatePerSecond = 5
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "stratbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza combinaciones que ninguna etapa puede usar.
func (c *Config) validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe is empty")
	}
	if c.Ranking.SharpeWeight < 0 || c.Ranking.ReturnWeight < 0 {
		return fmt.Errorf("ranking weights must be non-negative")
	}
	if c.Search.MaxPositionSize > 1 {
		return fmt.Errorf("search.max_position_size %.4f exceeds 1", c.Search.MaxPositionSize)
	}
	for _, w := range c.Schedule.Windows {
		if w.Name == "" || w.Cron == "" {
			return fmt.Errorf("schedule window needs name and cron")
		}
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
