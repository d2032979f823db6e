package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/stratbot/config"
	"github.com/alejandrodnm/stratbot/internal/adapters/marketdata"
	"github.com/alejandrodnm/stratbot/internal/adapters/notify"
	"github.com/alejandrodnm/stratbot/internal/adapters/optimizer"
	"github.com/alejandrodnm/stratbot/internal/adapters/registry"
	"github.com/alejandrodnm/stratbot/internal/adapters/storage"
	"github.com/alejandrodnm/stratbot/internal/application/assigner"
	"github.com/alejandrodnm/stratbot/internal/application/backtest"
	"github.com/alejandrodnm/stratbot/internal/application/discovery"
	"github.com/alejandrodnm/stratbot/internal/application/evaluator"
	"github.com/alejandrodnm/stratbot/internal/application/freshness"
	"github.com/alejandrodnm/stratbot/internal/application/monitor"
	"github.com/alejandrodnm/stratbot/internal/application/pipeline"
	"github.com/alejandrodnm/stratbot/internal/application/promotion"
	"github.com/alejandrodnm/stratbot/internal/application/ranking"
	"github.com/alejandrodnm/stratbot/internal/application/scheduler"
	"github.com/alejandrodnm/stratbot/internal/application/search"
	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run the pipeline once and exit")
	dryRun := flag.Bool("dry-run", false, "in-memory storage, no promotion")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables per run (default: compact 1-line)")
	promotions := flag.Bool("promotions", false, "print promoted strategies and exit")
	runs := flag.Int("runs", 0, "print the last N runs and exit")
	audit := flag.String("audit", "", "print the promotion audit trail of SYMBOL/strategy and exit")
	jobs := flag.String("jobs", "", "print the job ledger of RUN_ID (prefix accepted) and exit")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *dryRun {
		cfg.Storage.DSN = ":memory:"
	}
	setupLogger(cfg.Log)

	slog.Info("stratbot starting",
		"config", *configPath,
		"universe", len(cfg.Universe),
		"windows", len(cfg.Schedule.Windows),
		"dry_run", *dryRun,
		"once", *once,
		"optimizer", cfg.Optimizer.URL != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.ApplyPaperSchema(ctx); err != nil {
		slog.Error("failed to create paper trading tables", "err", err)
		os.Exit(1)
	}

	notifier := notify.NewConsole(*table)

	switch {
	case *promotions:
		runPromotionsReport(ctx, store, notifier)
		return
	case *runs > 0:
		runHistoryReport(ctx, store, notifier, *runs)
		return
	case *audit != "":
		runAuditReport(ctx, store, *audit)
		return
	case *jobs != "":
		runJobsReport(ctx, store, notifier, *jobs)
		return
	}

	market, err := marketdata.Load(cfg.Data.MarketSnapshot)
	if err != nil {
		slog.Error("failed to load market snapshot", "err", err, "path", cfg.Data.MarketSnapshot)
		os.Exit(1)
	}

	reg := registry.Default()
	if cfg.Data.Strategies != "" {
		reg, err = registry.Load(cfg.Data.Strategies)
		if err != nil {
			slog.Error("failed to load strategy registry", "err", err, "path", cfg.Data.Strategies)
			os.Exit(1)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mon := monitor.New(promReg, store, 0)
	go logProgress(ctx, mon)

	deps := pipeline.Deps{
		Cache:      market,
		Market:     market,
		News:       market,
		Params:     reg,
		Engine:     backtest.New(backtestConfig(cfg), market, strategy.Default()),
		Evaluator:  evaluator.New(reg),
		Ledger:     store,
		Promotions: store,
		Audit:      store,
		Sink:       store,
		Notifier:   notifier,
		Monitor:    mon,
	}
	if cfg.Optimizer.URL != "" {
		deps.Optimizer = optimizer.NewClient(cfg.Optimizer.URL, cfg.OptimizerTimeout(), cfg.Optimizer.RatePerSecond).
			WithRetry(cfg.Optimizer.Retries, 500*time.Millisecond)
	}

	p := pipeline.New(pipelineConfig(cfg, *dryRun), deps)

	if *once {
		if _, err := p.Run(ctx, domain.TriggerOnDemand); err != nil {
			slog.Error("run failed", "err", err)
			os.Exit(1)
		}
		return
	}

	sched, err := scheduler.New(scheduleWindows(cfg), p, store)
	if err != nil {
		slog.Error("invalid schedule", "err", err)
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, promReg)
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	go handleSignals(ctx, sched)

	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("stratbot stopped cleanly")
}

// handleSignals: SIGUSR1 pide un run a demanda, SIGUSR2 cancela el run en curso.
func handleSignals(ctx context.Context, sched *scheduler.Scheduler) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				slog.Info("on-demand run requested")
				sched.Trigger()
			case syscall.SIGUSR2:
				if !sched.CancelRun() {
					slog.Info("no run in progress")
				}
			}
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

// logProgress vuelca el stream de progreso al log de debug.
func logProgress(ctx context.Context, mon *monitor.Monitor) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-mon.Progress():
			slog.Debug("progress",
				"kind", e.Kind,
				"run_id", e.RunID,
				"pair", e.Pair.String(),
				"msg", e.Message,
			)
		}
	}
}

func pipelineConfig(cfg *config.Config, dryRun bool) pipeline.Config {
	disc := discovery.DefaultConfig()
	disc.TopN = cfg.Discovery.TopN
	disc.Filter = discovery.FilterConfig{MinVolume: cfg.Discovery.MinVolume, MinNews: cfg.Discovery.MinNews}
	disc.Weights = domain.ScoreWeights{
		Sentiment: cfg.Discovery.SentimentWeight,
		Volume:    cfg.Discovery.VolumeWeight,
		News:      cfg.Discovery.NewsWeight,
	}
	disc.NewsSaturation = cfg.Discovery.NewsSaturation
	disc.VolumeWindow = cfg.Discovery.VolumeWindow
	disc.Workers = cfg.Discovery.FetchWorkers

	return pipeline.Config{
		Universe: cfg.Universe,
		Workers:  cfg.Workers,
		Freshness: freshness.Config{
			IndicatorMaxAge: cfg.IndicatorMaxAge(),
			SentimentMaxAge: cfg.SentimentMaxAge(),
		},
		Discovery: disc,
		Assigner: assigner.Thresholds{
			RSIOverbought:   cfg.Assigner.RSIOverbought,
			RSIOversold:     cfg.Assigner.RSIOversold,
			VIXHigh:         cfg.Assigner.VIXHigh,
			ContrarianBelow: cfg.Assigner.ContrarianBelow,
			MomentumAbove:   cfg.Assigner.MomentumAbove,
		},
		Search: search.Config{
			MaxIterations:   cfg.Search.MaxIterations,
			GridVariants:    cfg.Search.GridVariants,
			GridSpread:      cfg.Search.GridSpread,
			MaxPositionSize: cfg.Search.MaxPositionSize,
			MLAttempts:      cfg.Search.MLAttempts,
			JobTimeout:      cfg.JobTimeout(),
		},
		Ranking: ranking.Config{
			SharpeWeight: cfg.Ranking.SharpeWeight,
			ReturnWeight: cfg.Ranking.ReturnWeight,
			TopK:         cfg.Ranking.TopK,
		},
		Promotion: promotion.Thresholds{
			MinCombinedScore: cfg.Promotion.MinCombinedScore,
			MinSharpe:        cfg.Promotion.MinSharpe,
			MinTotalReturn:   cfg.Promotion.MinTotalReturn,
			MaxDrawdown:      cfg.Promotion.MaxDrawdown,
			MinWinRate:       cfg.Promotion.MinWinRate,
		},
		DryRun: dryRun,
	}
}

func backtestConfig(cfg *config.Config) backtest.SimulationConfig {
	return backtest.SimulationConfig{
		Slippage:             cfg.Backtest.Slippage,
		CommissionPerUnit:    cfg.Backtest.CommissionPerUnit,
		MaxPositionDrawdown:  cfg.Backtest.MaxPositionDrawdown,
		MaxPortfolioDrawdown: cfg.Backtest.MaxPortfolioDrawdown,
		InitialCapital:       cfg.Backtest.InitialCapital,
		HistoryWindow:        cfg.Backtest.HistoryWindow,
		PeriodsPerYear:       cfg.Backtest.PeriodsPerYear,
	}
}

func scheduleWindows(cfg *config.Config) []domain.RunWindow {
	out := make([]domain.RunWindow, 0, len(cfg.Schedule.Windows))
	for _, w := range cfg.Schedule.Windows {
		out = append(out, domain.RunWindow{Name: w.Name, Spec: w.Cron})
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
