package pipeline

// pipeline.go: un run completo del pipeline de discovery, backtesting y promoción.
//
// Freshness Gate → Discovery → Strategy Assigner → búsqueda por par (worker pool)
// → Selection & Ranking → Promotion Gate → resumen del run.
//
// Los errores locales de una etapa se convierten en warnings o en pares FAILED;
// solo un fallo de infraestructura (stores) aborta el run. Aun así el run
// devuelve siempre su reporte parcial.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/stratbot/internal/application/assigner"
	"github.com/alejandrodnm/stratbot/internal/application/discovery"
	"github.com/alejandrodnm/stratbot/internal/application/freshness"
	"github.com/alejandrodnm/stratbot/internal/application/monitor"
	"github.com/alejandrodnm/stratbot/internal/application/promotion"
	"github.com/alejandrodnm/stratbot/internal/application/ranking"
	"github.com/alejandrodnm/stratbot/internal/application/search"
	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Estados finales de un run.
const (
	StatusOK        = "ok"
	StatusCancelled = "cancelled"
	StatusAborted   = "aborted"
)

// Config agrupa la configuración de todas las etapas.
type Config struct {
	Universe  []string
	Workers   int // controllers de par en paralelo (0 = NumCPU)
	Freshness freshness.Config
	Discovery discovery.Config
	Assigner  assigner.Thresholds
	Search    search.Config
	Ranking   ranking.Config
	Promotion promotion.Thresholds
	DryRun    bool // no promociona: solo reporta
}

// Deps son los colaboradores externos del pipeline.
// Cache, Optimizer, Ledger, Audit, Sink, Notifier y Monitor pueden ser nil.
type Deps struct {
	Cache      ports.DataCache
	Market     ports.MarketProvider
	News       ports.NewsProvider
	Params     ports.ParameterRegistry
	Engine     search.Executor
	Evaluator  search.Evaluator
	Optimizer  ports.Optimizer
	Ledger     ports.SearchLedger
	Promotions ports.PromotionStore
	Audit      ports.AuditLog
	Sink       ports.PaperSink
	Notifier   ports.Notifier
	Monitor    *monitor.Monitor
}

// Pipeline ejecuta runs. Cada Run usa su propio estado: runs concurrentes
// (o tests en paralelo) no comparten nada salvo los stores inyectados.
type Pipeline struct {
	cfg       Config
	deps      Deps
	gate      *freshness.Gate
	collector *discovery.Collector
	scorer    *discovery.Scorer
	assigner  *assigner.Assigner
	promoter  *promotion.Gate
	now       func() time.Time
}

// New construye el pipeline con sus etapas.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	cfg.Discovery = cfg.Discovery.WithDefaults()
	if cfg.Assigner == (assigner.Thresholds{}) {
		cfg.Assigner = assigner.DefaultThresholds()
	}
	if cfg.Promotion == (promotion.Thresholds{}) {
		cfg.Promotion = promotion.DefaultThresholds()
	}
	if cfg.Ranking == (ranking.Config{}) {
		cfg.Ranking = ranking.DefaultConfig()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(nil, nil, 0)
	}
	p := &Pipeline{
		cfg:       cfg,
		deps:      deps,
		gate:      freshness.New(cfg.Freshness, deps.Cache),
		collector: discovery.NewCollector(deps.Market, deps.News, cfg.Discovery),
		scorer:    discovery.NewScorer(cfg.Discovery),
		assigner:  assigner.New(cfg.Assigner),
		now:       time.Now,
	}
	if deps.Promotions != nil {
		p.promoter = promotion.New(cfg.Promotion, deps.Promotions, deps.Audit, deps.Sink)
	}
	return p
}

// WithClock reemplaza el reloj del pipeline y de sus etapas (tests).
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	p.gate.WithClock(now)
	if p.promoter != nil {
		p.promoter.WithClock(now)
	}
	return p
}

// Run ejecuta un run completo. Devuelve siempre un reporte; el error solo es
// no-nil ante un fallo de infraestructura. Cancelar ctx no es un error: los
// jobs en vuelo se abandonan, el ranking se calcula sobre lo completado y la
// promoción se omite.
func (p *Pipeline) Run(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error) {
	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: p.now().UTC(),
	}
	log := p.deps.Monitor.StartRun(report.RunID, trigger)

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var infraErr error
	p.discover(runCtx, report, log)
	if runCtx.Err() == nil {
		report.Pairs, infraErr = p.searchPairs(runCtx, abort, report.RunID, report.Assignments, log)
	}
	report.Cancelled = ctx.Err() != nil

	log.Stage("ranking", "pairs", len(report.Pairs))
	report.TopStrategies = ranking.Select(report.Pairs, p.cfg.Ranking)

	switch {
	case infraErr != nil:
		log.Warn(domain.PairKey{}, "promotion skipped: run aborted")
	case report.Cancelled:
		log.Warn(domain.PairKey{}, "promotion skipped: run cancelled")
	default:
		infraErr = p.promote(ctx, report, log)
	}

	report.Warnings, report.Alerts = log.Snapshot()
	report.FinishedAt = p.now().UTC()

	status := StatusOK
	switch {
	case infraErr != nil:
		status = StatusAborted
	case report.Cancelled:
		status = StatusCancelled
	}
	if err := p.deps.Monitor.FinishRun(ctx, *report, status); err != nil && infraErr == nil {
		infraErr = err
	}

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.NotifyRun(context.WithoutCancel(ctx), *report); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	if infraErr != nil {
		return report, fmt.Errorf("pipeline.Run: %s: %w", report.RunID, infraErr)
	}
	return report, nil
}

// discover ejecuta freshness, discovery y asignación de estrategias.
func (p *Pipeline) discover(ctx context.Context, report *domain.RunReport, log *monitor.RunLog) {
	universe := dedupe(p.cfg.Universe)

	log.Stage("freshness", "universe", len(universe))
	var entries []domain.CacheEntry
	if p.deps.Cache != nil {
		var err error
		entries, err = p.deps.Cache.Entries(ctx)
		if err != nil {
			log.Warn(domain.PairKey{}, fmt.Sprintf("freshness: cache entries unavailable, excluding universe: %v", err))
			report.Freshness = domain.FreshnessReport{StaleSymbols: make(map[string]bool), CheckedAt: p.now()}
			for _, s := range universe {
				report.Freshness.StaleSymbols[s] = true
			}
			return
		}
	}
	report.Freshness = p.gate.Check(ctx, entries)
	log.Warnings(report.Freshness.Warnings...)

	symbols := make([]string, 0, len(universe))
	for _, s := range universe {
		if !report.Freshness.IsStale(s) {
			symbols = append(symbols, s)
		}
	}
	if ctx.Err() != nil {
		return
	}

	log.Stage("discovery", "symbols", len(symbols))
	pool, warnings := p.collector.Collect(ctx, symbols)
	log.Warnings(warnings...)
	report.Candidates = p.scorer.Rank(pool)
	if ctx.Err() != nil {
		return
	}

	log.Stage("assignment", "candidates", len(report.Candidates))
	for _, c := range report.Candidates {
		snap, err := p.deps.Market.Indicators(ctx, c.Symbol)
		if err != nil {
			log.Warn(domain.PairKey{}, fmt.Sprintf("%s: indicators: %v", c.Symbol, err))
			continue
		}
		a := p.assigner.Assign(c.Symbol, snap, c.Sentiment)
		slog.Debug("strategy assigned",
			"symbol", a.Symbol,
			"strategy", a.StrategyID,
			"trace", a.Trace,
		)
		report.Assignments = append(report.Assignments, a)
	}
}

// searchPairs corre un Controller por par en un worker pool acotado.
// El primer fallo de infraestructura cancela el resto de pares y se devuelve.
func (p *Pipeline) searchPairs(
	ctx context.Context,
	abort context.CancelCauseFunc,
	runID string,
	assignments []domain.StrategyAssignment,
	log *monitor.RunLog,
) ([]domain.PairOutcome, error) {
	log.Stage("search", "pairs", len(assignments), "workers", p.cfg.Workers)

	deps := search.Deps{
		Params:    p.deps.Params,
		Engine:    p.deps.Engine,
		Evaluator: p.deps.Evaluator,
		Optimizer: p.deps.Optimizer,
		Ledger:    p.deps.Ledger,
		Observer:  log,
		Now:       p.now,
	}

	type work struct {
		idx  int
		pair domain.PairKey
	}
	type result struct {
		idx     int
		outcome domain.PairOutcome
	}

	workCh := make(chan work, len(assignments))
	resultCh := make(chan result, len(assignments))

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				c := search.NewController(p.cfg.Search, deps, runID, w.pair)
				out, err := c.Run(ctx)
				if err != nil {
					slog.Error("pair search aborted", "pair", w.pair.String(), "err", err)
					once.Do(func() { firstErr = err })
					abort(err)
				}
				log.PairFinished(out)
				resultCh <- result{idx: w.idx, outcome: out}
			}
		}()
	}

	for i, a := range assignments {
		workCh <- work{idx: i, pair: domain.PairKey{Symbol: a.Symbol, StrategyID: a.StrategyID}}
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	collected := make([]result, 0, len(assignments))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	outcomes := make([]domain.PairOutcome, len(collected))
	for i, r := range collected {
		outcomes[i] = r.outcome
	}
	return outcomes, firstErr
}

// promote pasa el top-K por el Promotion Gate. Devuelve el primer fallo de infraestructura.
func (p *Pipeline) promote(ctx context.Context, report *domain.RunReport, log *monitor.RunLog) error {
	if p.cfg.DryRun || p.promoter == nil {
		log.Stage("promotion", "skipped", true)
		return nil
	}
	log.Stage("promotion", "candidates", len(report.TopStrategies))
	for _, r := range report.TopStrategies {
		rec, err := p.promoter.Promote(ctx, report.RunID, r, log)
		if err != nil {
			return err
		}
		if rec != nil {
			report.Promotions = append(report.Promotions, *rec)
		}
	}
	return nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
