package search

// controller.go: máquina de estados de búsqueda de parámetros de un par.
//
// BASELINE → GRID_SEARCH → ML_ENHANCED → {DONE | FAILED}
//
// Iteración 1 usa el baseline del registry. Si no cumple el target se encolan
// K variantes de grid (cada una consume su propia iteración al despacharse) y,
// agotado el grid, se pide una sugerencia al optimizador ML. Las iteraciones de
// un par son estrictamente secuenciales; el Controller es el único writer de su
// PairSearchState.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Config contiene los límites de la búsqueda.
type Config struct {
	MaxIterations   int
	GridVariants    int
	GridSpread      float64 // ±20% por defecto
	MaxPositionSize float64
	MLAttempts      int // sugerencias ML pedidas antes de rendirse si el guard las rechaza
	JobTimeout      time.Duration
}

// DefaultConfig devuelve los límites por defecto.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   5,
		GridVariants:    3,
		GridSpread:      0.20,
		MaxPositionSize: domain.DefaultMaxPositionSize,
		MLAttempts:      3,
		JobTimeout:      2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.GridVariants <= 0 {
		c.GridVariants = def.GridVariants
	}
	if c.GridSpread <= 0 {
		c.GridSpread = def.GridSpread
	}
	if c.MaxPositionSize <= 0 {
		c.MaxPositionSize = def.MaxPositionSize
	}
	if c.MLAttempts <= 0 {
		c.MLAttempts = def.MLAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	return c
}

// Executor ejecuta un backtest. Devuelve (nil, nil) si no hay datos.
type Executor interface {
	Execute(ctx context.Context, symbol string, strategy domain.StrategyID, params domain.Parameters) (*domain.BacktestResult, error)
}

// Evaluator decide si un resultado cumple los targets de su estrategia.
type Evaluator interface {
	Evaluate(ctx context.Context, result domain.BacktestResult, strategy domain.StrategyID) (bool, error)
}

// Observer recibe warnings, alertas y jobs terminados. Lo implementa monitor.RunLog.
type Observer interface {
	Warn(pair domain.PairKey, msg string)
	Alert(kind domain.AlertKind, pair domain.PairKey, msg string)
	JobFinished(job domain.BacktestJob, result *domain.BacktestResult)
}

type nopObserver struct{}

func (nopObserver) Warn(domain.PairKey, string) {}
func (nopObserver) Alert(domain.AlertKind, domain.PairKey, string) {}
func (nopObserver) JobFinished(domain.BacktestJob, *domain.BacktestResult) {}

// Deps son los colaboradores del Controller. Optimizer, Ledger y Observer pueden ser nil.
type Deps struct {
	Params    ports.ParameterRegistry
	Engine    Executor
	Evaluator Evaluator
	Optimizer ports.Optimizer
	Ledger    ports.SearchLedger
	Observer  Observer
	Now       func() time.Time
}

// candidate es un set de parámetros pendiente de despachar.
// Las variantes de grid llevan el id y la fecha del job queued ya persistido.
type candidate struct {
	params  domain.Parameters
	phase   domain.Phase
	ml      bool
	parent  string
	jobID   string
	created time.Time
}

// Controller conduce la búsqueda de un único par. El baseline es la iteración 1
// y las K variantes de grid ocupan las iteraciones 2..K+1, una cada una.
type Controller struct {
	cfg   Config
	deps  Deps
	runID string

	state   domain.PairSearchState
	schema  domain.ParamSchema
	grid    *GridGenerator
	queue   []candidate
	outcome domain.PairOutcome
	best    *domain.BacktestResult
}

// NewController crea el Controller de un par para el run dado.
func NewController(cfg Config, deps Deps, runID string, pair domain.PairKey) *Controller {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		state:  domain.NewPairSearchState(pair),
		schema: domain.ParamSchema{MaxPositionSize: cfg.MaxPositionSize},
		grid:   NewGridGenerator(pair, cfg.GridSpread),
	}
}

// State devuelve una copia del estado actual del par.
func (c *Controller) State() domain.PairSearchState { return c.state }

// Run ejecuta la búsqueda hasta un estado terminal o la cancelación del ctx.
// Solo devuelve error ante fallos de infraestructura (ledger); el resto de
// errores se convierten en jobs fallidos o en el estado FAILED del par.
func (c *Controller) Run(ctx context.Context) (domain.PairOutcome, error) {
	pair := c.state.Pair
	c.loadBounds(ctx)

	baseline, err := c.deps.Params.BaselineParameters(ctx, pair.StrategyID)
	if err != nil {
		c.deps.Observer.Warn(pair, fmt.Sprintf("baseline parameters: %v", err))
		return c.finish(ctx, domain.PhaseFailed, domain.ReasonRegistryError)
	}
	if err := c.schema.Validate(baseline); err != nil {
		c.outcome.Rejected++
		c.deps.Observer.Warn(pair, fmt.Sprintf("baseline rejected: %v", err))
		return c.finish(ctx, domain.PhaseFailed, domain.ReasonInvalidBaseline)
	}

	next := candidate{params: baseline.Clone(), phase: domain.PhaseBaseline}
	for {
		if ctx.Err() != nil {
			return c.cancel(ctx)
		}
		if err := c.state.Advance(next.phase); err != nil {
			return c.outcome, fmt.Errorf("search.Run: %s: %w", pair, err)
		}

		job, result, err := c.dispatch(ctx, next)
		if err != nil {
			return c.outcome, err
		}

		switch job.Status {
		case domain.JobSkipped:
			if ctx.Err() != nil {
				return c.cancel(ctx)
			}
			c.deps.Observer.Warn(pair, "no price history, pair skipped")
			return c.finish(ctx, domain.PhaseFailed, domain.ReasonDataUnavailable)

		case domain.JobCompleted:
			if result.MeetsTarget {
				return c.finish(ctx, domain.PhaseDone, domain.ReasonTargetMet)
			}
		}

		if c.state.IterationCount >= c.cfg.MaxIterations {
			return c.finish(ctx, domain.PhaseFailed, domain.ReasonMaxIterations)
		}

		if c.state.IterationCount == 1 && c.state.Phase == domain.PhaseBaseline {
			if err := c.enqueueGrid(ctx, baseline); err != nil {
				return c.outcome, err
			}
		}

		if len(c.queue) > 0 {
			next, c.queue = c.queue[0], c.queue[1:]
			continue
		}

		suggestion, reason, ok := c.suggest(ctx)
		if !ok {
			if ctx.Err() != nil {
				return c.cancel(ctx)
			}
			return c.finish(ctx, domain.PhaseFailed, reason)
		}
		next = suggestion
	}
}

// loadBounds aplica los rangos del registry si los ofrece.
func (c *Controller) loadBounds(ctx context.Context) {
	sp, ok := c.deps.Params.(ports.SchemaProvider)
	if !ok {
		return
	}
	bounds, err := sp.ParameterBounds(ctx, c.state.Pair.StrategyID)
	if err != nil {
		c.deps.Observer.Warn(c.state.Pair, fmt.Sprintf("parameter bounds: %v", err))
		return
	}
	c.schema.Bounds = bounds
}

// enqueueGrid genera min(K, iteraciones restantes) variantes del baseline y
// las persiste como jobs queued con su iteración prevista.
func (c *Controller) enqueueGrid(ctx context.Context, baseline domain.Parameters) error {
	n := c.cfg.GridVariants
	if remaining := c.cfg.MaxIterations - c.state.IterationCount; n > remaining {
		n = remaining
	}
	variants, rejected := c.grid.Generate(baseline, n, c.schema)
	c.outcome.Rejected += rejected
	if rejected > 0 {
		c.deps.Observer.Warn(c.state.Pair, fmt.Sprintf("%d grid variants rejected by parameter guard", rejected))
	}
	now := c.deps.Now()
	for i, v := range variants {
		job := domain.BacktestJob{
			ID:         uuid.NewString(),
			Pair:       c.state.Pair,
			Parameters: v,
			Iteration:  c.state.IterationCount + 1 + i,
			Phase:      domain.PhaseGridSearch,
			Status:     domain.JobQueued,
			CreatedAt:  now,
		}
		if err := c.saveJob(ctx, job, nil); err != nil {
			return err
		}
		c.queue = append(c.queue, candidate{
			params:  v,
			phase:   domain.PhaseGridSearch,
			jobID:   job.ID,
			created: now,
		})
	}
	slog.Debug("grid variants queued",
		"pair", c.state.Pair.String(),
		"variants", len(variants),
		"rejected", rejected,
	)
	return nil
}

// dropQueue marca como skipped los jobs queued que ya no se van a despachar.
func (c *Controller) dropQueue(ctx context.Context, reason string) error {
	now := c.deps.Now()
	for _, cand := range c.queue {
		if cand.jobID == "" {
			continue
		}
		job := domain.BacktestJob{
			ID:         cand.jobID,
			Pair:       c.state.Pair,
			Parameters: cand.params,
			Phase:      cand.phase,
			Status:     domain.JobSkipped,
			Err:        reason,
			CreatedAt:  cand.created,
			FinishedAt: now,
		}
		if err := c.saveJob(ctx, job, nil); err != nil {
			return err
		}
	}
	c.queue = nil
	return nil
}

// suggest pide parámetros al optimizador. ok=false termina el par con reason.
func (c *Controller) suggest(ctx context.Context) (candidate, string, bool) {
	pair := c.state.Pair
	if c.deps.Optimizer == nil {
		return candidate{}, domain.ReasonNoCandidates, false
	}

	parent := c.state.BestJobID
	if parent == "" && len(c.outcome.Jobs) > 0 {
		parent = c.outcome.Jobs[len(c.outcome.Jobs)-1].ID
	}

	for attempt := 1; attempt <= c.cfg.MLAttempts; attempt++ {
		params, err := c.deps.Optimizer.SuggestParameters(ctx, pair.Symbol, pair.StrategyID, c.priorResults())
		if err != nil {
			if ctx.Err() != nil {
				return candidate{}, domain.ReasonCancelled, false
			}
			msg := fmt.Sprintf("optimizer: %v", err)
			c.deps.Observer.Alert(domain.AlertOptimizer, pair, msg)
			c.deps.Observer.Warn(pair, msg)
			return candidate{}, domain.ReasonOptimizerDown, false
		}
		if params == nil {
			return candidate{}, domain.ReasonNoCandidates, false
		}
		if err := c.schema.Validate(params); err != nil {
			c.outcome.Rejected++
			c.deps.Observer.Warn(pair, fmt.Sprintf("ML suggestion rejected (attempt %d/%d): %v", attempt, c.cfg.MLAttempts, err))
			continue
		}
		return candidate{params: params.Clone(), phase: domain.PhaseMLEnhanced, ml: true, parent: parent}, "", true
	}
	return candidate{}, domain.ReasonNoCandidates, false
}

func (c *Controller) priorResults() []ports.PriorResult {
	byJob := make(map[string]domain.BacktestJob, len(c.outcome.Jobs))
	for _, j := range c.outcome.Jobs {
		byJob[j.ID] = j
	}
	prior := make([]ports.PriorResult, 0, len(c.outcome.Results))
	for _, r := range c.outcome.Results {
		j := byJob[r.JobID]
		prior = append(prior, ports.PriorResult{
			Iteration:  j.Iteration,
			Parameters: j.Parameters.Clone(),
			Result:     r,
		})
	}
	return prior
}

// dispatch ejecuta un candidato como job. Solo devuelve error ante fallos del ledger.
func (c *Controller) dispatch(ctx context.Context, cand candidate) (domain.BacktestJob, *domain.BacktestResult, error) {
	pair := c.state.Pair
	now := c.deps.Now()
	id, created := cand.jobID, cand.created
	if id == "" {
		id, created = uuid.NewString(), now
	}
	job := domain.BacktestJob{
		ID:          id,
		Pair:        pair,
		Parameters:  cand.params,
		Iteration:   c.state.IterationCount + 1,
		ParentJobID: cand.parent,
		MLEnhanced:  cand.ml,
		Phase:       c.state.Phase,
		Status:      domain.JobRunning,
		CreatedAt:   created,
		StartedAt:   now,
	}

	slog.Debug("dispatching backtest job",
		"pair", pair.String(),
		"iteration", job.Iteration,
		"phase", job.Phase,
		"ml", job.MLEnhanced,
	)
	if err := c.saveJob(ctx, job, nil); err != nil {
		return job, nil, err
	}

	res, err := c.execute(ctx, job)
	job.FinishedAt = c.deps.Now()

	var result *domain.BacktestResult
	switch {
	case err != nil && ctx.Err() != nil:
		job.Status = domain.JobSkipped
		job.Err = domain.ReasonCancelled
		job.Iteration = 0

	case errors.Is(err, domain.ErrExecutionTimeout):
		job.Status = domain.JobFailed
		job.Err = err.Error()
		c.state.IterationCount++
		c.deps.Observer.Alert(domain.AlertTimeout, pair,
			fmt.Sprintf("iteration %d exceeded %s", job.Iteration, c.cfg.JobTimeout))

	case err != nil:
		job.Status = domain.JobFailed
		job.Err = err.Error()
		c.state.IterationCount++
		c.deps.Observer.Alert(domain.AlertExecutionFailure, pair,
			fmt.Sprintf("iteration %d: %v", job.Iteration, err))

	case res == nil:
		job.Status = domain.JobSkipped
		job.Err = domain.ReasonDataUnavailable
		job.Iteration = 0

	default:
		c.state.IterationCount++
		r := *res
		r.JobID = job.ID
		r.Pair = pair
		met, evalErr := c.deps.Evaluator.Evaluate(ctx, r, pair.StrategyID)
		if evalErr != nil {
			c.deps.Observer.Warn(pair, fmt.Sprintf("evaluate: %v", evalErr))
			met = false
		}
		r = r.WithTarget(met)
		if r.Halted {
			c.deps.Observer.Alert(domain.AlertPortfolioHalt, pair,
				fmt.Sprintf("iteration %d halted at max portfolio drawdown", job.Iteration))
		}

		job.Status = domain.JobCompleted
		c.outcome.Results = append(c.outcome.Results, r)
		if c.best == nil || domain.Better(r, *c.best) {
			c.best = &r
			c.state.BestJobID = job.ID
		}
		result = &r
	}

	c.state.UpdatedAt = job.FinishedAt
	c.outcome.Jobs = append(c.outcome.Jobs, job)
	c.deps.Observer.JobFinished(job, result)

	if err := c.persist(ctx, job, result); err != nil {
		return job, result, err
	}
	return job, result, nil
}

// execute corre el backtest con el timeout por job. El ctx del run sigue mandando:
// si se cancela, el job se abandona.
func (c *Controller) execute(ctx context.Context, job domain.BacktestJob) (*domain.BacktestResult, error) {
	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	defer cancel()

	type out struct {
		res *domain.BacktestResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := c.deps.Engine.Execute(jobCtx, job.Pair.Symbol, job.Pair.StrategyID, job.Parameters)
		done <- out{res: res, err: err}
	}()

	timeoutErr := fmt.Errorf("search.execute: %w after %s", domain.ErrExecutionTimeout, c.cfg.JobTimeout)
	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutErr
		}
		return o.res, o.err
	case <-jobCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timeoutErr
	}
}

func (c *Controller) finish(ctx context.Context, phase domain.Phase, reason string) (domain.PairOutcome, error) {
	if err := c.state.Advance(phase); err != nil {
		return c.outcome, fmt.Errorf("search.finish: %s: %w", c.state.Pair, err)
	}
	c.state.Reason = reason
	c.state.UpdatedAt = c.deps.Now()
	c.outcome.State = c.state
	if err := c.dropQueue(ctx, reason); err != nil {
		return c.outcome, err
	}

	slog.Info("pair search finished",
		"pair", c.state.Pair.String(),
		"phase", c.state.Phase,
		"reason", reason,
		"iterations", c.state.IterationCount,
		"best_job", c.state.BestJobID,
	)
	if err := c.persistState(ctx); err != nil {
		return c.outcome, err
	}
	return c.outcome, nil
}

// cancel deja el par en su fase actual con reason cancelled.
func (c *Controller) cancel(ctx context.Context) (domain.PairOutcome, error) {
	c.state.Reason = domain.ReasonCancelled
	c.state.UpdatedAt = c.deps.Now()
	c.outcome.State = c.state
	c.outcome.Cancelled = true
	if err := c.dropQueue(ctx, domain.ReasonCancelled); err != nil {
		return c.outcome, err
	}

	slog.Info("pair search cancelled",
		"pair", c.state.Pair.String(),
		"phase", c.state.Phase,
		"iterations", c.state.IterationCount,
	)
	if err := c.persistState(ctx); err != nil {
		return c.outcome, err
	}
	return c.outcome, nil
}

// persist guarda el job y el estado. Usa un ctx sin cancelación para que un run
// cancelado deje el ledger consistente.
func (c *Controller) persist(ctx context.Context, job domain.BacktestJob, result *domain.BacktestResult) error {
	if c.deps.Ledger == nil {
		return nil
	}
	if err := c.saveJob(ctx, job, result); err != nil {
		return err
	}
	return c.persistState(ctx)
}

func (c *Controller) saveJob(ctx context.Context, job domain.BacktestJob, result *domain.BacktestResult) error {
	if c.deps.Ledger == nil {
		return nil
	}
	if err := c.deps.Ledger.SaveJob(context.WithoutCancel(ctx), c.runID, job, result); err != nil {
		return fmt.Errorf("search.persist: save job: %w: %w", domain.ErrInfrastructure, err)
	}
	return nil
}

func (c *Controller) persistState(ctx context.Context) error {
	if c.deps.Ledger == nil {
		return nil
	}
	if err := c.deps.Ledger.SavePairState(context.WithoutCancel(ctx), c.runID, c.state); err != nil {
		return fmt.Errorf("search.persist: save pair state: %w: %w", domain.ErrInfrastructure, err)
	}
	return nil
}
