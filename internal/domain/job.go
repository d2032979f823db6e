package domain

import (
	"fmt"
	"time"
)

// PairKey identifica la unidad de búsqueda iterativa (symbol, strategy).
type PairKey struct {
	Symbol     string
	StrategyID StrategyID
}

func (k PairKey) String() string {
	return k.Symbol + "/" + string(k.StrategyID)
}

// JobStatus es el ciclo de vida de un BacktestJob.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// Terminal devuelve true para completed/failed/skipped.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobSkipped
}

// Phase es el estado de la máquina de búsqueda de un par.
type Phase string

const (
	PhaseBaseline   Phase = "BASELINE"
	PhaseGridSearch Phase = "GRID_SEARCH"
	PhaseMLEnhanced Phase = "ML_ENHANCED"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// order da el rango de cada fase: las transiciones solo avanzan.
// DONE y FAILED comparten rango: ambos son terminales.
func (p Phase) order() int {
	switch p {
	case PhaseBaseline:
		return 0
	case PhaseGridSearch:
		return 1
	case PhaseMLEnhanced:
		return 2
	case PhaseDone, PhaseFailed:
		return 3
	default:
		return -1
	}
}

// Terminal devuelve true para DONE y FAILED.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// BacktestJob es una ejecución de backtest de un set de parámetros para un par.
type BacktestJob struct {
	ID          string
	Pair        PairKey
	Parameters  Parameters
	Iteration   int    // 1..max_iterations; se asigna al despachar
	ParentJobID string // solo en jobs ML: job del que deriva
	MLEnhanced  bool
	Phase       Phase // fase del par cuando se creó el job
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         string
}

// PairSearchState es el estado mutable de un par. Un único writer: su Controller.
type PairSearchState struct {
	Pair           PairKey
	IterationCount int
	BestJobID      string
	Phase          Phase
	Reason         string // por qué terminó (target_met, max_iterations, ...)
	UpdatedAt      time.Time
}

// NewPairSearchState crea el estado inicial en BASELINE.
func NewPairSearchState(pair PairKey) PairSearchState {
	return PairSearchState{Pair: pair, Phase: PhaseBaseline}
}

// Advance mueve la fase hacia delante. Nunca retrocede ni sale de un estado terminal.
func (s *PairSearchState) Advance(to Phase) error {
	if to.order() < 0 {
		return fmt.Errorf("%w: unknown phase %q", ErrPhaseRegression, to)
	}
	if s.Phase == to {
		return nil
	}
	if s.Phase.Terminal() || to.order() < s.Phase.order() {
		return fmt.Errorf("%w: %s → %s", ErrPhaseRegression, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// Razones de terminación de un par.
const (
	ReasonTargetMet       = "target_met"
	ReasonMaxIterations   = "max_iterations"
	ReasonNoCandidates    = "no_candidates"
	ReasonOptimizerDown   = "optimizer_unavailable"
	ReasonDataUnavailable = "data_unavailable"
	ReasonInvalidBaseline = "invalid_baseline"
	ReasonRegistryError   = "registry_error"
	ReasonCancelled       = "cancelled"
)

// PairOutcome es lo que devuelve el Controller al terminar un par.
type PairOutcome struct {
	State     PairSearchState
	Jobs      []BacktestJob
	Results   []BacktestResult // solo jobs completed
	Rejected  int              // candidatos rechazados por el guard, nunca ejecutados
	Cancelled bool
}

// Best devuelve el mejor resultado completado del par (Sharpe desc, return desc).
func (o PairOutcome) Best() (BacktestResult, bool) {
	return BestResult(o.Results)
}
