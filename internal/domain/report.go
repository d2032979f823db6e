package domain

import "time"

// AlertKind clasifica las alertas de monitorización.
type AlertKind string

const (
	AlertTimeout          AlertKind = "execution_timeout"
	AlertOptimizer        AlertKind = "optimizer_unavailable"
	AlertPaperSink        AlertKind = "paper_sink"
	AlertPortfolioHalt    AlertKind = "portfolio_drawdown_halt"
	AlertExecutionFailure AlertKind = "execution_failure"
)

// Alert es una alerta no fatal levantada durante un run.
type Alert struct {
	Kind    AlertKind
	Pair    PairKey
	Message string
	At      time.Time
}

// RunReport es lo que produce siempre un run, aunque top_strategies quede vacío.
type RunReport struct {
	RunID      string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool

	Freshness     FreshnessReport
	Candidates    []Candidate
	Assignments   []StrategyAssignment
	Pairs         []PairOutcome
	TopStrategies []RankedStrategy
	Promotions    []PromotionRecord

	Warnings []string
	Alerts   []Alert
}

// Duration devuelve la duración del run.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CountPhases cuenta los pares por fase final.
func (r RunReport) CountPhases() map[Phase]int {
	out := make(map[Phase]int, 5)
	for _, p := range r.Pairs {
		out[p.State.Phase]++
	}
	return out
}

// RunSummary es la fila persistida por run (historial).
type RunSummary struct {
	RunID      string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Candidates int
	Pairs      int
	Done       int
	Failed     int
	Top        int
	Promoted   int
	Warnings   int
	Alerts     int
	BestScore  float64
	Status     string // ok | cancelled | aborted
}

// Summarize construye el RunSummary de un reporte.
func Summarize(r RunReport, status string) RunSummary {
	phases := r.CountPhases()
	best := 0.0
	for _, t := range r.TopStrategies {
		if t.CombinedScore > best {
			best = t.CombinedScore
		}
	}
	return RunSummary{
		RunID:      r.RunID,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Cancelled:  r.Cancelled,
		Candidates: len(r.Candidates),
		Pairs:      len(r.Pairs),
		Done:       phases[PhaseDone],
		Failed:     phases[PhaseFailed],
		Top:        len(r.TopStrategies),
		Promoted:   len(r.Promotions),
		Warnings:   len(r.Warnings),
		Alerts:     len(r.Alerts),
		BestScore:  best,
		Status:     status,
	}
}
