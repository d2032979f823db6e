package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// EventKind clasifica los eventos del stream de progreso.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventStage        EventKind = "stage"
	EventJobFinished  EventKind = "job_finished"
	EventPairFinished EventKind = "pair_finished"
	EventWarning      EventKind = "warning"
	EventAlert        EventKind = "alert"
	EventRunFinished  EventKind = "run_finished"
)

// Event es un evento de progreso para consumidores de presentación.
type Event struct {
	Kind    EventKind
	RunID   string
	Pair    domain.PairKey
	Message string
	At      time.Time
}

const defaultProgressBuffer = 256

// Monitor publica logs, métricas y progreso. El pipeline nunca se bloquea en él:
// si nadie consume el stream, los eventos se descartan.
type Monitor struct {
	metrics  *Metrics
	runs     ports.RunStore
	progress chan Event
	dropped  atomic.Int64
	now      func() time.Time
}

// New crea un Monitor. reg y runs pueden ser nil.
func New(reg prometheus.Registerer, runs ports.RunStore, buffer int) *Monitor {
	if buffer <= 0 {
		buffer = defaultProgressBuffer
	}
	return &Monitor{
		metrics:  NewMetrics(reg),
		runs:     runs,
		progress: make(chan Event, buffer),
		now:      time.Now,
	}
}

// Progress devuelve el stream de eventos.
func (m *Monitor) Progress() <-chan Event { return m.progress }

// Dropped devuelve cuántos eventos se descartaron por stream lleno.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

func (m *Monitor) emit(e Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	select {
	case m.progress <- e:
	default:
		m.dropped.Add(1)
	}
}

// StartRun abre el RunLog de un run.
func (m *Monitor) StartRun(runID string, trigger domain.Trigger) *RunLog {
	slog.Info("run started", "run_id", runID, "trigger", trigger)
	m.emit(Event{Kind: EventRunStarted, RunID: runID, Message: string(trigger)})
	return &RunLog{monitor: m, runID: runID}
}

// FinishRun registra las métricas finales y persiste el resumen del run.
// Un fallo del RunStore es de infraestructura y se devuelve al llamador.
func (m *Monitor) FinishRun(ctx context.Context, report domain.RunReport, status string) error {
	summary := domain.Summarize(report, status)

	m.metrics.runs.WithLabelValues(string(report.Trigger), status).Inc()
	m.metrics.runDuration.Observe(report.Duration().Seconds())
	m.metrics.promotions.Add(float64(len(report.Promotions)))
	if len(report.TopStrategies) > 0 {
		m.metrics.bestScore.Set(summary.BestScore)
	}

	slog.Info("run finished",
		"run_id", report.RunID,
		"status", status,
		"duration", report.Duration().Round(time.Millisecond),
		"candidates", summary.Candidates,
		"pairs", summary.Pairs,
		"done", summary.Done,
		"failed", summary.Failed,
		"top", summary.Top,
		"promoted", summary.Promoted,
		"warnings", summary.Warnings,
		"alerts", summary.Alerts,
	)
	m.emit(Event{Kind: EventRunFinished, RunID: report.RunID, Message: status})

	if m.runs == nil {
		return nil
	}
	if err := m.runs.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
		return fmt.Errorf("monitor.FinishRun: save run: %w: %w", domain.ErrInfrastructure, err)
	}
	return nil
}

// RunLog acumula warnings y alertas de un run. Seguro para uso concurrente:
// lo comparten todos los controllers del run.
type RunLog struct {
	monitor *Monitor
	runID   string

	mu       sync.Mutex
	warnings []string
	alerts   []domain.Alert
}

// RunID devuelve el id del run.
func (l *RunLog) RunID() string { return l.runID }

// Stage marca el inicio de una etapa del pipeline.
func (l *RunLog) Stage(name string, args ...any) {
	slog.Info("pipeline stage", append([]any{"run_id", l.runID, "stage", name}, args...)...)
	l.monitor.emit(Event{Kind: EventStage, RunID: l.runID, Message: name})
}

// Warn registra un warning, opcionalmente asociado a un par.
func (l *RunLog) Warn(pair domain.PairKey, msg string) {
	if pair.Symbol != "" {
		msg = pair.String() + ": " + msg
	}
	l.mu.Lock()
	l.warnings = append(l.warnings, msg)
	l.mu.Unlock()

	l.monitor.metrics.warnings.Inc()
	slog.Warn("run warning", "run_id", l.runID, "msg", msg)
	l.monitor.emit(Event{Kind: EventWarning, RunID: l.runID, Pair: pair, Message: msg})
}

// Warnings añade varios warnings sin par asociado.
func (l *RunLog) Warnings(msgs ...string) {
	for _, msg := range msgs {
		l.Warn(domain.PairKey{}, msg)
	}
}

// Alert registra una alerta de monitorización.
func (l *RunLog) Alert(kind domain.AlertKind, pair domain.PairKey, msg string) {
	a := domain.Alert{Kind: kind, Pair: pair, Message: msg, At: l.monitor.now()}
	l.mu.Lock()
	l.alerts = append(l.alerts, a)
	l.mu.Unlock()

	l.monitor.metrics.alerts.WithLabelValues(string(kind)).Inc()
	slog.Warn("alert",
		"run_id", l.runID,
		"kind", kind,
		"pair", pair.String(),
		"msg", msg,
	)
	l.monitor.emit(Event{Kind: EventAlert, RunID: l.runID, Pair: pair, Message: string(kind) + ": " + msg, At: a.At})
}

// JobFinished cuenta el job y publica el progreso.
func (l *RunLog) JobFinished(job domain.BacktestJob, result *domain.BacktestResult) {
	l.monitor.metrics.jobs.WithLabelValues(string(job.Status), string(job.Phase)).Inc()
	msg := fmt.Sprintf("iteration %d %s", job.Iteration, job.Status)
	if result != nil {
		l.monitor.metrics.jobSharpe.WithLabelValues(string(job.Pair.StrategyID)).Observe(result.SharpeRatio)
		msg = fmt.Sprintf("%s sharpe=%.4f return=%.4f", msg, result.SharpeRatio, result.TotalReturn)
	}
	l.monitor.emit(Event{Kind: EventJobFinished, RunID: l.runID, Pair: job.Pair, Message: msg})
}

// PairFinished cuenta el par terminado.
func (l *RunLog) PairFinished(o domain.PairOutcome) {
	l.monitor.metrics.pairs.WithLabelValues(string(o.State.Phase), o.State.Reason).Inc()
	l.monitor.emit(Event{
		Kind:    EventPairFinished,
		RunID:   l.runID,
		Pair:    o.State.Pair,
		Message: fmt.Sprintf("%s (%s) after %d iterations", o.State.Phase, o.State.Reason, o.State.IterationCount),
	})
}

// Snapshot devuelve copias de los warnings y alertas acumulados.
func (l *RunLog) Snapshot() ([]string, []domain.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	warnings := make([]string, len(l.warnings))
	copy(warnings, l.warnings)
	alerts := make([]domain.Alert, len(l.alerts))
	copy(alerts, l.alerts)
	return warnings, alerts
}
