package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

// Runner ejecuta un run completo del pipeline.
type Runner interface {
	Run(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error)
}

// DefaultWindows: overnight a las 02:00 y pre-market 08:30 de lunes a viernes.
func DefaultWindows() []domain.RunWindow {
	return []domain.RunWindow{
		{Name: "overnight", Spec: "0 2 * * *"},
		{Name: "pre_market", Spec: "30 8 * * 1-5"},
	}
}

type window struct {
	domain.RunWindow
	schedule cron.Schedule
}

// Scheduler dispara runs en las ventanas configuradas o a demanda.
// Solo hay un run en curso a la vez.
type Scheduler struct {
	windows []window
	runner  Runner
	store   ports.ScheduleStore // puede ser nil
	now     func() time.Time

	triggerCh chan struct{}

	mu        sync.Mutex
	state     domain.ScheduleState
	cancelRun context.CancelFunc
}

// New parsea las ventanas (cron estándar de 5 campos, admite CRON_TZ=).
// Sin ventanas usa DefaultWindows.
func New(windows []domain.RunWindow, runner Runner, store ports.ScheduleStore) (*Scheduler, error) {
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	s := &Scheduler{
		runner:    runner,
		store:     store,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
	}
	for _, w := range windows {
		sched, err := cron.ParseStandard(w.Spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler.New: window %q: %w", w.Name, err)
		}
		s.windows = append(s.windows, window{RunWindow: w, schedule: sched})
		s.state.RunWindows = append(s.state.RunWindows, w)
	}
	return s, nil
}

// WithClock reemplaza el reloj (tests).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// NextRun devuelve la primera activación de cualquier ventana estrictamente posterior a after.
func (s *Scheduler) NextRun(after time.Time) (time.Time, string) {
	var (
		next time.Time
		name string
	)
	for _, w := range s.windows {
		t := w.schedule.Next(after)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next, name = t, w.Name
		}
	}
	return next, name
}

// State devuelve una copia del estado actual.
func (s *Scheduler) State() domain.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.RunWindows = append([]domain.RunWindow(nil), s.state.RunWindows...)
	return st
}

// Trigger pide un run a demanda. No bloquea: si ya hay uno pendiente, se descarta.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		slog.Debug("on-demand trigger already pending")
	}
}

// CancelRun cancela el run en curso, si lo hay. Devuelve false si no había ninguno.
func (s *Scheduler) CancelRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun == nil {
		return false
	}
	s.cancelRun()
	return true
}

// Run es el loop del scheduler: espera a next_run o a un Trigger y ejecuta el run.
// Si el next_run persistido ya pasó, hace un run de recuperación al arrancar.
// Termina sin error al cancelar ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	catchUp, err := s.restore(ctx)
	if err != nil {
		return err
	}

	next := s.State().NextRun
	slog.Info("scheduler starting",
		"windows", len(s.windows),
		"next_run", next.Format(time.RFC3339),
		"catch_up", catchUp,
	)

	if catchUp {
		s.runLogged(ctx, domain.TriggerCatchUp)
	}

	for {
		next = s.State().NextRun
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if !next.IsZero() {
			timer = time.NewTimer(max(next.Sub(s.now()), 0))
			fire = timer.C
		}

		trigger := domain.TriggerScheduled
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("scheduler stopped")
			return nil
		case <-fire:
		case <-s.triggerCh:
			trigger = domain.TriggerOnDemand
		}
		if timer != nil {
			timer.Stop()
		}
		s.runLogged(ctx, trigger)
	}
}

// RunOnce ejecuta un run y actualiza last_run/next_run.
// Los runs a demanda no tocan las ventanas configuradas.
func (s *Scheduler) RunOnce(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancelRun != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler.RunOnce: a run is already in progress")
	}
	s.cancelRun = cancel
	s.mu.Unlock()

	start := s.now().UTC()
	report, runErr := s.runner.Run(runCtx, trigger)

	s.mu.Lock()
	s.cancelRun = nil
	s.state.LastRun = start
	next, _ := s.NextRun(maxTime(start, s.now()))
	s.state.NextRun = next
	st := s.state
	s.mu.Unlock()

	if err := s.persist(ctx, st); err != nil {
		slog.Error("failed to persist schedule", "err", err)
	}

	if runErr != nil {
		return report, fmt.Errorf("scheduler.RunOnce: %w", runErr)
	}
	return report, nil
}

func (s *Scheduler) runLogged(ctx context.Context, trigger domain.Trigger) {
	report, err := s.RunOnce(ctx, trigger)
	if err != nil {
		slog.Error("run failed", "trigger", trigger, "err", err)
		return
	}
	slog.Info("run complete",
		"trigger", trigger,
		"run_id", report.RunID,
		"cancelled", report.Cancelled,
		"top", len(report.TopStrategies),
		"promoted", len(report.Promotions),
		"next_run", s.State().NextRun.Format(time.RFC3339),
	)
}

// restore carga el estado persistido y calcula next_run.
// Devuelve true si el next_run persistido quedó en el pasado.
func (s *Scheduler) restore(ctx context.Context) (bool, error) {
	now := s.now()
	next, name := s.NextRun(now)

	var (
		persisted domain.ScheduleState
		ok        bool
	)
	if s.store != nil {
		var err error
		persisted, ok, err = s.store.LoadSchedule(ctx)
		if err != nil {
			return false, fmt.Errorf("scheduler.restore: %w: %w", domain.ErrInfrastructure, err)
		}
	}

	s.mu.Lock()
	s.state.LastRun = persisted.LastRun
	s.state.NextRun = next
	st := s.state
	s.mu.Unlock()

	catchUp := ok && !persisted.NextRun.IsZero() && persisted.NextRun.Before(now)
	slog.Debug("schedule restored",
		"persisted", ok,
		"last_run", persisted.LastRun.Format(time.RFC3339),
		"next_window", name,
	)

	if err := s.persist(ctx, st); err != nil {
		return false, err
	}
	return catchUp, nil
}

func (s *Scheduler) persist(ctx context.Context, st domain.ScheduleState) error {
	if s.store == nil || st.NextRun.IsZero() {
		return nil
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("scheduler.persist: %w", err)
	}
	if err := s.store.SaveSchedule(context.WithoutCancel(ctx), st); err != nil {
		return fmt.Errorf("scheduler.persist: %w: %w", domain.ErrInfrastructure, err)
	}
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
