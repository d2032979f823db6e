package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// lunes 2 de marzo de 2026, 10:00 UTC
var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

type runCall struct {
	trigger domain.Trigger
}

// mockRunner registra los runs y opcionalmente bloquea hasta que se cancele el ctx.
type mockRunner struct {
	mu       sync.Mutex
	calls    []runCall
	blocking bool
	err      error
	started  chan domain.Trigger
}

func newMockRunner() *mockRunner {
	return &mockRunner{started: make(chan domain.Trigger, 8)}
}

func (m *mockRunner) Run(ctx context.Context, trigger domain.Trigger) (*domain.RunReport, error) {
	m.mu.Lock()
	m.calls = append(m.calls, runCall{trigger: trigger})
	m.mu.Unlock()
	m.started <- trigger

	report := &domain.RunReport{RunID: "run-" + string(trigger), Trigger: trigger}
	if m.blocking {
		<-ctx.Done()
		report.Cancelled = true
	}
	return report, m.err
}

func (m *mockRunner) triggers() []domain.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Trigger, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.trigger
	}
	return out
}

type memSchedule struct {
	mu      sync.Mutex
	state   domain.ScheduleState
	ok      bool
	saves   int
	loadErr error
}

func (m *memSchedule) LoadSchedule(context.Context) (domain.ScheduleState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.ok, m.loadErr
}

func (m *memSchedule) SaveSchedule(_ context.Context, st domain.ScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, m.ok = st, true
	m.saves++
	return nil
}

func (m *memSchedule) snapshot() domain.ScheduleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func waitTrigger(t *testing.T, ch <-chan domain.Trigger) domain.Trigger {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not called")
		return ""
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New([]domain.RunWindow{{Name: "bad", Spec: "not a cron"}}, newMockRunner(), nil)
	assert.Error(t, err)
}

func TestNew_DefaultWindows(t *testing.T) {
	s, err := New(nil, newMockRunner(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindows(), s.State().RunWindows)
}

func TestNextRun(t *testing.T) {
	s, err := New(nil, newMockRunner(), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		after  time.Time
		want   time.Time
		window string
	}{
		{"monday morning → overnight tuesday", t0, time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), "overnight"},
		{"after overnight → pre_market", time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), time.Date(2026, 3, 3, 8, 30, 0, 0, time.UTC), "pre_market"},
		{"friday night → saturday overnight", time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC), time.Date(2026, 3, 7, 2, 0, 0, 0, time.UTC), "overnight"},
		{"saturday overnight → sunday overnight", time.Date(2026, 3, 7, 2, 0, 0, 0, time.UTC), time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC), "overnight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, name := s.NextRun(tt.after)
			assert.Equal(t, tt.want, got.UTC())
			assert.Equal(t, tt.window, name)
			assert.True(t, got.After(tt.after), "strictly after")
		})
	}
}

func TestNextRun_CronTZ(t *testing.T) {
	s, err := New([]domain.RunWindow{{Name: "ny", Spec: "CRON_TZ=America/New_York 0 9 * * *"}}, newMockRunner(), nil)
	require.NoError(t, err)

	got, _ := s.NextRun(t0)
	// 09:00 en Nueva York (EST, UTC-5) = 14:00 UTC
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), got.UTC())
}

func TestRunOnce_UpdatesAndPersistsState(t *testing.T) {
	store := &memSchedule{}
	runner := newMockRunner()
	s, err := New(nil, runner, store)
	require.NoError(t, err)
	s.WithClock(fixedClock(t0))

	report, err := s.RunOnce(context.Background(), domain.TriggerOnDemand)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerOnDemand, report.Trigger)

	st := s.State()
	assert.Equal(t, t0, st.LastRun)
	assert.Equal(t, time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), st.NextRun.UTC())
	assert.NoError(t, st.Validate())
	assert.Equal(t, DefaultWindows(), st.RunWindows, "on-demand runs keep the configured windows")

	saved := store.snapshot()
	assert.Equal(t, st.LastRun, saved.LastRun)
	assert.Equal(t, st.NextRun, saved.NextRun)
}

func TestRunOnce_RunnerErrorStillAdvancesSchedule(t *testing.T) {
	store := &memSchedule{}
	runner := newMockRunner()
	runner.err = domain.ErrInfrastructure
	s, err := New(nil, runner, store)
	require.NoError(t, err)
	s.WithClock(fixedClock(t0))

	report, err := s.RunOnce(context.Background(), domain.TriggerScheduled)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.NotNil(t, report)
	assert.Equal(t, t0, store.snapshot().LastRun)
}

func TestCancelRun(t *testing.T) {
	runner := newMockRunner()
	runner.blocking = true
	s, err := New(nil, runner, nil)
	require.NoError(t, err)

	assert.False(t, s.CancelRun(), "nothing to cancel")

	done := make(chan *domain.RunReport, 1)
	go func() {
		report, _ := s.RunOnce(context.Background(), domain.TriggerOnDemand)
		done <- report
	}()
	waitTrigger(t, runner.started)

	assert.True(t, s.CancelRun())
	select {
	case report := <-done:
		require.NotNil(t, report)
		assert.True(t, report.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestRun_OnDemandTrigger(t *testing.T) {
	runner := newMockRunner()
	s, err := New(nil, runner, &memSchedule{})
	require.NoError(t, err)
	s.WithClock(fixedClock(t0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.Trigger()
	assert.Equal(t, domain.TriggerOnDemand, waitTrigger(t, runner.started))

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []domain.Trigger{domain.TriggerOnDemand}, runner.triggers())
}

func TestRun_CatchUpWhenNextRunPassed(t *testing.T) {
	store := &memSchedule{
		ok: true,
		state: domain.ScheduleState{
			LastRun: t0.Add(-30 * time.Hour),
			NextRun: t0.Add(-8 * time.Hour), // 02:00 de hoy, perdido
		},
	}
	runner := newMockRunner()
	s, err := New(nil, runner, store)
	require.NoError(t, err)
	s.WithClock(fixedClock(t0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	assert.Equal(t, domain.TriggerCatchUp, waitTrigger(t, runner.started))
	cancel()
	require.NoError(t, <-errCh)

	saved := store.snapshot()
	assert.Equal(t, t0, saved.LastRun)
	assert.True(t, saved.NextRun.After(t0))
}

func TestRun_NoCatchUpWhenNextRunAhead(t *testing.T) {
	store := &memSchedule{
		ok:    true,
		state: domain.ScheduleState{LastRun: t0.Add(-8 * time.Hour), NextRun: t0.Add(16 * time.Hour)},
	}
	runner := newMockRunner()
	s, err := New(nil, runner, store)
	require.NoError(t, err)
	s.WithClock(fixedClock(t0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case tr := <-runner.started:
		t.Fatalf("unexpected run %s", tr)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, runner.triggers())
}

func TestRun_ScheduledWindowFires(t *testing.T) {
	runner := newMockRunner()
	// la ventana overnight "vence" en 10ms con respecto al reloj de test
	clock := time.Date(2026, 3, 3, 1, 59, 59, 990_000_000, time.UTC)
	s, err := New(nil, runner, nil)
	require.NoError(t, err)
	s.WithClock(fixedClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	assert.Equal(t, domain.TriggerScheduled, waitTrigger(t, runner.started))
	cancel()
	require.NoError(t, <-errCh)
}

func TestRun_LoadFailureIsInfrastructure(t *testing.T) {
	store := &memSchedule{loadErr: errors.New("disk I/O error")}
	s, err := New(nil, newMockRunner(), store)
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

func TestTrigger_DoesNotBlock(t *testing.T) {
	s, err := New(nil, newMockRunner(), nil)
	require.NoError(t, err)

	s.Trigger()
	s.Trigger()
	assert.Len(t, s.triggerCh, 1)
}
