package domain

import (
	"fmt"
	"time"
)

// RunWindow es una ventana de ejecución configurada (cron estándar de 5 campos).
type RunWindow struct {
	Name string `yaml:"name" json:"name"`
	Spec string `yaml:"cron" json:"cron"`
}

// ScheduleState es el estado persistido del scheduler.
// Invariante: NextRun siempre es estrictamente posterior a LastRun.
type ScheduleState struct {
	LastRun    time.Time
	NextRun    time.Time
	RunWindows []RunWindow
}

// Validate comprueba el invariante next_run > last_run.
func (s ScheduleState) Validate() error {
	if !s.NextRun.After(s.LastRun) {
		return fmt.Errorf("schedule: next_run %s is not after last_run %s",
			s.NextRun.Format(time.RFC3339), s.LastRun.Format(time.RFC3339))
	}
	return nil
}

// Trigger indica qué disparó un run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "on_demand"
	TriggerCatchUp   Trigger = "catch_up"
)
