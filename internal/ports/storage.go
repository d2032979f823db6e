package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// ScheduleStore persiste el ScheduleState.
type ScheduleStore interface {
	// LoadSchedule devuelve ok=false si todavía no hay estado guardado.
	LoadSchedule(ctx context.Context) (state domain.ScheduleState, ok bool, err error)
	SaveSchedule(ctx context.Context, state domain.ScheduleState) error
}

// PromotionStore guarda los PromotionRecord, idempotente en (symbol, strategy).
type PromotionStore interface {
	// UpsertPromotion crea o actualiza el registro y devuelve el estado resultante.
	// created=false significa que ya existía (conflicto resuelto por update).
	UpsertPromotion(ctx context.Context, rec domain.PromotionRecord) (saved domain.PromotionRecord, created bool, err error)
	GetPromotion(ctx context.Context, pair domain.PairKey) (domain.PromotionRecord, bool, error)
	ListPromotions(ctx context.Context) ([]domain.PromotionRecord, error)
}

// AuditLog es el log append-only de promociones.
type AuditLog interface {
	AppendAudit(ctx context.Context, runID string, rec domain.PromotionRecord, action string) error
}

// SearchLedger persiste jobs y estados de par (contador de iteraciones y linaje).
type SearchLedger interface {
	SaveJob(ctx context.Context, runID string, job domain.BacktestJob, result *domain.BacktestResult) error
	SavePairState(ctx context.Context, runID string, state domain.PairSearchState) error
}

// RunStore guarda el historial de runs.
type RunStore interface {
	SaveRun(ctx context.Context, summary domain.RunSummary) error
}
