package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Notifier presenta el resultado de cada run al usuario.
type Notifier interface {
	// NotifyRun muestra top_strategies, promociones y warnings del run.
	NotifyRun(ctx context.Context, report domain.RunReport) error
}
