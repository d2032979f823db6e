package ports

import (
	"context"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// PaperSink recibe las promociones para paper trading.
type PaperSink interface {
	AcceptPromotion(ctx context.Context, rec domain.PromotionRecord) (domain.PaperAck, error)
}
