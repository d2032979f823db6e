package ranking

import (
	"log/slog"
	"sort"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Config contiene los pesos del combined score y el tamaño del top.
type Config struct {
	SharpeWeight float64
	ReturnWeight float64
	TopK         int
}

// DefaultConfig: 0.6·sharpe + 0.4·return, top 3.
func DefaultConfig() Config {
	return Config{SharpeWeight: 0.6, ReturnWeight: 0.4, TopK: 3}
}

// Select elige el mejor resultado de cada par y devuelve el top-K global.
//
// Los pares FAILED y los que no tienen ningún job completado no aportan entrada.
// Orden global: combined score desc, después Sharpe, return y clave del par.
func Select(outcomes []domain.PairOutcome, cfg Config) []domain.RankedStrategy {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}

	ranked := make([]domain.RankedStrategy, 0, len(outcomes))
	for _, o := range outcomes {
		if o.State.Phase == domain.PhaseFailed {
			continue
		}
		best, ok := o.Best()
		if !ok {
			continue
		}
		ranked = append(ranked, domain.RankedStrategy{
			Pair:          o.State.Pair,
			Parameters:    parametersOf(o, best.JobID),
			Result:        best,
			CombinedScore: domain.CombinedScore(best.SharpeRatio, best.TotalReturn, cfg.SharpeWeight, cfg.ReturnWeight),
			Phase:         o.State.Phase,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Result.SharpeRatio != b.Result.SharpeRatio || a.Result.TotalReturn != b.Result.TotalReturn {
			return domain.Better(a.Result, b.Result)
		}
		return a.Pair.String() < b.Pair.String()
	})

	if len(ranked) > cfg.TopK {
		ranked = ranked[:cfg.TopK]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	slog.Debug("ranking complete",
		"pairs", len(outcomes),
		"top", len(ranked),
	)
	return ranked
}

func parametersOf(o domain.PairOutcome, jobID string) domain.Parameters {
	for _, j := range o.Jobs {
		if j.ID == jobID {
			return j.Parameters.Clone()
		}
	}
	return nil
}
