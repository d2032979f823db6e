package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alejandrodnm/stratbot/internal/adapters/notify"
	"github.com/alejandrodnm/stratbot/internal/adapters/storage"
	"github.com/alejandrodnm/stratbot/internal/domain"
)

func runPromotionsReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console) {
	recs, err := store.ListPromotions(ctx)
	if err != nil {
		slog.Error("failed to list promotions", "err", err)
		os.Exit(1)
	}
	notifier.PrintPromotions(recs)

	paper, err := store.ListPaperStrategies(ctx)
	if err != nil {
		slog.Warn("could not list paper strategies", "err", err)
		return
	}
	for _, ps := range paper {
		fmt.Printf("  paper %-24s ref=%s v%d status=%s since %s\n",
			ps.Pair.String(), ps.Reference, ps.Version, ps.Status,
			ps.AcceptedAt.Local().Format("2006-01-02 15:04"))
	}
}

func runHistoryReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, n int) {
	runs, err := store.RecentRuns(ctx, n)
	if err != nil {
		slog.Error("failed to list runs", "err", err)
		os.Exit(1)
	}
	notifier.PrintRuns(runs)
}

// runAuditReport imprime el historial de promociones de un par ("AAPL/momentum").
func runAuditReport(ctx context.Context, store *storage.SQLiteStorage, arg string) {
	symbol, strategyID, ok := strings.Cut(arg, "/")
	if !ok || symbol == "" || strategyID == "" {
		slog.Error("audit expects SYMBOL/strategy", "got", arg)
		os.Exit(1)
	}
	pair := domain.PairKey{Symbol: strings.ToUpper(symbol), StrategyID: domain.StrategyID(strategyID)}

	entries, err := store.AuditTrail(ctx, pair)
	if err != nil {
		slog.Error("failed to read audit trail", "err", err, "pair", pair.String())
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Printf("\n  No audit entries for %s\n", pair)
		return
	}

	fmt.Printf("\n=== AUDIT %s (%d) ===\n", pair, len(entries))
	for _, e := range entries {
		fmt.Printf("  %s  %-8s v%-3d combined=%.4f run=%s\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Version, e.CombinedScore, e.RunID)
	}
}

// runJobsReport imprime el ledger de jobs de cada par de un run. Acepta el id
// corto que muestra -runs.
func runJobsReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, runID string) {
	resolved, pairs, err := store.RunPairs(ctx, runID)
	if err != nil {
		slog.Error("failed to read run", "err", err, "run", runID)
		os.Exit(1)
	}
	if len(pairs) == 0 {
		fmt.Printf("\n  No pairs recorded for run %s\n", runID)
		return
	}

	fmt.Printf("\n=== RUN %s (%d pairs) ===\n", resolved, len(pairs))
	for _, pair := range pairs {
		st, ok, err := store.GetPairState(ctx, resolved, pair)
		if err != nil || !ok {
			slog.Warn("could not read pair state", "err", err, "pair", pair.String())
			continue
		}
		recs, err := store.JobsForPair(ctx, resolved, pair)
		if err != nil {
			slog.Warn("could not read jobs", "err", err, "pair", pair.String())
			continue
		}
		jobs := make([]domain.BacktestJob, 0, len(recs))
		results := make(map[string]domain.BacktestResult, len(recs))
		for _, rec := range recs {
			jobs = append(jobs, rec.Job)
			if rec.Result != nil {
				results[rec.Job.ID] = *rec.Result
			}
		}
		notifier.PrintPairJobs(st, jobs, results)
	}
}
