package notify

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// PrintPromotions prints every strategy currently promoted to paper trading.
func (c *Console) PrintPromotions(recs []domain.PromotionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "\n  No promoted strategies yet. Run the pipeline first.")
		return
	}
	c.printPromotions(recs)
}

func (c *Console) printPromotions(recs []domain.PromotionRecord) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== PROMOTED TO PAPER TRADING (%d) ===\n", len(recs))
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Pair", "Ver", "Combined", "Sharpe", "Return", "MaxDD", "Win", "Promoted", "Params")
	for _, r := range recs {
		tbl.Append(
			r.Pair().String(),
			fmt.Sprintf("v%d", r.Version),
			fmt.Sprintf("%.4f", r.CombinedScore),
			fmt.Sprintf("%.4f", r.Metrics.SharpeRatio),
			fmt.Sprintf("%.2f%%", r.Metrics.TotalReturn*100),
			fmt.Sprintf("%.2f%%", r.Metrics.MaxDrawdown*100),
			fmt.Sprintf("%.1f%%", r.Metrics.WinRate*100),
			r.PromotedAt.Local().Format("2006-01-02 15:04"),
			formatParams(r.Parameters),
		)
	}
	tbl.Render()
}

// PrintRuns prints the recent run history.
func (c *Console) PrintRuns(runs []domain.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "\n  No runs recorded yet.")
		return
	}
	fmt.Fprintf(c.out, "\n=== RECENT RUNS (%d) ===\n", len(runs))
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Started", "Run", "Trigger", "Status", "Cand", "Pairs", "Done", "Failed", "Promoted", "Best", "Took")
	for _, r := range runs {
		tbl.Append(
			r.StartedAt.Local().Format("01-02 15:04"),
			shortID(r.RunID),
			string(r.Trigger),
			r.Status,
			fmt.Sprintf("%d", r.Candidates),
			fmt.Sprintf("%d", r.Pairs),
			fmt.Sprintf("%d", r.Done),
			fmt.Sprintf("%d", r.Failed),
			fmt.Sprintf("%d", r.Promoted),
			fmt.Sprintf("%.4f", r.BestScore),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
		)
	}
	tbl.Render()
}

// PrintPairJobs prints the search state of a pair and its job ledger.
// results is keyed by job id; jobs without an entry have no metrics.
func (c *Console) PrintPairJobs(st domain.PairSearchState, jobs []domain.BacktestJob, results map[string]domain.BacktestResult) {
	fmt.Fprintf(c.out, "\n=== %s  %s", st.Pair, st.Phase)
	if st.Reason != "" {
		fmt.Fprintf(c.out, " (%s)", st.Reason)
	}
	fmt.Fprintf(c.out, "  iterations=%d best=%s ===\n", st.IterationCount, shortID(st.BestJobID))
	if len(jobs) == 0 {
		fmt.Fprintln(c.out, "  no jobs")
		return
	}
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("It", "Job", "Phase", "Status", "ML", "Parent", "Sharpe", "Return", "MaxDD", "Target", "Error")
	for _, j := range jobs {
		sharpe, ret, dd, target := "-", "-", "-", "-"
		if r, ok := results[j.ID]; ok {
			sharpe = fmt.Sprintf("%.4f", r.SharpeRatio)
			ret = fmt.Sprintf("%.2f%%", r.TotalReturn*100)
			dd = fmt.Sprintf("%.2f%%", r.MaxDrawdown*100)
			target = "no"
			if r.MeetsTarget {
				target = "yes"
			}
		}
		ml := ""
		if j.MLEnhanced {
			ml = "ml"
		}
		tbl.Append(
			fmt.Sprintf("%d", j.Iteration),
			shortID(j.ID),
			string(j.Phase),
			string(j.Status),
			ml,
			shortID(j.ParentJobID),
			sharpe, ret, dd, target,
			truncate(j.Err, 40),
		)
	}
	tbl.Render()
}
