package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
// table=false imprime una línea compacta por run; table=true, las tablas completas.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyRun imprime el resultado del run en el modo configurado.
func (c *Console) NotifyRun(_ context.Context, r domain.RunReport) error {
	c.printCompact(r)
	if !c.table {
		return nil
	}
	c.printCandidates(r)
	c.printPairs(r)
	c.printTop(r)
	c.printPromotions(r.Promotions)
	c.printIssues(r)
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r domain.RunReport) {
	phases := r.CountPhases()
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] run %s (%s) %d cand → %d pairs D:%d F:%d",
		r.FinishedAt.Local().Format("15:04:05"), shortID(r.RunID), r.Trigger,
		len(r.Candidates), len(r.Pairs), phases[domain.PhaseDone], phases[domain.PhaseFailed])

	if r.Cancelled {
		sb.WriteString(" CANCELLED")
	}

	if len(r.TopStrategies) == 0 {
		sb.WriteString(" | no strategies qualified")
	}
	for _, t := range r.TopStrategies {
		fmt.Fprintf(&sb, " | #%d %s %.2f", t.Rank, t.Pair, t.CombinedScore)
	}

	fmt.Fprintf(&sb, " | promoted:%d", len(r.Promotions))
	if n := len(r.Warnings) + len(r.Alerts); n > 0 {
		fmt.Fprintf(&sb, " | issues:%d", n)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printCandidates imprime los candidatos de discovery con su estrategia asignada.
func (c *Console) printCandidates(r domain.RunReport) {
	if len(r.Candidates) == 0 {
		fmt.Fprintln(c.out, "\n  No candidates passed discovery")
		return
	}
	assigned := make(map[string]domain.StrategyAssignment, len(r.Assignments))
	for _, a := range r.Assignments {
		assigned[a.Symbol] = a
	}

	fmt.Fprintf(c.out, "\n=== CANDIDATES (%d) ===\n", len(r.Candidates))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Symbol", "Score", "Sent", "Vol pct", "News", "Strategy", "Rules")
	for i, cand := range r.Candidates {
		a := assigned[cand.Symbol]
		table.Append(
			fmt.Sprintf("%d", i+1),
			cand.Symbol,
			fmt.Sprintf("%.4f", cand.OpportunityScore),
			fmt.Sprintf("%+.2f", cand.Sentiment),
			fmt.Sprintf("%.2f", cand.VolumeComponent),
			fmt.Sprintf("%d", cand.NewsCount24h),
			string(a.StrategyID),
			truncate(strings.Join(a.Trace, "; "), 40),
		)
	}
	table.Render()
}

// printPairs imprime el estado final de cada búsqueda de parámetros.
func (c *Console) printPairs(r domain.RunReport) {
	if len(r.Pairs) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== PARAMETER SEARCH (%d pairs) ===\n", len(r.Pairs))
	table := tablewriter.NewWriter(c.out)
	table.Header("Pair", "Phase", "Reason", "Iter", "Jobs", "Best Sharpe", "Best Ret")
	for _, o := range r.Pairs {
		sharpe, ret := "-", "-"
		if best, ok := o.Best(); ok {
			sharpe = fmt.Sprintf("%.4f", best.SharpeRatio)
			ret = fmt.Sprintf("%.2f%%", best.TotalReturn*100)
		}
		table.Append(
			o.State.Pair.String(),
			string(o.State.Phase),
			o.State.Reason,
			fmt.Sprintf("%d", o.State.IterationCount),
			fmt.Sprintf("%d", len(o.Jobs)),
			sharpe,
			ret,
		)
	}
	table.Render()
}

// printTop imprime el top-K del ranking.
func (c *Console) printTop(r domain.RunReport) {
	if len(r.TopStrategies) == 0 {
		fmt.Fprintln(c.out, "\n  ⚠ No strategies qualified for ranking")
		return
	}
	fmt.Fprintf(c.out, "\n=== TOP STRATEGIES ===\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Pair", "Combined", "Sharpe", "Return", "MaxDD", "Win", "Trades", "Params")
	for _, t := range r.TopStrategies {
		table.Append(
			fmt.Sprintf("%d", t.Rank),
			t.Pair.String(),
			fmt.Sprintf("%.4f", t.CombinedScore),
			fmt.Sprintf("%.4f", t.Result.SharpeRatio),
			fmt.Sprintf("%.2f%%", t.Result.TotalReturn*100),
			fmt.Sprintf("%.2f%%", t.Result.MaxDrawdown*100),
			fmt.Sprintf("%.1f%%", t.Result.WinRate*100),
			fmt.Sprintf("%d", t.Result.TradeCount),
			formatParams(t.Parameters),
		)
	}
	table.Render()
}

// printIssues imprime warnings y alertas del run.
func (c *Console) printIssues(r domain.RunReport) {
	if len(r.Warnings) == 0 && len(r.Alerts) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== ISSUES ===\n")
	for _, a := range r.Alerts {
		pair := ""
		if a.Pair.Symbol != "" {
			pair = a.Pair.String() + " "
		}
		fmt.Fprintf(c.out, "  !! [%s] %s%s\n", a.Kind, pair, a.Message)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(c.out, "  >> %s\n", w)
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

// formatParams imprime los parámetros ordenados por nombre: "a=1 b=0.05".
func formatParams(p domain.Parameters) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
