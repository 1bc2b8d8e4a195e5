package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	dayFormat    = "2006-01-02"
	minuteFormat = "2006-01-02 15:04 UTC"
	monthFormat  = "January 2006"
)

// RenderMarkdown formats the report as a sectioned markdown document
func (s *Service) RenderMarkdown(r *Report) string {
	var b strings.Builder

	b.WriteString("# Market Barometer — Insights Report\n\n")
	fmt.Fprintf(&b, "Generated %s. Observations span %s — %s.\n\n",
		r.GeneratedAt.Format(minuteFormat),
		r.ObservedFrom.Format(minuteFormat),
		r.ObservedTo.Format(minuteFormat),
	)

	s.renderRisk(&b, r.Risk)
	s.renderMovers(&b, r.Movers)
	s.renderCriticalAnomalies(&b, r)

	return b.String()
}

func (s *Service) renderRisk(b *strings.Builder, risk RiskSummary) {
	b.WriteString("## Risk\n\n")
	fmt.Fprintf(b, "- **Level: %s**\n", risk.RiskLevel)

	if !risk.AsOfDay.IsZero() {
		fmt.Fprintf(b, "- Market health (%s): %s, composite %.1f/100\n",
			risk.AsOfDay.Format(dayFormat), risk.HealthState, risk.CompositeScore)
	} else {
		b.WriteString("- Market health: no scored days\n")
	}

	fmt.Fprintf(b, "- Anomalies: %s critical, %s warning\n",
		humanize.Comma(int64(risk.CriticalCount)), humanize.Comma(int64(risk.WarningCount)))

	if risk.AvgAbsCorrelation != nil {
		fmt.Fprintf(b, "- Average |pairwise correlation|: %.2f\n", *risk.AvgAbsCorrelation)
	} else {
		b.WriteString("- Average |pairwise correlation|: undefined\n")
	}

	var caveats []string
	if risk.ThinCorrelationSet {
		caveats = append(caveats, "correlation overlaps average under 24 observations")
	}
	if risk.ThinTrendHistory {
		caveats = append(caveats, "trend history spans under two months")
	}
	if len(caveats) > 0 {
		fmt.Fprintf(b, "\n_Caveats: %s._\n", strings.Join(caveats, "; "))
	}
	b.WriteString("\n")
}

func (s *Service) renderMovers(b *strings.Builder, movers Movers) {
	if movers.Month.IsZero() {
		b.WriteString("## Top movers\n\nNo month with defined month-over-month changes.\n\n")
		return
	}

	month := movers.Month.Format(monthFormat)
	renderMoverBoard(b, fmt.Sprintf("Top gainers — %s", month), movers.Gainers)
	renderMoverBoard(b, fmt.Sprintf("Top losers — %s", month), movers.Losers)
}

func renderMoverBoard(b *strings.Builder, title string, movers []Mover) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(movers) == 0 {
		b.WriteString("No qualifying rows.\n\n")
		return
	}

	b.WriteString("| # | Symbol | MoM | Avg market cap |\n")
	b.WriteString("|---|--------|-----|----------------|\n")
	for i, m := range movers {
		fmt.Fprintf(b, "| %d | %s | %s | %s |\n", i+1, m.Symbol, formatRatio(m.MoMChange), formatUSD(m.AvgMarketCapUSD))
	}
	b.WriteString("\n")
}

func (s *Service) renderCriticalAnomalies(b *strings.Builder, r *Report) {
	b.WriteString("## Critical anomalies\n\n")
	if len(r.CriticalAnomalies) == 0 {
		b.WriteString("None in the scored window.\n")
		return
	}

	for _, a := range r.CriticalAnomalies {
		fmt.Fprintf(b, "- %s **%s**: return %s, price z %s, volume z %s\n",
			a.Timestamp.Format(minuteFormat),
			a.Symbol,
			formatPct(a.HourlyReturnPct),
			formatZ(a.PriceZScore),
			formatZ(a.VolumeZScore),
		)
	}
}

// formatRatio renders a change ratio (0.05 = +5%) as a signed percentage
func formatRatio(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

// formatPct renders a value already expressed in percent units
func formatPct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func formatUSD(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return "$" + humanize.CommafWithDigits(*v, 0)
}

func formatZ(z *float64) string {
	if z == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *z)
}
