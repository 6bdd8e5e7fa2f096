package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tidemark-lab/tidemark/internal/types"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// LabelStyle for summary row labels.
	LabelStyle = lipgloss.NewStyle().Faint(true).Width(16)
)

// renderSummary formats the run summary for the terminal.
func renderSummary(s types.RunSummary) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Run " + s.RunID))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Mode", string(s.Mode))
	row("Candles", fmt.Sprintf("%d", s.CandlesSeen))
	row("Trades", fmt.Sprintf("%d (%d won / %d lost)", s.TradeCount, s.WinningTrades, s.LosingTrades))
	row("Win rate", fmt.Sprintf("%.1f%%", s.WinRate*100))
	row("Final equity", fmt.Sprintf("%.2f", s.FinalEquity))
	row("Realized PnL", fmt.Sprintf("%+.2f", s.RealizedPnL))
	row("Fees", fmt.Sprintf("%.2f", s.TotalFees))
	row("Max drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdown*100))

	if s.StrategyFaults > 0 {
		row("Strategy faults", fmt.Sprintf("%d", s.StrategyFaults))
	}

	return b.String()
}
