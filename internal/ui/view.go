package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles.
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("236"))
	gainStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pausedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	overlayStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	searchStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func (m Model) View() string {
	if m.state.ShowHelp() {
		return overlayStyle.Render(helpText())
	}
	if m.state.ShowAlertPanel() {
		return overlayStyle.Render(m.alertPanel())
	}

	var b strings.Builder
	b.WriteString(m.headerLine())
	b.WriteString("\n\n")
	b.WriteString(m.table())
	b.WriteString("\n")
	b.WriteString(m.chart())
	if m.state.SearchMode() {
		b.WriteString("\n" + searchStyle.Render(m.search.View()))
	}
	b.WriteString("\n" + m.footerLine())
	return b.String()
}

func (m Model) headerLine() string {
	parts := []string{
		titleStyle.Render("coindeck"),
		m.state.OfflineIndicator(),
		dimStyle.Render("sort: " + m.state.SortStatus()),
		dimStyle.Render("filter: " + m.state.FilterStatus()),
	}
	if m.state.Paused() {
		parts = append(parts, pausedStyle.Render("⏸ PAUSED"))
	}
	if summary := m.state.ErrorSummary(); summary != "" {
		parts = append(parts, summary)
	}
	if n := m.state.EnabledAlertCount(); n > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("⏰ %d", n)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) table() string {
	records := m.state.VisibleRecords()
	selected := m.state.SelectedIndex()

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %14s %9s %16s %14s %14s",
		"Symbol", "Price", "24h", "Volume", "High", "Low")))
	b.WriteString("\n")

	if len(records) == 0 {
		b.WriteString(dimStyle.Render("  no rows match the active filters"))
		return b.String()
	}

	for i, rec := range records {
		change := fmt.Sprintf("%+.2f%%", rec.ChangePercent)
		if rec.ChangePercent >= 0 {
			change = gainStyle.Render(change)
		} else {
			change = lossStyle.Render(change)
		}

		line := fmt.Sprintf("%-12s %14s %9s %16s %14s %14s",
			rec.Symbol,
			formatPrice(rec.Price),
			change,
			formatVolume(rec.Volume),
			formatPrice(rec.High24h),
			formatPrice(rec.Low24h))

		if i == selected {
			line = selectedStyle.Render("▸ " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) chart() string {
	candles, symbol := m.state.Candles()
	sel, ok := m.state.SelectedRecord()
	if !ok || symbol != sel.Symbol || len(candles) == 0 {
		return ""
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	width := m.width - 4
	if width <= 0 {
		width = 60
	}
	return fmt.Sprintf("%s %s\n%s\n",
		dimStyle.Render(symbol),
		dimStyle.Render(string(m.tf)),
		sparkline(closes, width))
}

func (m Model) footerLine() string {
	visible, total := m.state.VisibleCount()
	hints := "q quit · ↑↓ move · s sort · d dir · f filter · / search · c timeframe · a alerts · p pause · o offline · r refresh · ? help"
	return dimStyle.Render(fmt.Sprintf("%d/%d rows · %s · %s", visible, total, m.state.DataAgeString(), hints))
}

func (m Model) alertPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Alerts") + "\n\n")

	alerts := m.state.Alerts()
	if len(alerts) == 0 {
		b.WriteString(dimStyle.Render("no alerts configured") + "\n")
	}
	for _, a := range alerts {
		status := "on "
		if !a.Enabled {
			status = "off"
		}
		b.WriteString(fmt.Sprintf("[%s] #%d %-12s %s (fired %d)\n",
			status, a.ID, a.Symbol, a.Condition.Description(), a.TriggerCount))
	}

	recent := m.state.RecentAlerts()
	if len(recent) > 0 {
		b.WriteString("\n" + titleStyle.Render("Recent") + "\n")
		for _, r := range recent {
			b.WriteString(fmt.Sprintf("%s  %s\n", r.At.Format("15:04:05"), r.Message))
		}
	}

	b.WriteString("\n" + dimStyle.Render("a/esc close"))
	return b.String()
}

func helpText() string {
	return strings.TrimSpace(`
coindeck keys

  q, ctrl+c   quit
  ↑/k ↓/j     move selection
  s           cycle sort column
  d           flip sort direction
  f           cycle filter preset
  x           clear all filters
  /           search symbols (enter keeps, esc clears)
  c           cycle chart timeframe
  a           alert panel
  p           pause refresh
  o           toggle offline mode
  r           refresh now
  ?, esc      close this help
`)
}

// sparkline renders closes as a fixed-height unicode strip. The series
// is resampled to width columns; a flat series draws mid-height.
func sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		resampled := make([]float64, width)
		for i := range resampled {
			resampled[i] = values[i*len(values)/width]
		}
		values = resampled
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var b strings.Builder
	for _, v := range values {
		idx := len(sparkRunes) / 2
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}

	trend := gainStyle
	if values[len(values)-1] < values[0] {
		trend = lossStyle
	}
	return trend.Render(b.String())
}

func formatPrice(v float64) string {
	switch {
	case v >= 1000:
		return fmt.Sprintf("$%.2f", v)
	case v >= 1:
		return fmt.Sprintf("$%.4f", v)
	default:
		return fmt.Sprintf("$%.6f", v)
	}
}

func formatVolume(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.2fK", v/1e3)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
