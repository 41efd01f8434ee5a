// Package ui is the terminal dashboard, built on bubbletea. The model
// is intentionally thin: all state lives in *app.App, the Update loop
// only translates key presses and fetch results into state calls.
package ui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/coindeck/coindeck/internal/app"
	"github.com/coindeck/coindeck/internal/domain"
	"github.com/coindeck/coindeck/internal/metrics"
	"github.com/coindeck/coindeck/internal/store"
)

// Fetcher is the exchange surface the TUI needs.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, symbols []string) ([]domain.PriceRecord, error)
	FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error)
}

// Messages.
type tickMsg time.Time

type snapshotMsg struct {
	records []domain.PriceRecord
	err     error
}

type candlesMsg struct {
	symbol  string
	candles []domain.Candle
	err     error
}

// Model drives the terminal dashboard.
type Model struct {
	state *app.App
	fetch Fetcher
	db    *store.Store // optional; nil disables persistence

	tf            domain.Timeframe
	search        textinput.Model
	width, height int
}

// NewModel builds the TUI model. db may be nil.
func NewModel(state *app.App, fetch Fetcher, db *store.Store) Model {
	search := textinput.New()
	search.Prompt = "/"
	search.Placeholder = "symbol"
	search.CharLimit = 20

	return Model{
		state:  state,
		fetch:  fetch,
		db:     db,
		tf:     domain.TF1h,
		search: search,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.state.RefreshInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		records, err := m.fetch.FetchSnapshot(ctx, m.state.Symbols())
		return snapshotMsg{records: records, err: err}
	}
}

func (m Model) candleCmd(symbol string) tea.Cmd {
	tf := m.tf
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		candles, err := m.fetch.FetchCandles(ctx, symbol, tf)
		return candlesMsg{symbol: symbol, candles: candles, err: err}
	}
}

func (m Model) persistCmd(records []domain.PriceRecord) tea.Cmd {
	if m.db == nil {
		return nil
	}
	db := m.db
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.StorePrices(ctx, records); err != nil {
			log.Warn().Err(err).Msg("failed to persist snapshot")
		}
		return nil
	}
}

// maybeCandleCmd fetches chart data when the cache does not cover the
// current selection.
func (m Model) maybeCandleCmd() tea.Cmd {
	if symbol, ok := m.state.NeedsCandleFetch(); ok {
		return m.candleCmd(symbol)
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{m.tickCmd()}
		if !m.state.Paused() && !m.state.Offline() {
			cmds = append(cmds, m.fetchCmd())
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		if msg.err != nil {
			m.state.RecordFailure()
			m.state.ReportError(app.ErrNetwork, app.SeverityWarning, msg.err.Error())
			metrics.ConsecutiveFailures.Set(float64(m.state.Status().ConsecutiveFailures))
			return m, nil
		}
		m.state.ReplaceAll(msg.records)
		m.state.RecordSuccess()
		metrics.ConsecutiveFailures.Set(0)
		return m, tea.Batch(m.persistCmd(msg.records), m.maybeCandleCmd())

	case candlesMsg:
		if msg.err != nil {
			m.state.ReportError(app.ErrAPI, app.SeverityInfo, fmt.Sprintf("candles %s: %v", msg.symbol, msg.err))
			return m, nil
		}
		m.state.SetCandles(msg.candles)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state.SearchMode() {
		return m.handleSearchKey(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		m.state.SelectPrevious()
		return m, m.maybeCandleCmd()
	case "down", "j":
		m.state.SelectNext()
		return m, m.maybeCandleCmd()
	case "s":
		m.state.NextSortMode()
	case "d":
		m.state.ToggleSortDirection()
	case "f":
		m.state.NextFilterPreset()
		return m, m.maybeCandleCmd()
	case "c":
		// Cycling the timeframe always refetches the selected chart.
		m.tf = nextTimeframe(m.tf)
		if sel, ok := m.state.SelectedRecord(); ok {
			return m, m.candleCmd(sel.Symbol)
		}
	case "x":
		m.state.ClearAllFilters()
		return m, m.maybeCandleCmd()
	case "o":
		m.state.ToggleOffline()
	case "p":
		m.state.TogglePause()
	case "r":
		return m, m.fetchCmd()
	case "/":
		m.state.EnterSearchMode()
		m.search.SetValue(m.state.SearchQuery())
		return m, m.search.Focus()
	case "a":
		m.state.ToggleAlertPanel()
	case "?":
		m.state.ToggleHelp()
	case "esc":
		if m.state.ShowHelp() {
			m.state.ToggleHelp()
		}
		if m.state.ShowAlertPanel() {
			m.state.ToggleAlertPanel()
		}
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state.ExitSearchMode()
		m.search.Blur()
		m.search.SetValue("")
		return m, m.maybeCandleCmd()
	case "enter":
		// Keep the filter active but leave the input.
		query := m.state.SearchQuery()
		m.state.ExitSearchMode()
		m.search.Blur()
		if query != "" {
			m.state.SetSearchQuery(query)
		}
		return m, m.maybeCandleCmd()
	}

	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.state.SetSearchQuery(m.search.Value())
	return m, tea.Batch(cmd, m.maybeCandleCmd())
}

func nextTimeframe(tf domain.Timeframe) domain.Timeframe {
	tfs := domain.Timeframes()
	for i, t := range tfs {
		if t == tf {
			return tfs[(i+1)%len(tfs)]
		}
	}
	return domain.TF1h
}

// BellNotifier rings the terminal bell for triggered alerts and feeds
// the alert counter.
type BellNotifier struct{}

func (BellNotifier) Notify(message string) {
	metrics.AlertsTriggered.Inc()
	fmt.Fprint(os.Stderr, "\a")
}

// Run starts the TUI event loop and blocks until quit.
func Run(state *app.App, fetch Fetcher, db *store.Store) error {
	p := tea.NewProgram(NewModel(state, fetch, db), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
