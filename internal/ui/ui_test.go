package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coindeck/coindeck/internal/app"
	"github.com/coindeck/coindeck/internal/domain"
)

type fakeFetcher struct {
	records []domain.PriceRecord
	candles []domain.Candle
	err     error
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, symbols []string) ([]domain.PriceRecord, error) {
	return f.records, f.err
}

func (f *fakeFetcher) FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	return f.candles, f.err
}

func newTestModel() (Model, *app.App) {
	state := app.New([]string{"BTCUSDT", "ETHUSDT"}, 5*time.Second)
	fetch := &fakeFetcher{
		records: []domain.PriceRecord{
			{Symbol: "BTCUSDT", Price: 50000, ChangePercent: 2.5, Volume: 1000},
			{Symbol: "ETHUSDT", Price: 3000, ChangePercent: -1.2, Volume: 500},
		},
	}
	return NewModel(state, fetch, nil), state
}

func key(s string) tea.KeyMsg {
	if len(s) == 1 {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{}
}

func TestSnapshotMsg_UpdatesState(t *testing.T) {
	m, state := newTestModel()

	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}}})
	m = updated.(Model)

	records := state.AllRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.False(t, state.Status().LastSuccess.IsZero())
}

func TestSnapshotMsg_ErrorRecordsFailure(t *testing.T) {
	m, state := newTestModel()

	for i := 0; i < 3; i++ {
		updated, _ := m.Update(snapshotMsg{err: errors.New("connection refused")})
		m = updated.(Model)
	}

	assert.True(t, state.Offline())
	entries := state.Errors()
	require.Len(t, entries, 3)
	assert.Equal(t, app.ErrNetwork, entries[0].Kind)
}

func TestTick_SkipsFetchWhenPausedOrOffline(t *testing.T) {
	m, state := newTestModel()

	state.TogglePause()
	_, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "tick always reschedules itself")

	state.TogglePause()
	state.ToggleOffline()
	_, cmd = m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
}

func TestKeys_DriveState(t *testing.T) {
	m, state := newTestModel()
	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{
		{Symbol: "BTCUSDT", Price: 50000},
		{Symbol: "ETHUSDT", Price: 3000},
	}})
	m = updated.(Model)

	updated, _ = m.Update(key("down"))
	m = updated.(Model)
	assert.Equal(t, 1, state.SelectedIndex())

	updated, _ = m.Update(key("s"))
	m = updated.(Model)
	assert.Equal(t, app.SortPrice, state.SortConfig().Mode)

	updated, _ = m.Update(key("d"))
	m = updated.(Model)
	assert.Equal(t, app.Descending, state.SortConfig().Direction)

	updated, _ = m.Update(key("f"))
	m = updated.(Model)
	assert.Equal(t, app.PresetTopGainers, state.ActivePreset())

	updated, _ = m.Update(key("p"))
	m = updated.(Model)
	assert.True(t, state.Paused())

	updated, _ = m.Update(key("o"))
	m = updated.(Model)
	assert.True(t, state.Offline())

	updated, _ = m.Update(key("?"))
	m = updated.(Model)
	assert.True(t, state.ShowHelp())
}

func TestSearchMode_TypingFiltersAndEscClears(t *testing.T) {
	m, state := newTestModel()
	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{
		{Symbol: "BTCUSDT", Price: 50000},
		{Symbol: "ETHUSDT", Price: 3000},
	}})
	m = updated.(Model)

	updated, _ = m.Update(key("/"))
	m = updated.(Model)
	require.True(t, state.SearchMode())

	for _, r := range "btc" {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	assert.Equal(t, "btc", state.SearchQuery())
	visible, _ := state.VisibleCount()
	assert.Equal(t, 1, visible)

	updated, _ = m.Update(key("esc"))
	m = updated.(Model)
	assert.False(t, state.SearchMode())
	visible, _ = state.VisibleCount()
	assert.Equal(t, 2, visible, "esc drops the search filter")
}

func TestSearchMode_EnterKeepsFilter(t *testing.T) {
	m, state := newTestModel()
	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{
		{Symbol: "BTCUSDT", Price: 50000},
		{Symbol: "ETHUSDT", Price: 3000},
	}})
	m = updated.(Model)

	updated, _ = m.Update(key("/"))
	m = updated.(Model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")})
	m = updated.(Model)
	updated, _ = m.Update(key("enter"))
	m = updated.(Model)

	assert.False(t, state.SearchMode())
	visible, _ := state.VisibleCount()
	assert.Equal(t, 1, visible, "enter keeps the active filter")
}

func TestCandlesMsg_FillsCache(t *testing.T) {
	m, state := newTestModel()
	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}}})
	m = updated.(Model)

	updated, _ = m.Update(candlesMsg{symbol: "BTCUSDT", candles: []domain.Candle{{Close: 105, Timestamp: 1000}}})
	m = updated.(Model)

	candles, symbol := state.Candles()
	assert.Equal(t, "BTCUSDT", symbol)
	require.Len(t, candles, 1)

	_, need := state.NeedsCandleFetch()
	assert.False(t, need)
}

func TestView_RendersRowsAndStatus(t *testing.T) {
	m, state := newTestModel()
	updated, _ := m.Update(snapshotMsg{records: []domain.PriceRecord{
		{Symbol: "BTCUSDT", Price: 50000, ChangePercent: 2.5, Volume: 1500000},
	}})
	m = updated.(Model)
	state.RecordSuccess()

	out := m.View()
	assert.Contains(t, out, "coindeck")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "1/1 rows")

	state.ToggleHelp()
	out = m.View()
	assert.Contains(t, out, "cycle sort column")
}

func TestNextTimeframe_Cycles(t *testing.T) {
	assert.Equal(t, domain.TF5m, nextTimeframe(domain.TF1m))
	assert.Equal(t, domain.TF1m, nextTimeframe(domain.TF1w), "wraps around")
	assert.Equal(t, domain.TF1h, nextTimeframe(domain.Timeframe("bogus")))
}

func TestSparkline(t *testing.T) {
	assert.Empty(t, sparkline(nil, 10))
	assert.Empty(t, sparkline([]float64{1, 2}, 0))

	line := sparkline([]float64{1, 2, 3, 4}, 10)
	assert.NotEmpty(t, line)

	// Flat series draws without dividing by zero.
	flat := sparkline([]float64{5, 5, 5}, 10)
	assert.NotEmpty(t, flat)

	// Long series is resampled down to the requested width.
	values := make([]float64, 500)
	for i := range values {
		values[i] = float64(i)
	}
	long := sparkline(values, 40)
	assert.NotEmpty(t, long)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "$50000.00", formatPrice(50000))
	assert.Equal(t, "$1.5000", formatPrice(1.5))
	assert.Equal(t, "$0.000035", formatPrice(0.000035))

	assert.Equal(t, "1.20B", formatVolume(1.2e9))
	assert.Equal(t, "3.50M", formatVolume(3.5e6))
	assert.Equal(t, "2.00K", formatVolume(2000))
	assert.Equal(t, "42.00", formatVolume(42))
}
