// Package app holds the dashboard view-model: the latest price snapshot,
// the derived visible set, selection, sync-health tracking and the alert
// engine. All mutating methods run to completion without blocking; I/O
// lives in the exchange and store collaborators, never here. A single
// mutex guards the whole state so the TUI loop and the web server can
// share one App.
package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/coindeck/coindeck/internal/domain"
)

// App is the application state model. Construct with New and share by
// pointer; there are no package-level globals.
type App struct {
	mu  sync.Mutex
	now func() time.Time

	symbols         []string
	refreshInterval time.Duration

	allRecords     []domain.PriceRecord
	visibleRecords []domain.PriceRecord

	selectedIndex int
	sortConfig    SortConfig
	activePreset  FilterPreset
	activeFilters []Filter

	searchMode  bool
	searchQuery string

	paused         bool
	showHelp       bool
	showAlertPanel bool

	candles      []domain.Candle
	candleSymbol string

	status DataStatus

	alerts       []Alert
	recentAlerts []RecentAlert
	notifier     Notifier

	errorLog    []ErrorEntry
	nextErrorID int
}

// Option configures an App at construction time.
type Option func(*App)

// WithNotifier wires the side-effect sink for triggered alerts.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithClock overrides the time source. Tests use this to step through
// cooldown windows and freshness buckets.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New builds an empty App tracking the given symbols. The configuration
// is an immutable input; the App never writes it back.
func New(symbols []string, refreshInterval time.Duration, opts ...Option) *App {
	a := &App{
		now:             time.Now,
		symbols:         symbols,
		refreshInterval: refreshInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Symbols returns the configured symbol universe.
func (a *App) Symbols() []string {
	out := make([]string, len(a.symbols))
	copy(out, a.symbols)
	return out
}

// RefreshInterval returns the configured polling interval.
func (a *App) RefreshInterval() time.Duration { return a.refreshInterval }

// ReplaceAll swaps in a full fetched snapshot. The replacement, alert
// evaluation, visible-set recompute and selection clamp complete under one
// lock hold, so no reader observes a half-updated state. There is no
// incremental update path; a snapshot replacement is all-or-nothing.
func (a *App) ReplaceAll(records []domain.PriceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allRecords = make([]domain.PriceRecord, len(records))
	copy(a.allRecords, records)

	a.evaluateAlertsLocked(a.allRecords)
	a.recomputeLocked(false)
}

// PatchRecord merges one live-ticker update into the current snapshot
// under the same lock ReplaceAll uses, so a tick can never overwrite a
// concurrent full refresh with stale data. Symbols absent from the
// snapshot are ignored. Reports whether the update was applied.
func (a *App) PatchRecord(rec domain.PriceRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.allRecords {
		if a.allRecords[i].Symbol == rec.Symbol {
			a.allRecords[i] = rec
			a.evaluateAlertsLocked(a.allRecords)
			a.recomputeLocked(false)
			return true
		}
	}
	return false
}

// recomputeLocked rederives the visible set. A structural change (preset
// or filter mutation) resets the selection to the top; a plain refresh
// only clamps it.
func (a *App) recomputeLocked(resetSelection bool) {
	a.visibleRecords = applyPipeline(a.allRecords, a.activePreset, a.activeFilters, a.sortConfig)
	if resetSelection {
		a.selectedIndex = 0
	}
	a.clampSelectionLocked()
}

func (a *App) clampSelectionLocked() {
	if len(a.visibleRecords) == 0 {
		a.selectedIndex = 0
		return
	}
	if a.selectedIndex >= len(a.visibleRecords) {
		a.selectedIndex = len(a.visibleRecords) - 1
	}
}

// AllRecords returns a copy of the full snapshot in fetch order.
func (a *App) AllRecords() []domain.PriceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.PriceRecord, len(a.allRecords))
	copy(out, a.allRecords)
	return out
}

// VisibleRecords returns a copy of the filtered, sorted view.
func (a *App) VisibleRecords() []domain.PriceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.PriceRecord, len(a.visibleRecords))
	copy(out, a.visibleRecords)
	return out
}

// VisibleCount returns (visible, total) row counts for the header.
func (a *App) VisibleCount() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.visibleRecords), len(a.allRecords)
}

// SelectedIndex returns the cursor position within the visible set.
func (a *App) SelectedIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedIndex
}

// SelectedRecord returns the selected row, if any.
func (a *App) SelectedRecord() (domain.PriceRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedLocked()
}

func (a *App) selectedLocked() (domain.PriceRecord, bool) {
	if a.selectedIndex >= len(a.visibleRecords) {
		return domain.PriceRecord{}, false
	}
	return a.visibleRecords[a.selectedIndex], true
}

// SelectNext moves the cursor down, wrapping to the top. No-op on an
// empty view.
func (a *App) SelectNext() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.visibleRecords) == 0 {
		return
	}
	a.selectedIndex = (a.selectedIndex + 1) % len(a.visibleRecords)
}

// SelectPrevious moves the cursor up, wrapping to the bottom. No-op on an
// empty view.
func (a *App) SelectPrevious() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.visibleRecords) == 0 {
		return
	}
	if a.selectedIndex == 0 {
		a.selectedIndex = len(a.visibleRecords) - 1
	} else {
		a.selectedIndex--
	}
}

// Select places the cursor on index i if it is within the visible set.
// Out-of-range indices are ignored, matching click handling.
func (a *App) Select(i int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i >= 0 && i < len(a.visibleRecords) {
		a.selectedIndex = i
	}
}

// NeedsCandleFetch returns the selected symbol when its chart data is
// missing or belongs to a previously selected symbol.
func (a *App) NeedsCandleFetch() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sel, ok := a.selectedLocked()
	if !ok {
		return "", false
	}
	if a.candleSymbol != sel.Symbol || len(a.candles) == 0 {
		return sel.Symbol, true
	}
	return "", false
}

// SetCandles stores chart data tagged with the currently selected symbol.
// Call only in direct response to a fetch triggered by NeedsCandleFetch;
// if the selection moved in between, the data is attributed to the new
// selection and the next NeedsCandleFetch corrects it.
func (a *App) SetCandles(candles []domain.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sel, ok := a.selectedLocked()
	if !ok {
		return
	}
	a.candles = make([]domain.Candle, len(candles))
	copy(a.candles, candles)
	a.candleSymbol = sel.Symbol
}

// Candles returns the cached chart data and the symbol it belongs to.
func (a *App) Candles() ([]domain.Candle, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.Candle, len(a.candles))
	copy(out, a.candles)
	return out, a.candleSymbol
}

// SortConfig returns the active sort configuration.
func (a *App) SortConfig() SortConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortConfig
}

// SetSortConfig replaces the sort configuration and re-sorts the view.
func (a *App) SetSortConfig(cfg SortConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sortConfig = cfg
	a.recomputeLocked(false)
}

// NextSortMode cycles Symbol → Price → 24h Change → Volume.
func (a *App) NextSortMode() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sortConfig.Mode = a.sortConfig.Mode.Next()
	a.recomputeLocked(false)
}

// ToggleSortDirection flips ascending/descending.
func (a *App) ToggleSortDirection() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sortConfig.Direction == Ascending {
		a.sortConfig.Direction = Descending
	} else {
		a.sortConfig.Direction = Ascending
	}
	a.recomputeLocked(false)
}

// SortStatus renders the sort badge, e.g. "Price ↓".
func (a *App) SortStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("%s %s", a.sortConfig.Mode, a.sortConfig.Direction)
}

// ActivePreset returns the current canned filter.
func (a *App) ActivePreset() FilterPreset {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activePreset
}

// SetFilterPreset activates a preset, replacing the previous one. Custom
// filters stay active and keep ANDing with the new preset.
func (a *App) SetFilterPreset(p FilterPreset) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.activePreset = p
	a.recomputeLocked(true)
}

// NextFilterPreset cycles through the canned presets.
func (a *App) NextFilterPreset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.activePreset = a.activePreset.Next()
	a.recomputeLocked(true)
}

// AddFilter activates a custom filter, replacing any existing filter of
// the same kind. A SymbolSearch with an empty query removes the search
// filter instead of matching everything.
func (a *App) AddFilter(f Filter) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeFilterLocked(f.Kind)
	if f.Kind == FilterSymbolSearch && f.Query == "" {
		a.recomputeLocked(true)
		return
	}
	a.activeFilters = append(a.activeFilters, f)
	a.recomputeLocked(true)
}

// RemoveFilter deactivates the filter of the given kind, if present.
func (a *App) RemoveFilter(kind FilterKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeFilterLocked(kind)
	a.recomputeLocked(true)
}

func (a *App) removeFilterLocked(kind FilterKind) {
	kept := a.activeFilters[:0]
	for _, f := range a.activeFilters {
		if f.Kind != kind {
			kept = append(kept, f)
		}
	}
	a.activeFilters = kept
}

// ClearAllFilters drops every custom filter and resets the preset to All.
func (a *App) ClearAllFilters() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.activeFilters = nil
	a.activePreset = PresetAll
	a.searchQuery = ""
	a.recomputeLocked(true)
}

// ActiveFilters returns a copy of the custom filter set.
func (a *App) ActiveFilters() []Filter {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Filter, len(a.activeFilters))
	copy(out, a.activeFilters)
	return out
}

// FilterStatus renders the filter badge for the header.
func (a *App) FilterStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.activePreset == PresetAll && len(a.activeFilters) == 0 {
		return "All"
	}
	s := a.activePreset.String()
	for _, f := range a.activeFilters {
		s += " + " + f.String()
	}
	return s
}

// EnterSearchMode starts interactive symbol search.
func (a *App) EnterSearchMode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searchMode = true
}

// ExitSearchMode leaves search mode and clears the search filter.
func (a *App) ExitSearchMode() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.searchMode = false
	a.searchQuery = ""
	a.removeFilterLocked(FilterSymbolSearch)
	a.recomputeLocked(true)
}

// SetSearchQuery updates the live search filter. An empty query clears
// the filter entirely rather than matching every symbol.
func (a *App) SetSearchQuery(query string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.searchQuery = query
	a.removeFilterLocked(FilterSymbolSearch)
	if query != "" {
		a.activeFilters = append(a.activeFilters, SymbolSearch(query))
	}
	a.recomputeLocked(true)
}

// SearchMode reports whether interactive search is active.
func (a *App) SearchMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searchMode
}

// SearchQuery returns the current search text.
func (a *App) SearchQuery() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.searchQuery
}

// TogglePause flips the refresh pause flag.
func (a *App) TogglePause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = !a.paused
}

// Paused reports whether automatic refresh is paused.
func (a *App) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// ToggleHelp flips the help overlay.
func (a *App) ToggleHelp() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.showHelp = !a.showHelp
}

// ShowHelp reports whether the help overlay is visible.
func (a *App) ShowHelp() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.showHelp
}

// ToggleAlertPanel flips the alert management overlay.
func (a *App) ToggleAlertPanel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.showAlertPanel = !a.showAlertPanel
}

// ShowAlertPanel reports whether the alert management overlay is visible.
func (a *App) ShowAlertPanel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.showAlertPanel
}
