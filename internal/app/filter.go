package app

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/coindeck/coindeck/internal/domain"
)

// SortMode selects the column the visible set is ordered by.
type SortMode int

const (
	SortSymbol SortMode = iota
	SortPrice
	SortChangePercent
	SortVolume
)

// Next cycles to the following sort mode, wrapping back to Symbol.
func (m SortMode) Next() SortMode {
	switch m {
	case SortSymbol:
		return SortPrice
	case SortPrice:
		return SortChangePercent
	case SortChangePercent:
		return SortVolume
	default:
		return SortSymbol
	}
}

func (m SortMode) String() string {
	switch m {
	case SortSymbol:
		return "Symbol"
	case SortPrice:
		return "Price"
	case SortChangePercent:
		return "24h Change"
	case SortVolume:
		return "Volume"
	default:
		return "Unknown"
	}
}

// SortDirection orders a sort mode ascending or descending.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

func (d SortDirection) String() string {
	if d == Descending {
		return "↓"
	}
	return "↑"
}

// SortConfig pairs a sort mode with a direction.
type SortConfig struct {
	Mode      SortMode      `json:"mode"`
	Direction SortDirection `json:"direction"`
}

// FilterPreset is a canned, mutually exclusive filter. Exactly one preset
// is active at a time; selecting a preset replaces the previous one.
type FilterPreset int

const (
	PresetAll FilterPreset = iota
	PresetTopGainers
	PresetTopLosers
	PresetHighVolume
	PresetVolatile
	PresetStable
)

// Next cycles to the following preset, wrapping back to All.
func (p FilterPreset) Next() FilterPreset {
	if p == PresetStable {
		return PresetAll
	}
	return p + 1
}

func (p FilterPreset) String() string {
	switch p {
	case PresetAll:
		return "All"
	case PresetTopGainers:
		return "Top Gainers"
	case PresetTopLosers:
		return "Top Losers"
	case PresetHighVolume:
		return "High Volume"
	case PresetVolatile:
		return "Volatile"
	case PresetStable:
		return "Stable"
	default:
		return "Unknown"
	}
}

// FilterKind identifies a custom filter. At most one filter of each kind
// is active; adding another of the same kind replaces it.
type FilterKind int

const (
	FilterPriceRange FilterKind = iota
	FilterChangePercentRange
	FilterVolumeRange
	FilterSymbolSearch
)

// Filter is a user-specified constraint ANDed with the active preset and
// with every other active filter. Range bounds are inclusive; a nil bound
// is unconstrained.
type Filter struct {
	Kind  FilterKind
	Min   *float64
	Max   *float64
	Query string
}

// PriceRange keeps records whose price falls within [min, max].
func PriceRange(min, max *float64) Filter {
	return Filter{Kind: FilterPriceRange, Min: min, Max: max}
}

// ChangePercentRange keeps records whose 24h change falls within [min, max].
func ChangePercentRange(min, max *float64) Filter {
	return Filter{Kind: FilterChangePercentRange, Min: min, Max: max}
}

// VolumeRange keeps records whose 24h volume falls within [min, max].
func VolumeRange(min, max *float64) Filter {
	return Filter{Kind: FilterVolumeRange, Min: min, Max: max}
}

// SymbolSearch keeps records whose symbol contains query, case-insensitive.
func SymbolSearch(query string) Filter {
	return Filter{Kind: FilterSymbolSearch, Query: query}
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec domain.PriceRecord) bool {
	switch f.Kind {
	case FilterPriceRange:
		return inRange(rec.Price, f.Min, f.Max)
	case FilterChangePercentRange:
		return inRange(rec.ChangePercent, f.Min, f.Max)
	case FilterVolumeRange:
		return inRange(rec.Volume, f.Min, f.Max)
	case FilterSymbolSearch:
		return strings.Contains(strings.ToUpper(rec.Symbol), strings.ToUpper(f.Query))
	default:
		return true
	}
}

func (f Filter) String() string {
	switch f.Kind {
	case FilterPriceRange:
		return fmt.Sprintf("Price %s", rangeString(f.Min, f.Max, "$%.2f"))
	case FilterChangePercentRange:
		return fmt.Sprintf("Change %s", rangeString(f.Min, f.Max, "%.1f%%"))
	case FilterVolumeRange:
		return fmt.Sprintf("Volume %s", rangeString(f.Min, f.Max, "%.0f"))
	case FilterSymbolSearch:
		return fmt.Sprintf("Search %q", f.Query)
	default:
		return "Unknown"
	}
}

func inRange(v float64, min, max *float64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

func rangeString(min, max *float64, format string) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf(format+"–"+format, *min, *max)
	case min != nil:
		return fmt.Sprintf("≥ "+format, *min)
	case max != nil:
		return fmt.Sprintf("≤ "+format, *max)
	default:
		return "any"
	}
}

// Preset thresholds. Product choices carried over as-is.
const (
	topGainerThreshold = 5.0
	topLoserThreshold  = -5.0
	volatileThreshold  = 3.0
	stableThreshold    = 1.0
	highVolumeTopShare = 0.2
)

// applyPipeline derives the visible set from the full snapshot. Pure
// function: deterministic, no side effects, safe to call repeatedly with
// the same inputs.
func applyPipeline(all []domain.PriceRecord, preset FilterPreset, filters []Filter, cfg SortConfig) []domain.PriceRecord {
	out := make([]domain.PriceRecord, len(all))
	copy(out, all)

	out = applyPreset(out, preset)

	for _, f := range filters {
		kept := out[:0]
		for _, rec := range out {
			if f.Match(rec) {
				kept = append(kept, rec)
			}
		}
		out = kept
	}

	sortRecords(out, cfg)
	return out
}

func applyPreset(recs []domain.PriceRecord, preset FilterPreset) []domain.PriceRecord {
	switch preset {
	case PresetAll:
		return recs
	case PresetTopGainers:
		return keep(recs, func(r domain.PriceRecord) bool { return r.ChangePercent > topGainerThreshold })
	case PresetTopLosers:
		return keep(recs, func(r domain.PriceRecord) bool { return r.ChangePercent < topLoserThreshold })
	case PresetHighVolume:
		return keepHighVolume(recs)
	case PresetVolatile:
		return keep(recs, func(r domain.PriceRecord) bool { return math.Abs(r.ChangePercent) > volatileThreshold })
	case PresetStable:
		return keep(recs, func(r domain.PriceRecord) bool { return math.Abs(r.ChangePercent) < stableThreshold })
	default:
		return recs
	}
}

func keep(recs []domain.PriceRecord, pred func(domain.PriceRecord) bool) []domain.PriceRecord {
	kept := recs[:0]
	for _, rec := range recs {
		if pred(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// keepHighVolume is a threshold cut at the k-th ranked volume, k =
// ceil(0.2n). Ties at the threshold are all kept, so the result can
// exceed 20% of the input.
func keepHighVolume(recs []domain.PriceRecord) []domain.PriceRecord {
	n := len(recs)
	if n == 0 {
		return recs
	}

	ranked := make([]domain.PriceRecord, n)
	copy(ranked, recs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return floatLess(ranked[j].Volume, ranked[i].Volume)
	})

	idx := int(math.Ceil(highVolumeTopShare*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	threshold := ranked[idx].Volume

	return keep(recs, func(r domain.PriceRecord) bool { return r.Volume >= threshold })
}

// sortRecords orders recs in place by cfg. The underlying sort is stable,
// so equal keys preserve their prior relative order.
func sortRecords(recs []domain.PriceRecord, cfg SortConfig) {
	var less func(i, j int) bool
	switch cfg.Mode {
	case SortSymbol:
		less = func(i, j int) bool { return recs[i].Symbol < recs[j].Symbol }
	case SortPrice:
		less = func(i, j int) bool { return floatLess(recs[i].Price, recs[j].Price) }
	case SortChangePercent:
		less = func(i, j int) bool { return floatLess(recs[i].ChangePercent, recs[j].ChangePercent) }
	case SortVolume:
		less = func(i, j int) bool { return floatLess(recs[i].Volume, recs[j].Volume) }
	default:
		return
	}

	if cfg.Direction == Descending {
		asc := less
		less = func(i, j int) bool { return asc(j, i) }
	}

	sort.SliceStable(recs, less)
}

// floatLess is a total order over float64: NaN sorts greater than any
// number so a poisoned value can never shadow real data at the top of an
// ascending view.
func floatLess(a, b float64) bool {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN:
		return false
	case bNaN:
		return true
	default:
		return a < b
	}
}
