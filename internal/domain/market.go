package domain

import "time"

// PriceRecord is one symbol's latest 24h ticker snapshot. Records are
// immutable once constructed; a refresh replaces the whole set, it never
// patches individual fields.
type PriceRecord struct {
	Symbol        string  `json:"symbol" db:"symbol"`
	Price         float64 `json:"price" db:"price"`
	ChangePercent float64 `json:"change_percent" db:"change_percent"`
	Volume        float64 `json:"volume" db:"volume"`
	High24h       float64 `json:"high_24h" db:"high_24h"`
	Low24h        float64 `json:"low_24h" db:"low_24h"`
	PrevClose     float64 `json:"prev_close" db:"prev_close"`
}

// Candle is a single OHLCV bar. Timestamp is the bar open time in
// milliseconds since epoch, matching the exchange kline format.
type Candle struct {
	Open      float64 `json:"open" db:"open"`
	High      float64 `json:"high" db:"high"`
	Low       float64 `json:"low" db:"low"`
	Close     float64 `json:"close" db:"close"`
	Volume    float64 `json:"volume" db:"volume"`
	Timestamp int64   `json:"timestamp" db:"timestamp"`
}

// OpenTime returns the bar open time as a time.Time.
func (c Candle) OpenTime() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Timeframe is a candle interval supported by the chart views.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

// Timeframes lists the supported intervals in display order.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d, TF1w}
}

// Valid reports whether tf is one of the supported intervals.
func (tf Timeframe) Valid() bool {
	for _, t := range Timeframes() {
		if t == tf {
			return true
		}
	}
	return false
}

func (tf Timeframe) String() string { return string(tf) }

// Limit returns the default number of candles fetched for this interval.
func (tf Timeframe) Limit() int { return 100 }
