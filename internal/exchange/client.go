// Package exchange fetches ticker and candle data from the Binance
// public REST API and streams live updates over its websocket feed.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coindeck/coindeck/internal/domain"
	"github.com/coindeck/coindeck/internal/metrics"
)

const defaultBaseURL = "https://api.binance.com"

// Client talks to the Binance REST API. All calls pass through a shared
// rate limiter and a circuit breaker so a flapping exchange cannot melt
// the refresh loop.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host, used by tests and mirrors.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a REST client with Binance-appropriate limits:
// 15 req/s and a breaker that opens after 5 consecutive failures.
func NewClient(opts ...Option) *Client {
	st := gobreaker.Settings{Name: "binance-rest"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}

	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(15), 15),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ticker24h mirrors the /api/v3/ticker/24hr response. Binance encodes
// numbers as strings.
type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	PrevClosePrice     string `json:"prevClosePrice"`
}

// FetchSnapshot fetches the 24h ticker for every symbol concurrently.
// Individual symbol failures are logged and skipped; the call errors
// only when no symbol succeeds.
func (c *Client) FetchSnapshot(ctx context.Context, symbols []string) ([]domain.PriceRecord, error) {
	start := time.Now()

	type slot struct {
		rec domain.PriceRecord
		err error
	}
	slots := make([]slot, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			rec, err := c.fetchTicker(ctx, symbol)
			slots[i] = slot{rec: rec, err: err}
		}(i, symbol)
	}
	wg.Wait()

	records := make([]domain.PriceRecord, 0, len(symbols))
	var failed int
	for i, s := range slots {
		if s.err != nil {
			failed++
			metrics.SymbolFetchErrors.WithLabelValues(symbols[i]).Inc()
			log.Warn().Err(s.err).Str("symbol", symbols[i]).Msg("ticker fetch failed")
			continue
		}
		records = append(records, s.rec)
	}

	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if len(records) == 0 && len(symbols) > 0 {
		metrics.FetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("all %d symbol fetches failed", len(symbols))
	}

	metrics.FetchesTotal.WithLabelValues("success").Inc()
	log.Debug().Int("ok", len(records)).Int("failed", failed).Dur("took", time.Since(start)).Msg("snapshot fetched")
	return records, nil
}

func (c *Client) fetchTicker(ctx context.Context, symbol string) (domain.PriceRecord, error) {
	q := url.Values{"symbol": {symbol}}
	body, err := c.get(ctx, "/api/v3/ticker/24hr", q)
	if err != nil {
		return domain.PriceRecord{}, err
	}

	var t ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.PriceRecord{}, fmt.Errorf("decode ticker %s: %w", symbol, err)
	}

	return domain.PriceRecord{
		Symbol:        t.Symbol,
		Price:         parseFloat(t.LastPrice),
		ChangePercent: parseFloat(t.PriceChangePercent),
		Volume:        parseFloat(t.Volume),
		High24h:       parseFloat(t.HighPrice),
		Low24h:        parseFloat(t.LowPrice),
		PrevClose:     parseFloat(t.PrevClosePrice),
	}, nil
}

// FetchCandles fetches OHLCV bars for symbol at the given interval.
// Malformed kline fields decode to zero rather than failing the batch.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	q := url.Values{
		"symbol":   {symbol},
		"interval": {tf.String()},
		"limit":    {strconv.Itoa(tf.Limit())},
	}
	body, err := c.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, err
	}

	// Klines arrive as heterogeneous arrays:
	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openTime int64
		_ = json.Unmarshal(k[0], &openTime)
		candles = append(candles, domain.Candle{
			Timestamp: openTime,
			Open:      parseRawFloat(k[1]),
			High:      parseRawFloat(k[2]),
			Low:       parseRawFloat(k[3]),
			Close:     parseRawFloat(k[4]),
			Volume:    parseRawFloat(k[5]),
		})
	}
	return candles, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// parseFloat decodes Binance's stringified numbers, defaulting to zero
// on malformed input.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseRawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloat(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
