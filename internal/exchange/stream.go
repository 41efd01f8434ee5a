package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coindeck/coindeck/internal/domain"
)

const defaultStreamURL = "wss://stream.binance.com:9443"

// TickUpdate is one live miniTicker event pushed by the exchange.
type TickUpdate struct {
	Record domain.PriceRecord
	At     time.Time
}

// Stream subscribes to the combined miniTicker websocket feed for a set
// of symbols and delivers updates on a channel. It reconnects with
// backoff until the context is cancelled.
type Stream struct {
	url     string
	symbols []string
	updates chan TickUpdate
}

// NewStream prepares a miniTicker stream for symbols. Run must be
// called to start it.
func NewStream(symbols []string, opts ...StreamOption) *Stream {
	s := &Stream{
		url:     defaultStreamURL,
		symbols: symbols,
		updates: make(chan TickUpdate, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamURL overrides the websocket host, used by tests.
func WithStreamURL(u string) StreamOption {
	return func(s *Stream) { s.url = u }
}

// Updates returns the channel live ticks are delivered on. It is closed
// when Run returns.
func (s *Stream) Updates() <-chan TickUpdate { return s.updates }

// Run connects and pumps events until ctx is cancelled. Connection
// drops trigger a reconnect with capped exponential backoff.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.updates)

	backoff := time.Second
	for {
		if err := s.pump(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("websocket stream dropped")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// combinedEvent is one frame from the /stream multiplexed endpoint.
type combinedEvent struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

func (s *Stream) pump(ctx context.Context) error {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = strings.ToLower(symbol) + "@miniTicker"
	}
	u := s.url + "/stream?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	log.Info().Int("symbols", len(s.symbols)).Msg("websocket stream connected")

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var ev combinedEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			log.Debug().Err(err).Msg("skipping malformed stream frame")
			continue
		}
		if ev.Data.EventType != "24hrMiniTicker" {
			continue
		}

		update := TickUpdate{Record: ev.Data.toRecord(), At: time.UnixMilli(ev.Data.EventTime)}
		select {
		case s.updates <- update:
		default:
			// Drop rather than block the read loop when the consumer
			// falls behind.
		}
	}
}

func (t miniTicker) toRecord() domain.PriceRecord {
	closePrice := parseFloat(t.Close)
	openPrice := parseFloat(t.Open)

	var changePct float64
	if openPrice != 0 {
		changePct = (closePrice - openPrice) / openPrice * 100
	}

	return domain.PriceRecord{
		Symbol:        t.Symbol,
		Price:         closePrice,
		ChangePercent: changePct,
		Volume:        parseFloat(t.Volume),
		High24h:       parseFloat(t.High),
		Low24h:        parseFloat(t.Low),
		PrevClose:     openPrice,
	}
}
