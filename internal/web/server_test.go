package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coindeck/coindeck/internal/app"
	"github.com/coindeck/coindeck/internal/domain"
	"github.com/coindeck/coindeck/internal/store"
)

type fakeCandleSource struct {
	candles []domain.Candle
	err     error
	calls   int
}

func (f *fakeCandleSource) FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	f.calls++
	return f.candles, f.err
}

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	state := app.New([]string{"BTCUSDT", "ETHUSDT"}, 5*time.Second)
	db, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := NewServer("127.0.0.1:0", state, db, &fakeCandleSource{
		candles: []domain.Candle{{Open: 100, Close: 105, Timestamp: 1000}},
	})
	return srv, state
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPricesEndpoint(t *testing.T) {
	srv, state := newTestServer(t)

	rec := doJSON(t, srv.Handler(), "GET", "/api/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "empty state serves an empty array, not null")

	state.ReplaceAll([]domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}})
	rec = doJSON(t, srv.Handler(), "GET", "/api/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []domain.PriceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPriceBySymbol(t *testing.T) {
	srv, state := newTestServer(t)
	state.ReplaceAll([]domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}})

	rec := doJSON(t, srv.Handler(), "GET", "/api/prices/BTCUSDT", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.PriceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 50000.0, got.Price)

	rec = doJSON(t, srv.Handler(), "GET", "/api/prices/NOPEUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown symbol")
}

func TestPriceBySymbol_WarmStartFromStore(t *testing.T) {
	srv, _ := newTestServer(t)

	// Nothing fetched yet, but the database has history from a prior run.
	require.NoError(t, srv.db.StorePrices(context.Background(), []domain.PriceRecord{
		{Symbol: "ETHUSDT", Price: 3000, ChangePercent: -1.2, Volume: 500},
	}))

	rec := doJSON(t, srv.Handler(), "GET", "/api/prices/ETHUSDT", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.PriceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3000.0, got.Price)
}

func TestCandlesEndpoint_FetchesAndPersistsOnMiss(t *testing.T) {
	srv, _ := newTestServer(t)
	src := srv.candles.(*fakeCandleSource)

	rec := doJSON(t, srv.Handler(), "GET", "/api/candles/BTCUSDT?tf=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.calls)

	var candles []domain.Candle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &candles))
	require.Len(t, candles, 1)
	assert.Equal(t, 105.0, candles[0].Close)

	// Second request is served from the database.
	rec = doJSON(t, srv.Handler(), "GET", "/api/candles/BTCUSDT?tf=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.calls, "stored candles short-circuit the live fetch")
}

func TestCandlesEndpoint_DefaultsTo1h(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/api/candles/BTCUSDT", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCandlesEndpoint_RejectsBadTimeframe(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), "GET", "/api/candles/BTCUSDT?tf=7m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported timeframe")
}

func TestStatusEndpoint(t *testing.T) {
	srv, state := newTestServer(t)
	state.ReplaceAll([]domain.PriceRecord{
		{Symbol: "BTCUSDT", Price: 50000},
		{Symbol: "ETHUSDT", Price: 3000},
	})
	state.RecordSuccess()

	rec := doJSON(t, srv.Handler(), "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Visible)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "All", resp.FilterStatus)
	assert.False(t, resp.Paused)
	assert.Contains(t, resp.Indicator, "synced")
	require.NotNil(t, resp.Database)
}

func TestAlertEndpoints_CRUD(t *testing.T) {
	srv, state := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/alerts", `{"symbol":"BTCUSDT","kind":"price_above","value":100000}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 1, created["id"])

	rec = doJSON(t, h, "GET", "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []app.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Enabled)

	rec = doJSON(t, h, "POST", "/api/alerts/1/toggle", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, state.EnabledAlertCount())

	rec = doJSON(t, h, "DELETE", "/api/alerts/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, state.Alerts())

	rec = doJSON(t, h, "DELETE", "/api/alerts/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlert_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, "POST", "/api/alerts", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/api/alerts", `{"kind":"price_above","value":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "symbol is required")

	rec = doJSON(t, h, "POST", "/api/alerts", `{"symbol":"BTCUSDT","kind":"nope","value":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown condition kind")
}

func TestHealthAndIndex(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	rec = doJSON(t, srv.Handler(), "GET", "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "coindeck")
}

func TestWebsocket_BroadcastReachesClients(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.Broadcast([]domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var records []domain.PriceRecord
	require.NoError(t, json.Unmarshal(msg, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
}

func TestBroadcast_ConcurrentCallersShareOneClient(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// Drain frames so the server never stalls on a full buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// The poll loop and the live stream both push to the same clients;
	// overlapping calls must serialize per connection.
	records := []domain.PriceRecord{{Symbol: "BTCUSDT", Price: 50000}}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				srv.Broadcast(records)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, srv.hub.ClientCount(), "client survives overlapping broadcasts")
	conn.Close()
	<-done
}

func TestHub_DropsClosedClients(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
