// Package web serves the JSON API, the browser dashboard, and the
// websocket push feed.
package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/coindeck/coindeck/internal/app"
	"github.com/coindeck/coindeck/internal/domain"
	"github.com/coindeck/coindeck/internal/metrics"
	"github.com/coindeck/coindeck/internal/store"
)

// CandleSource fetches live candles when the database has no rows for a
// requested symbol and timeframe.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error)
}

// Server is the HTTP front of the dashboard. It reads application state
// through *app.App and never mutates it outside the alert endpoints.
type Server struct {
	router  *mux.Router
	server  *http.Server
	state   *app.App
	db      *store.Store
	candles CandleSource
	hub     *Hub
}

// NewServer wires routes and middleware. db and candles may be nil in
// reduced setups; the affected endpoints then degrade gracefully.
func NewServer(addr string, state *app.App, db *store.Store, candles CandleSource) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		state:   state,
		db:      db,
		candles: candles,
		hub:     NewHub(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/prices", s.handlePrices).Methods("GET")
	api.HandleFunc("/prices/{symbol}", s.handlePriceBySymbol).Methods("GET")
	api.HandleFunc("/candles/{symbol}", s.handleCandles).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/alerts", s.handleCreateAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods("DELETE")
	api.HandleFunc("/alerts/{id}/toggle", s.handleToggleAlert).Methods("POST")
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("web server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// Broadcast pushes the current visible records to every websocket
// client. The refresh loop calls this after each snapshot replace.
func (s *Server) Broadcast(records []domain.PriceRecord) {
	s.hub.Broadcast(records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	records := s.state.AllRecords()
	if records == nil {
		records = []domain.PriceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handlePriceBySymbol serves one symbol's latest record: the live
// snapshot first, then stored history for warm starts.
func (s *Server) handlePriceBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	for _, rec := range s.state.AllRecords() {
		if rec.Symbol == symbol {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	if s.db != nil {
		rec, err := s.db.LatestPrice(r.Context(), symbol)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "price lookup failed")
			return
		}
		if rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown symbol %q", symbol))
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf := domain.Timeframe(r.URL.Query().Get("tf"))
	if tf == "" {
		tf = domain.TF1h
	}
	if !tf.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported timeframe %q", tf))
		return
	}

	// Stored candles first; fall back to a live fetch and persist the
	// result for next time.
	if s.db != nil {
		candles, err := s.db.Candles(r.Context(), symbol, tf, tf.Limit())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "candle lookup failed")
			return
		}
		if len(candles) > 0 {
			writeJSON(w, http.StatusOK, candles)
			return
		}
	}

	if s.candles == nil {
		writeJSON(w, http.StatusOK, []domain.Candle{})
		return
	}

	candles, err := s.candles.FetchCandles(r.Context(), symbol, tf)
	if err != nil {
		writeError(w, http.StatusBadGateway, "candle fetch failed")
		return
	}
	if s.db != nil {
		if err := s.db.StoreCandles(r.Context(), symbol, tf, candles); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist fetched candles")
		}
	}
	writeJSON(w, http.StatusOK, candles)
}

type statusResponse struct {
	Status       app.DataStatus    `json:"status"`
	Indicator    string            `json:"indicator"`
	DataAge      string            `json:"data_age"`
	Paused       bool              `json:"paused"`
	Visible      int               `json:"visible"`
	Total        int               `json:"total"`
	FilterStatus string            `json:"filter_status"`
	SortStatus   string            `json:"sort_status"`
	ErrorSummary string            `json:"error_summary,omitempty"`
	Alerts       int               `json:"alerts_enabled"`
	Recent       []app.RecentAlert `json:"recent_alerts"`
	Database     *store.Stats      `json:"database,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	visible, total := s.state.VisibleCount()
	resp := statusResponse{
		Status:       s.state.Status(),
		Indicator:    s.state.OfflineIndicator(),
		DataAge:      s.state.DataAgeString(),
		Paused:       s.state.Paused(),
		Visible:      visible,
		Total:        total,
		FilterStatus: s.state.FilterStatus(),
		SortStatus:   s.state.SortStatus(),
		ErrorSummary: s.state.ErrorSummary(),
		Alerts:       s.state.EnabledAlertCount(),
		Recent:       s.state.RecentAlerts(),
	}
	if resp.Recent == nil {
		resp.Recent = []app.RecentAlert{}
	}

	if s.db != nil {
		if stats, err := s.db.Stats(r.Context()); err == nil {
			resp.Database = &stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.state.Alerts()
	if alerts == nil {
		alerts = []app.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type createAlertRequest struct {
	Symbol  string  `json:"symbol"`
	Kind    string  `json:"kind"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

var conditionKinds = map[string]func(float64) app.AlertCondition{
	"price_above":          app.PriceAbove,
	"price_below":          app.PriceBelow,
	"percent_change_above": app.PercentChangeAbove,
	"percent_change_below": app.PercentChangeBelow,
	"volume_spike":         app.VolumeSpike,
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	mk, ok := conditionKinds[req.Kind]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown condition kind %q", req.Kind))
		return
	}

	id := s.state.CreateAlert(req.Symbol, mk(req.Value), req.Message)
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if !s.state.DeleteAlert(id) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if !s.state.ToggleAlert(id) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", wrapper.status/100)).Inc()
		log.Debug().
			Str("method", r.Method).
			Str("path", route).
			Int("status", wrapper.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade work through the logging wrapper.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
