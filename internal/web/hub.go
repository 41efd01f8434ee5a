package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coindeck/coindeck/internal/domain"
	"github.com/coindeck/coindeck/internal/metrics"
)

const writeDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard page and the API share an origin; other origins are
	// read-only data anyway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient pairs a connection with its write lock. Gorilla connections
// allow only one concurrent writer, and broadcasts can arrive from
// several goroutines (poll loop and live stream), so every write goes
// through writeMu.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(messageType, payload)
}

// Hub tracks connected websocket clients and fans snapshot updates out
// to them.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// ServeWS upgrades the request and registers the client. The read loop
// exists only to detect disconnects; clients send nothing meaningful.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
	log.Debug().Int("clients", n).Msg("websocket client connected")

	go h.readLoop(client)
}

func (h *Hub) readLoop(client *wsClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends records as one JSON frame to every client. Safe to
// call from multiple goroutines; slow or dead clients are dropped.
func (h *Hub) Broadcast(records []domain.PriceRecord) {
	payload, err := json.Marshal(records)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast payload")
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.write(websocket.TextMessage, payload); err != nil {
			h.drop(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
	metrics.WebsocketClients.Set(0)
}

func (h *Hub) drop(client *wsClient) {
	client.conn.Close()

	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
}
