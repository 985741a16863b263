// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 10:12:05 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const writeWait = 5 * time.Second

// WSMessage is the envelope for every message sent to browsers
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is sent once per connection
type StatusUpdate struct {
	ServerInstanceID string `json:"server_instance_id"`
	Version          string `json:"version"`
}

// WebSocketHandler pushes job snapshots to connected browsers.
// Snapshots that only add log lines are throttled; phase changes are sent at once.
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
	resolver    ViewResolver

	logThrottler *rate.Limiter // nil = no throttling
	throttle     time.Duration

	latestMu sync.Mutex
	latest   *models.Snapshot
	sent     models.Snapshot // Last broadcast snapshot
	notify   chan struct{}

	serverInstanceID string // Clients use this to detect a server restart
}

// ViewResolver converts a snapshot into what browsers receive
type ViewResolver func(models.Snapshot) interface{}

func NewWebSocketHandler(logger arbor.ILogger, logThrottle time.Duration, resolver ViewResolver) *WebSocketHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	if resolver == nil {
		resolver = func(snap models.Snapshot) interface{} { return snap }
	}

	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		resolver:         resolver,
		throttle:         logThrottle,
		notify:           make(chan struct{}, 1),
		serverInstanceID: uuid.New().String(),
	}

	if logThrottle > 0 {
		h.logThrottler = rate.NewLimiter(rate.Every(logThrottle), 1)
		logger.Debug().
			Str("interval", logThrottle.String()).
			Msg("Throttler initialized for log-only snapshots")
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")
	return h
}

// Publish records the newest snapshot and wakes the broadcaster. It never blocks,
// so it can be registered directly as a tracker subscriber.
func (h *WebSocketHandler) Publish(snap models.Snapshot) {
	h.latestMu.Lock()
	if h.latest == nil || snap.Version > h.latest.Version {
		h.latest = &snap
	}
	h.latestMu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// StartBroadcaster sends published snapshots until ctx is cancelled
func (h *WebSocketHandler) StartBroadcaster(ctx context.Context) {
	common.SafeGo(h.logger, "ws-snapshot-broadcaster", func() {
		h.runBroadcaster(ctx)
	})
}

func (h *WebSocketHandler) runBroadcaster(ctx context.Context) {
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.notify:
		case <-flush:
			flush = nil
		}

		snap, urgent, ok := h.pending()
		if !ok {
			continue
		}
		if !urgent && h.logThrottler != nil && !h.logThrottler.Allow() {
			// Deliver the coalesced lines once the interval has passed
			if flush == nil {
				flush = time.After(h.throttle)
			}
			continue
		}

		h.markSent(snap)
		h.broadcast(WSMessage{Type: "job_snapshot", Payload: h.resolver(snap)})
	}
}

// pending returns the newest unsent snapshot and whether it changes job or phase
func (h *WebSocketHandler) pending() (models.Snapshot, bool, bool) {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()

	if h.latest == nil || h.latest.Version == h.sent.Version {
		return models.Snapshot{}, false, false
	}
	snap := *h.latest
	urgent := snap.JobID != h.sent.JobID || snap.Phase != h.sent.Phase
	return snap, urgent, true
}

func (h *WebSocketHandler) markSent(snap models.Snapshot) {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	h.sent = snap
}

// HandleWebSocket upgrades the connection, sends the status and current job,
// then keeps the connection open until the client leaves
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{Type: "status", Payload: StatusUpdate{
		ServerInstanceID: h.serverInstanceID,
		Version:          common.GetVersion(),
	}})

	h.latestMu.Lock()
	var current *models.Snapshot
	if h.latest != nil {
		snap := *h.latest
		current = &snap
	}
	h.latestMu.Unlock()
	if current != nil {
		h.send(conn, mutex, WSMessage{Type: "job_snapshot", Payload: h.resolver(*current)})
	}

	// Handle client disconnection
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *WebSocketHandler) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.writeRaw(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to client")
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	if err := h.writeRaw(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to client")
	}
}

func (h *WebSocketHandler) writeRaw(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
