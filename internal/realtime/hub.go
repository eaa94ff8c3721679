package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHub manages WebSocket connections and fans out Event values to them.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewWebSocketHub creates a new WebSocketHub.
func NewWebSocketHub(logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger.With("component", "websocket_hub"),
	}
}

// Run drives the hub's register/unregister/broadcast loop until ctx is cancelled.
func (h *WebSocketHub) Run(ctx context.Context) {
	h.logger.Info("websocket hub starting")

	for {
		select {
		case <-ctx.Done():
			h.closeAllConnections()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "total_clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "total_clients", count)

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go h.sendToClient(client, event)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WebSocketHub) sendToClient(client *websocket.Conn, event Event) {
	client.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := client.WriteJSON(event); err != nil {
		h.logger.Warn("failed to send websocket message", "error", err)
		select {
		case h.unregister <- client:
		default:
		}
	}
}

// ID identifies this hub as an EventBus subscriber.
func (h *WebSocketHub) ID() string { return "websocket-hub" }

// Send implements EventSubscriber by fanning the event out to connected clients.
func (h *WebSocketHub) Send(event Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		h.logger.Warn("websocket hub broadcast channel full, dropping event", "event_type", event.Type)
		return ErrEventChannelFull
	}
}

// Close is a no-op; the hub's lifetime is tied to Run's context, not Subscribe/Unsubscribe.
func (h *WebSocketHub) Close() error { return nil }

// Context returns a background context; the hub never itself requests removal.
func (h *WebSocketHub) Context() context.Context { return context.Background() }

// HandleWebSocket upgrades the HTTP connection and registers it with the hub.
// Serves GET /ws/events.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	h.register <- conn
	go h.readPump(conn)
}

// readPump keeps the connection alive via ping/pong and detects client disconnects.
func (h *WebSocketHub) readPump(conn *websocket.Conn) {
	defer func() {
		h.unregister <- conn
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.logger.Info("all websocket connections closed")
}

// ActiveConnections returns the current number of connected clients.
func (h *WebSocketHub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
