// Package transport owns the websocket layer: upgrading connections,
// pumping frames, heartbeats, and handing validated intents to the
// dispatcher one at a time per connection.
package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/metrics"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/ratelimit"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DisconnectFunc is invoked after a client's read pump exits, with a
// background-derived context since the client's own context is cancelled.
type DisconnectFunc func(ctx context.Context, c *Client)

// Hub tracks live connections and upgrades new ones.
type Hub struct {
	validator    auth.TokenValidator
	dispatcher   Dispatcher
	onDisconnect DisconnectFunc
	limits       *ratelimit.Limiter
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[types.SocketID]*Client
	closed  bool
}

// NewHub wires the hub. allowedOrigins supports "*" and exact matches; a
// nil limits skips connection rate checks.
func NewHub(validator auth.TokenValidator, dispatcher Dispatcher, onDisconnect DisconnectFunc, limits *ratelimit.Limiter, allowedOrigins []string) *Hub {
	h := &Hub{
		validator:    validator,
		dispatcher:   dispatcher,
		onDisconnect: onDisconnect,
		limits:       limits,
		clients:      make(map[types.SocketID]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWs authenticates and upgrades one connection. Token comes from the
// "token" query parameter or an Authorization bearer header.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limits != nil && !h.limits.CheckWebSocketIP(c) {
		return
	}

	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "Rejected websocket upgrade",
			zap.String("token", logging.RedactToken(token)), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if h.limits != nil {
		if lerr := h.limits.CheckWebSocketUser(c.Request.Context(), string(claims.Identity())); lerr != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, claims)
	if !h.register(client) {
		client.CloseWithReason("server is shutting down")
		return
	}

	logging.Info(client.ctx, "Client connected",
		zap.String("socketId", string(client.socketID)),
		zap.String("identity", string(claims.Identity())))

	go client.writePump()
	go client.dispatchLoop(h.dispatcher)
	go client.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.socketID] = c
	metrics.IncConnection()
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.socketID]
	delete(h.clients, c.socketID)
	h.mu.Unlock()
	if !known {
		return
	}

	metrics.DecConnection()
	c.CloseWithReason("connection closed")

	if h.onDisconnect != nil {
		ctx := context.WithValue(context.Background(), logging.CorrelationIDKey, string(c.socketID))
		h.onDisconnect(ctx, c)
	}
	logging.Info(context.Background(), "Client disconnected",
		zap.String("socketId", string(c.socketID)),
		zap.String("identity", string(c.claims.Identity())))
}

// Client returns a live connection by socket id.
func (h *Hub) Client(id types.SocketID) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	return c, ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown refuses new connections and closes the live ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.CloseWithReason("server is shutting down")
	}
}
