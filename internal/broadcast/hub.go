// Package broadcast pushes order and session events to users' connected
// clients over WebSocket. Delivery is best-effort and at most once.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/retry"
)

const (
	writeTimeout     = 5 * time.Second
	deliveryAttempts = 3
	deliveryBackoff  = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Event is the JSON frame sent to clients.
type Event struct {
	Name      string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks WebSocket connections per user and delivers events to all of
// a user's connected clients with a bounded internal retry.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]bool),
	}
}

// register adds a connection for a user.
func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][conn] = true
	log.Debug().Str("user_id", userID).Int("connections", len(h.conns[userID])).Msg("ws client connected")
}

// unregister removes and closes a connection.
func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		if set[conn] {
			delete(set, conn)
			conn.Close()
		}
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// ConnectedUsers reports how many users have at least one open connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendToUser delivers an event to every connection the user has, retrying
// transient write failures up to the delivery cap. Delivered is true when at
// least one connection accepted the frame; a user with no connections is an
// undelivered no-op, not an error.
func (h *Hub) SendToUser(ctx context.Context, userID, eventName string, payload interface{}) types.Delivery {
	frame, err := json.Marshal(Event{
		Name:      eventName,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", eventName).Msg("failed to encode broadcast event")
		return types.Delivery{}
	}

	policy := retry.Policy{
		MaxAttempts: deliveryAttempts,
		BaseDelay:   deliveryBackoff,
	}
	result := policy.Do(ctx, func() error {
		return h.writeToUser(userID, frame)
	})

	delivery := types.Delivery{
		Delivered:   result.Err == nil,
		RetriesUsed: result.Attempts - 1,
	}
	if !delivery.Delivered {
		log.Debug().
			Str("user_id", userID).
			Str("event", eventName).
			Int("retries_used", delivery.RetriesUsed).
			Msg("event not delivered")
	}
	return delivery
}

// errNoConnections trips the retry loop when the user has no open sockets;
// clients may reconnect between attempts.
var errNoConnections = &noConnectionsError{}

type noConnectionsError struct{}

func (*noConnectionsError) Error() string { return "no connections for user" }

func (h *Hub) writeToUser(userID string, frame []byte) error {
	h.mu.RLock()
	set := h.conns[userID]
	conns := make([]*websocket.Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return errNoConnections
	}

	var lastErr error
	delivered := false
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			lastErr = err
			h.unregister(userID, conn)
			continue
		}
		delivered = true
	}

	if !delivered {
		return lastErr
	}
	return nil
}

// ServeWS upgrades an HTTP request to a WebSocket connection for the
// authenticated user and keeps it registered until the client disconnects.
func (h *Hub) ServeWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		h.register(userID, conn)

		// Reader loop only detects disconnects; clients do not send data.
		go func() {
			defer h.unregister(userID, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
