package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 JPEG frames
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades preview requests. Routes: /ws/cameras/{cameraID} for one
// camera and /ws/events for events of all cameras.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles the upgrade
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	h.hub.register(cameraID, c)
	go h.readPump(cameraID, c)
}

// readPump keeps the connection alive and detects disconnects
func (h *Handler) readPump(cameraID string, c *client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(cameraID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Debug("Read error", zap.String("camera_id", cameraID), zap.Error(err))
			}
			return
		}
	}
}
