// Package ws streams live preview frames and event notifications to
// browser clients over WebSocket.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

const writeWait = 10 * time.Second

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans preview frames and events out to the clients of each camera.
// The empty camera ID subscribes to events of every camera.
type Hub struct {
	clients map[string]map[*client]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	return &Hub{
		clients: make(map[string]map[*client]bool),
		logger:  logger.Named("ws"),
	}
}

func (h *Hub) register(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*client]bool)
	}
	h.clients[cameraID][c] = true
	h.logger.Info("Client registered", zap.String("camera_id", cameraID), zap.Int("total", len(h.clients[cameraID])))
}

func (h *Hub) unregister(cameraID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[cameraID]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, cameraID)
		}
		h.logger.Info("Client unregistered", zap.String("camera_id", cameraID))
	}
}

// HasClients reports whether anyone watches a camera
func (h *Hub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[cameraID]) > 0
}

// ClientCount returns the total number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

func (h *Hub) broadcast(cameraID string, message []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[cameraID]))
	for c := range h.clients[cameraID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.logger.Debug("Dropping client after write error", zap.String("camera_id", cameraID), zap.Error(err))
			h.unregister(cameraID, c)
			c.conn.Close()
		}
	}
}

// PublishFrame implements pipeline.FrameSink
func (h *Hub) PublishFrame(frame *pipeline.FrameData) {
	if frame == nil || len(frame.Data) == 0 || !h.HasClients(frame.CameraID) {
		return
	}
	data, err := json.Marshal(NewFrameMessage(frame, base64.StdEncoding.EncodeToString(frame.Data)))
	if err != nil {
		h.logger.Error("Failed to marshal frame message", zap.Error(err))
		return
	}
	h.broadcast(frame.CameraID, data)
}

// OnDetectionResult implements pipeline.DetectionResultHandler
func (h *Hub) OnDetectionResult(result *pipeline.EventResult) {
	if !h.HasClients(result.CameraID) && !h.HasClients("") {
		return
	}
	data, err := json.Marshal(NewEventMessage(result))
	if err != nil {
		h.logger.Error("Failed to marshal event message", zap.Error(err))
		return
	}
	h.broadcast(result.CameraID, data)
	h.broadcast("", data)
}
