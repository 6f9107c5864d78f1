// Package stream serves camera preview frames over HTTP as MJPEG and single
// JPEG snapshots.
package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

// previewFrame is the latest preview of one camera
type previewFrame struct {
	data []byte
	seq  uint64
	at   time.Time
}

// MJPEGBroadcaster fans preview frames out to MJPEG clients. It implements
// pipeline.FrameSink.
type MJPEGBroadcaster struct {
	logger *zap.Logger

	mu      sync.RWMutex
	latest  map[string]previewFrame
	clients map[string]map[chan []byte]bool
}

// NewMJPEGBroadcaster creates a broadcaster
func NewMJPEGBroadcaster(logger *zap.Logger) *MJPEGBroadcaster {
	if logger == nil {
		logger = zap.L()
	}
	return &MJPEGBroadcaster{
		logger:  logger.Named("mjpeg"),
		latest:  make(map[string]previewFrame),
		clients: make(map[string]map[chan []byte]bool),
	}
}

// PublishFrame stores the frame as the camera's snapshot and sends it to
// every connected client. Slow clients skip frames.
func (b *MJPEGBroadcaster) PublishFrame(frame *pipeline.FrameData) {
	if frame == nil || len(frame.Data) == 0 {
		return
	}
	b.mu.Lock()
	b.latest[frame.CameraID] = previewFrame{data: frame.Data, seq: frame.Seq, at: frame.Timestamp}
	for ch := range b.clients[frame.CameraID] {
		select {
		case ch <- frame.Data:
		default:
		}
	}
	b.mu.Unlock()
}

// Snapshot returns the latest preview frame of a camera
func (b *MJPEGBroadcaster) Snapshot(cameraID string) ([]byte, uint64, bool) {
	f, ok := b.latestFrame(cameraID)
	return f.data, f.seq, ok
}

func (b *MJPEGBroadcaster) latestFrame(cameraID string) (previewFrame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.latest[cameraID]
	return f, ok
}

// ClientCount returns the number of MJPEG clients of a camera
func (b *MJPEGBroadcaster) ClientCount(cameraID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[cameraID])
}

// Forget drops the stored snapshot of a camera and disconnects its clients
func (b *MJPEGBroadcaster) Forget(cameraID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, cameraID)
	for ch := range b.clients[cameraID] {
		close(ch)
	}
	delete(b.clients, cameraID)
}

func (b *MJPEGBroadcaster) subscribe(cameraID string) chan []byte {
	ch := make(chan []byte, 5)
	b.mu.Lock()
	if b.clients[cameraID] == nil {
		b.clients[cameraID] = make(map[chan []byte]bool)
	}
	b.clients[cameraID][ch] = true
	b.mu.Unlock()
	return ch
}

func (b *MJPEGBroadcaster) unsubscribe(cameraID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.clients[cameraID]; ok && set[ch] {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.clients, cameraID)
		}
	}
}

// ServeStream writes a multipart/x-mixed-replace MJPEG stream for the
// {cameraID} route parameter until the client goes away.
func (b *MJPEGBroadcaster) ServeStream(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.subscribe(cameraID)
	defer b.unsubscribe(cameraID, ch)
	b.logger.Debug("Client connected", zap.String("camera_id", cameraID))

	if data, _, ok := b.Snapshot(cameraID); ok {
		if err := writePart(w, data); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			b.logger.Debug("Client disconnected", zap.String("camera_id", cameraID))
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := writePart(w, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// ServeSnapshot writes the latest preview frame of the {cameraID} route
// parameter as a single JPEG.
func (b *MJPEGBroadcaster) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	f, ok := b.latestFrame(cameraID)
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.data)))
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(f.seq, 10))
	if !f.at.IsZero() {
		w.Header().Set("Last-Modified", f.at.UTC().Format(http.TimeFormat))
	}
	w.Write(f.data)
}
