package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

// SnapshotSource polls an HTTP endpoint serving one JPEG per request
type SnapshotSource struct {
	cameraID string
	url      string
	client   *http.Client
	interval time.Duration
	opts     Options
	logger   *zap.Logger

	mu   sync.Mutex
	open bool
	last time.Time
	seq  uint64
}

// NewSnapshotSource creates a polling source paced at opts.FPS (max 10/s)
func NewSnapshotSource(cameraID, url string, opts Options) *SnapshotSource {
	opts = opts.withDefaults()
	interval := time.Second / time.Duration(opts.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &SnapshotSource{
		cameraID: cameraID,
		url:      url,
		client:   &http.Client{Timeout: opts.ReadTimeout},
		interval: interval,
		opts:     opts,
		logger:   opts.Logger.Named("capture").With(zap.String("camera_id", cameraID)),
	}
}

// Open fetches one image to verify the endpoint
func (s *SnapshotSource) Open(ctx context.Context) error {
	if _, err := s.fetch(ctx); err != nil {
		return fmt.Errorf("failed to open %s: %w", redact(s.url), err)
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.logger.Info("Snapshot source opened", zap.String("url", redact(s.url)))
	return nil
}

// Read waits for the next poll slot and fetches a frame
func (s *SnapshotSource) Read(ctx context.Context) (*pipeline.FrameData, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, fmt.Errorf("source not open")
	}
	wait := s.interval - time.Since(s.last)
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Now()
	s.seq++
	return &pipeline.FrameData{
		CameraID:  s.cameraID,
		Data:      data,
		Seq:       s.seq,
		Timestamp: s.last,
		Width:     s.opts.Width,
		Height:    s.opts.Height,
	}, nil
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	frame := extractJPEGFrame(&data)
	if frame == nil {
		return nil, fmt.Errorf("snapshot is not a jpeg")
	}
	return frame, nil
}

// Close marks the source closed
func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.client.CloseIdleConnections()
	return nil
}
