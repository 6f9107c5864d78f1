package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

// HTTPDetector handles pose and object inference over a multipart HTTP API
type HTTPDetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float64
	classes       string
	healthTTL     time.Duration
	logger        *zap.Logger

	healthy     bool
	healthCheck time.Time
	mu          sync.RWMutex
}

// HTTPDetectorConfig holds configuration for the HTTP detector
type HTTPDetectorConfig struct {
	Endpoint      string
	ConfThreshold float64
	Classes       []string
	Timeout       time.Duration
	HealthTTL     time.Duration
	Logger        *zap.Logger
}

// NewHTTPDetector creates a new HTTP inference client
func NewHTTPDetector(cfg HTTPDetectorConfig) *HTTPDetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second // GPU inference can be slow on cold start
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	return &HTTPDetector{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		client:        &http.Client{Timeout: cfg.Timeout},
		confThreshold: cfg.ConfThreshold,
		classes:       strings.Join(cfg.Classes, ","),
		healthTTL:     cfg.HealthTTL,
		logger:        cfg.Logger.Named("http_detector").With(zap.String("endpoint", cfg.Endpoint)),
	}
}

// Name returns the backend name
func (hd *HTTPDetector) Name() string { return "http:" + hd.endpoint }

// IsHealthy checks if the inference service is available
func (hd *HTTPDetector) IsHealthy() bool {
	hd.mu.RLock()
	if hd.healthy && time.Since(hd.healthCheck) < hd.healthTTL {
		hd.mu.RUnlock()
		return true
	}
	hd.mu.RUnlock()

	info, err := hd.HealthInfo(context.Background())

	hd.mu.Lock()
	defer hd.mu.Unlock()
	if err != nil {
		hd.logger.Warn("Health check failed", zap.Error(err))
		hd.healthy = false
		return false
	}
	hd.healthy = info.ok()
	hd.healthCheck = time.Now()
	return hd.healthy
}

// HealthInfo fetches the raw health document
func (hd *HTTPDetector) HealthInfo(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hd.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := hd.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	var info HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &info, nil
}

// DetectPoses runs the pose model on a frame
func (hd *HTTPDetector) DetectPoses(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Person, error) {
	var resp PoseResponse
	if err := hd.post(ctx, "/pose", frame, "", &resp); err != nil {
		return nil, err
	}
	return resp.people()
}

// DetectObjects runs the object model on a frame
func (hd *HTTPDetector) DetectObjects(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Object, error) {
	var resp ObjectResponse
	if err := hd.post(ctx, "/detect", frame, hd.classes, &resp); err != nil {
		return nil, err
	}
	return resp.objects()
}

func (hd *HTTPDetector) post(ctx context.Context, path string, frame *pipeline.FrameData, classes string, out any) error {
	if !hd.IsHealthy() {
		return fmt.Errorf("detection service unavailable")
	}
	img, err := frameJPEG(frame)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(img); err != nil {
		return err
	}
	if hd.confThreshold > 0 {
		w.WriteField("conf_threshold", fmt.Sprintf("%.3f", hd.confThreshold))
	}
	if classes != "" {
		w.WriteField("classes_filter", classes)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hd.endpoint+path, &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := hd.client.Do(req)
	if err != nil {
		hd.mu.Lock()
		hd.healthy = false
		hd.mu.Unlock()
		return fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inference %s failed with %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode inference response: %w", err)
	}
	return nil
}

// Close releases idle connections
func (hd *HTTPDetector) Close() error {
	hd.client.CloseIdleConnections()
	return nil
}
