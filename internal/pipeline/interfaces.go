package pipeline

import (
	"context"
)

// PoseDetector is the pose-model inference capability
type PoseDetector interface {
	// Name returns the detector identifier (e.g., "grpc", "http")
	Name() string

	// IsHealthy returns true if the backend is operational
	IsHealthy() bool

	// DetectPoses returns every person found in the frame
	DetectPoses(ctx context.Context, frame *FrameData) ([]Person, error)

	// Close releases detector resources
	Close() error
}

// ObjectDetector is the generic object-detector capability (fire, smoke)
type ObjectDetector interface {
	Name() string
	IsHealthy() bool
	DetectObjects(ctx context.Context, frame *FrameData) ([]Object, error)
	Close() error
}

// Validator is the secondary validation capability. Implementations must
// fail open: any error or timeout yields an accepted verdict.
type Validator interface {
	Validate(ctx context.Context, frame *FrameData, eventType EventType) Verdict
}

// FrameSource produces frames for one camera
type FrameSource interface {
	// Open connects to the stream; it may be called again after Close
	Open(ctx context.Context) error

	// Read blocks until the next frame, the read timeout or ctx expiry
	Read(ctx context.Context) (*FrameData, error)

	// Close releases the stream
	Close() error
}

// FrameSink receives low-cadence preview frames
type FrameSink interface {
	PublishFrame(frame *FrameData)
}

// DetectionResultHandler receives confirmed detections
type DetectionResultHandler interface {
	// OnDetectionResult is called once per persisted event
	OnDetectionResult(result *EventResult)
}

// EventResult is a confirmed and persisted detection
type EventResult struct {
	EventID       string    `json:"event_id"`
	CameraID      string    `json:"camera_id"`
	EventType     EventType `json:"event_type"`
	Detection     Detection `json:"detection"`
	ClipPath      string    `json:"clip_path,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	Validation    Verdict   `json:"validation"`
}
