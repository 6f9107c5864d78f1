package ws

import (
	"time"

	"hotelcctv/internal/pipeline"
)

// FrameMessage is a live preview frame
type FrameMessage struct {
	Type        string    `json:"type"` // "frame"
	CameraID    string    `json:"camera_id"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	FrameWidth  int       `json:"frame_width,omitempty"`
	FrameHeight int       `json:"frame_height,omitempty"`
	Frame       string    `json:"frame"` // Base64 encoded JPEG
}

// EventMessage announces a persisted event
type EventMessage struct {
	Type          string             `json:"type"` // "event"
	EventID       string             `json:"event_id"`
	CameraID      string             `json:"camera_id"`
	EventType     pipeline.EventType `json:"event_type"`
	Confidence    float64            `json:"confidence"`
	BBox          [4]int             `json:"bbox"`
	FrameNumber   uint64             `json:"frame_number"`
	Timestamp     time.Time          `json:"timestamp"`
	ClipPath      string             `json:"clip_path,omitempty"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	Validation    pipeline.Verdict   `json:"validation"`
}

// NewFrameMessage creates a frame message
func NewFrameMessage(frame *pipeline.FrameData, frameBase64 string) *FrameMessage {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &FrameMessage{
		Type:        "frame",
		CameraID:    frame.CameraID,
		Seq:         frame.Seq,
		Timestamp:   ts,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Frame:       frameBase64,
	}
}

// NewEventMessage creates an event message from a bus result
func NewEventMessage(r *pipeline.EventResult) *EventMessage {
	b := r.Detection.BBox
	return &EventMessage{
		Type:          "event",
		EventID:       r.EventID,
		CameraID:      r.CameraID,
		EventType:     r.EventType,
		Confidence:    r.Detection.Confidence,
		BBox:          [4]int{b.X1, b.Y1, b.X2, b.Y2},
		FrameNumber:   r.Detection.FrameIndex,
		Timestamp:     r.Detection.Timestamp,
		ClipPath:      r.ClipPath,
		ThumbnailPath: r.ThumbnailPath,
		Validation:    r.Validation,
	}
}
