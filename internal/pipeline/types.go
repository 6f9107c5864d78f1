package pipeline

import (
	"image"
	"strings"
	"time"
)

// FrameData represents a captured video frame
type FrameData struct {
	CameraID  string      // Camera identifier
	Data      []byte      // JPEG frame data
	Image     *image.RGBA // Decoded frame (nil until decoded)
	Seq       uint64      // Frame sequence number
	Timestamp time.Time   // Capture timestamp
	Width     int         // Frame width (if known)
	Height    int         // Frame height (if known)
}

// Bounds returns the pixel bounds of the decoded frame, or the declared size.
func (f *FrameData) Bounds() image.Rectangle {
	if f.Image != nil {
		return f.Image.Bounds()
	}
	return image.Rect(0, 0, f.Width, f.Height)
}

// Label identifies the class of a confirmed detection
type Label string

const (
	LabelCash     Label = "CASH"
	LabelViolence Label = "VIOLENCE"
	LabelFire     Label = "FIRE"
)

// EventType is the persisted, lower-case event kind
type EventType string

const (
	EventCash     EventType = "cash"
	EventViolence EventType = "violence"
	EventFire     EventType = "fire"
)

// EventType maps a detection label onto its event kind. Unknown labels yield "".
func (l Label) EventType() EventType {
	s := strings.ToLower(string(l))
	switch {
	case strings.Contains(s, "cash"):
		return EventCash
	case strings.Contains(s, "violence"):
		return EventViolence
	case strings.Contains(s, "fire"):
		return EventFire
	}
	return ""
}

// COCO keypoint indices used by the pose model
const (
	KeypointLeftShoulder  = 5
	KeypointRightShoulder = 6
	KeypointLeftWrist     = 9
	KeypointRightWrist    = 10
	KeypointLeftHip       = 11
	KeypointRightHip      = 12
)

// Keypoint is a single pose landmark in pixel coordinates
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// Person is one pose-model detection
type Person struct {
	BBox       BBox       `json:"bbox"`
	Keypoints  []Keypoint `json:"keypoints"`
	Confidence float64    `json:"confidence"`
}

// Object is one object-detector detection (fire, smoke, ...)
type Object struct {
	Label      string  `json:"label"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// HandSide identifies which wrist a hand position came from
type HandSide string

const (
	HandLeft  HandSide = "left"
	HandRight HandSide = "right"
)

// Hand is a wrist position with its keypoint confidence
type Hand struct {
	Side HandSide `json:"side"`
	Pos  Point    `json:"pos"`
	Conf float64  `json:"conf"`
}

// Role is the zone-derived role of a tracked person
type Role string

const (
	RoleCustomer Role = "customer"
	RoleCashier  Role = "cashier"
)

// Observation is a person seen in the current frame, enriched with
// tracking identity and role.
type Observation struct {
	ID         int        `json:"id"` // Stable identity (0 until tracked)
	BBox       BBox       `json:"bbox"`
	Keypoints  []Keypoint `json:"-"`
	Hands      []Hand     `json:"hands"`
	Center     Point      `json:"center"`
	Confidence float64    `json:"confidence"`
	SeenFrames int        `json:"seen_frames"` // Consecutive frames this identity was matched
	InZone     bool       `json:"in_zone"`
	Role       Role       `json:"role"`
}

// Detection represents a single confirmed event produced by the engine
type Detection struct {
	Label      Label          `json:"label"`
	Confidence float64        `json:"confidence"`
	BBox       BBox           `json:"bbox"`
	Metadata   map[string]any `json:"metadata"`
	FrameIndex uint64         `json:"frame_index"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Verdict is the answer of the secondary validation capability
type Verdict struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// WorkerStatus is the connection/lifecycle state of a camera worker
type WorkerStatus string

const (
	StatusStarting     WorkerStatus = "starting"
	StatusConnecting   WorkerStatus = "connecting"
	StatusRunning      WorkerStatus = "running"
	StatusReconnecting WorkerStatus = "reconnecting"
	StatusStopped      WorkerStatus = "stopped"
	StatusError        WorkerStatus = "error"
)

// CameraStatus is the user-visible camera availability
type CameraStatus string

const (
	CameraOnline       CameraStatus = "online"
	CameraOffline      CameraStatus = "offline"
	CameraReconnecting CameraStatus = "reconnecting"
)

// WorkerState is the persisted, cross-process view of one camera worker
type WorkerState struct {
	CameraID        string       `json:"camera_id" db:"camera_id"`
	Running         bool         `json:"running" db:"running"`
	Status          WorkerStatus `json:"status" db:"status"`
	FrameCount      uint64       `json:"frame_count" db:"frame_count"`
	FramesProcessed uint64       `json:"frames_processed" db:"frames_processed"`
	EventsDetected  uint64       `json:"events_detected" db:"events_detected"`
	StartTime       *time.Time   `json:"start_time,omitempty" db:"start_time"`
	LastHeartbeat   *time.Time   `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	LastError       string       `json:"last_error,omitempty" db:"last_error"`
}

// IsAlive reports whether the last heartbeat is within timeout of now.
func (s *WorkerState) IsAlive(now time.Time, timeout time.Duration) bool {
	if s.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*s.LastHeartbeat) < timeout
}

// Uptime returns the time since StartTime, or zero when never started.
func (s *WorkerState) Uptime(now time.Time) time.Duration {
	if s.StartTime == nil {
		return 0
	}
	return now.Sub(*s.StartTime)
}
