// Package detection holds the inference backend adapters. Both the gRPC and
// the HTTP backend speak the same JSON-shaped payloads.
package detection

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"math"

	"hotelcctv/internal/pipeline"
)

// PersonResult is one pose detection as sent by the inference service
type PersonResult struct {
	BBox       []float64   `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float64     `json:"confidence"`
	Keypoints  [][]float64 `json:"keypoints"` // 17 x [x, y, conf]
}

// ObjectResult is one object detection as sent by the inference service
type ObjectResult struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// PoseResponse is the pose endpoint response
type PoseResponse struct {
	People          []PersonResult `json:"people"`
	InferenceTimeMs float64        `json:"inference_time_ms"`
	Device          string         `json:"device,omitempty"`
}

// ObjectResponse is the object endpoint response
type ObjectResponse struct {
	Detections      []ObjectResult `json:"detections"`
	InferenceTimeMs float64        `json:"inference_time_ms"`
	Device          string         `json:"device,omitempty"`
}

// HealthResponse is the health endpoint response
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (h HealthResponse) ok() bool {
	return h.Status == "healthy" && h.ModelLoaded
}

func toBBox(v []float64) (pipeline.BBox, error) {
	if len(v) != 4 {
		return pipeline.BBox{}, fmt.Errorf("bbox needs 4 values, got %d", len(v))
	}
	return pipeline.BBox{
		X1: int(math.Round(v[0])),
		Y1: int(math.Round(v[1])),
		X2: int(math.Round(v[2])),
		Y2: int(math.Round(v[3])),
	}, nil
}

func (r PoseResponse) people() ([]pipeline.Person, error) {
	out := make([]pipeline.Person, 0, len(r.People))
	for i, p := range r.People {
		box, err := toBBox(p.BBox)
		if err != nil {
			return nil, fmt.Errorf("person %d: %w", i, err)
		}
		kps := make([]pipeline.Keypoint, len(p.Keypoints))
		for k, kp := range p.Keypoints {
			if len(kp) < 2 {
				continue
			}
			kps[k] = pipeline.Keypoint{X: kp[0], Y: kp[1], Conf: 1}
			if len(kp) > 2 {
				kps[k].Conf = kp[2]
			}
		}
		out = append(out, pipeline.Person{BBox: box, Keypoints: kps, Confidence: p.Confidence})
	}
	return out, nil
}

func (r ObjectResponse) objects() ([]pipeline.Object, error) {
	out := make([]pipeline.Object, 0, len(r.Detections))
	for i, d := range r.Detections {
		box, err := toBBox(d.BBox)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		out = append(out, pipeline.Object{Label: d.Class, BBox: box, Confidence: d.Confidence})
	}
	return out, nil
}

// frameJPEG returns the encoded frame, encoding the decoded image when the
// raw payload is missing.
func frameJPEG(frame *pipeline.FrameData) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if len(frame.Data) > 0 {
		return frame.Data, nil
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("frame %d has no image data", frame.Seq)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
