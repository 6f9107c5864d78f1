// Package engine is the per-camera detection facade: one Process call runs
// inference, tracking, role classification and the three event confirmers.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/anthonynsimon/bild/clone"
	"go.uber.org/zap"

	"hotelcctv/internal/altercation"
	"hotelcctv/internal/fire"
	"hotelcctv/internal/material"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/tracker"
	"hotelcctv/internal/transaction"
	"hotelcctv/internal/zone"
)

// Settings is the complete per-camera engine configuration
type Settings struct {
	CashEnabled     bool
	ViolenceEnabled bool
	FireEnabled     bool

	HandConfidence float64 // Min wrist keypoint confidence
	Annotate       bool
	DetectEvery    int // Frame-skip cadence; 0 keeps the worker default

	Tracker     tracker.Config
	Zones       zone.ClassifierConfig
	Transaction transaction.Config
	Material    material.Config
	Altercation altercation.Config
	Fire        fire.Config
}

// DefaultSettings returns all detectors enabled with default thresholds
func DefaultSettings() Settings {
	return Settings{
		CashEnabled:     true,
		ViolenceEnabled: true,
		FireEnabled:     true,
		HandConfidence:  0.3,
		Annotate:        true,
		Tracker:         tracker.DefaultConfig(),
		Zones:           zone.DefaultClassifierConfig(),
		Transaction:     transaction.DefaultConfig(),
		Material:        material.DefaultConfig(),
		Altercation:     altercation.DefaultConfig(),
		Fire:            fire.DefaultConfig(),
	}
}

// Result is the outcome of processing one frame
type Result struct {
	Annotated    *image.RGBA
	Detections   []pipeline.Detection
	Observations []pipeline.Observation
	Transaction  transaction.State
}

// Stats holds engine counters
type Stats struct {
	FramesProcessed uint64
	InferenceErrors uint64
	Detections      map[pipeline.Label]uint64
}

// Engine owns all detection state for one camera
type Engine struct {
	cameraID string
	poses    pipeline.PoseDetector
	objects  pipeline.ObjectDetector
	logger   *zap.Logger

	mu          sync.Mutex
	settings    Settings
	tracker     *tracker.Tracker
	classifier  *zone.Classifier
	transaction *transaction.Machine
	altercation *altercation.Detector
	fire        *fire.Detector
	stats       Stats
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObjectDetector sets the fire/smoke object detector
func WithObjectDetector(d pipeline.ObjectDetector) Option {
	return func(e *Engine) { e.objects = d }
}

// WithMaterialClassifier replaces the material discriminator
func WithMaterialClassifier(m transaction.MaterialClassifier) Option {
	return func(e *Engine) {
		e.transaction = transaction.New(e.settings.Transaction, m)
	}
}

// New creates an engine for one camera
func New(cameraID string, poses pipeline.PoseDetector, settings Settings, opts ...Option) *Engine {
	e := &Engine{
		cameraID: cameraID,
		poses:    poses,
		settings: withDerived(settings),
		stats:    Stats{Detections: make(map[pipeline.Label]uint64)},
	}
	e.tracker = tracker.New(e.settings.Tracker)
	e.classifier = zone.NewClassifier(e.settings.Zones)
	e.transaction = transaction.New(e.settings.Transaction, material.New(e.settings.Material))
	e.altercation = altercation.New(e.settings.Altercation)
	e.fire = fire.New(e.settings.Fire)

	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.L()
	}
	e.logger = e.logger.Named("engine").With(zap.String("camera_id", cameraID))
	return e
}

// withDerived fills settings that follow from others.
func withDerived(s Settings) Settings {
	if s.Altercation.ExclusionZone.IsEmpty() {
		s.Altercation.ExclusionZone = s.Zones.CashierZone
	}
	if s.HandConfidence <= 0 {
		s.HandConfidence = 0.3
	}
	return s
}

// Settings returns the active settings
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ApplySettings swaps enable flags, zones and thresholds between frames.
// Tracking identities and in-flight state are kept; a pending transaction is
// dropped when cash detection gets disabled.
func (e *Engine) ApplySettings(s Settings) {
	s = withDerived(s)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settings.CashEnabled && !s.CashEnabled {
		e.transaction.Reset()
	}
	e.settings = s
	e.classifier.SetConfig(s.Zones)
	e.transaction.SetConfig(s.Transaction)
	e.altercation.SetConfig(s.Altercation)
	e.fire.SetConfig(s.Fire)

	e.logger.Info("Settings applied",
		zap.Bool("cash", s.CashEnabled),
		zap.Bool("violence", s.ViolenceEnabled),
		zap.Bool("fire", s.FireEnabled))
}

// Stats returns a copy of the engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stats
	out.Detections = make(map[pipeline.Label]uint64, len(e.stats.Detections))
	for k, v := range e.stats.Detections {
		out.Detections[k] = v
	}
	return out
}

// Process runs the full per-frame pipeline. Inference failures are logged
// and yield an empty result; the state machines keep their state.
func (e *Engine) Process(ctx context.Context, in *pipeline.FrameData) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.FramesProcessed++
	frame, err := decode(in)
	if err != nil {
		e.stats.InferenceErrors++
		e.logger.Warn("Frame decode failed", zap.Error(err))
		return Result{}
	}

	s := e.settings
	res := Result{Transaction: e.transaction.State()}

	if (s.CashEnabled || s.ViolenceEnabled) && e.poses != nil {
		people, err := e.poses.DetectPoses(ctx, frame)
		if err != nil {
			e.stats.InferenceErrors++
			e.logger.Warn("Pose inference failed", zap.String("detector", e.poses.Name()), zap.Error(err))
			res.Annotated = frame.Image
			return res
		}

		obs, pruned := e.tracker.Update(e.observations(people))
		if len(pruned) > 0 {
			e.classifier.Forget(pruned)
			e.altercation.Forget(pruned)
			e.logger.Debug("Pruned identities", zap.Ints("ids", pruned))
		}
		e.classifier.ClassifyAll(obs)
		res.Observations = obs

		if s.CashEnabled {
			tr := e.transaction.Update(frame, obs)
			e.logTransaction(tr)
			if tr.Detection != nil {
				res.Detections = append(res.Detections, *tr.Detection)
			}
			res.Transaction = e.transaction.State()
		}
		if s.ViolenceEnabled {
			if det := e.altercation.Update(frame, obs); det != nil {
				res.Detections = append(res.Detections, *det)
			}
		}
	}

	if s.FireEnabled {
		var objects []pipeline.Object
		if e.objects != nil {
			var err error
			objects, err = e.objects.DetectObjects(ctx, frame)
			if err != nil {
				e.stats.InferenceErrors++
				e.logger.Warn("Object inference failed", zap.String("detector", e.objects.Name()), zap.Error(err))
				objects = nil
			}
		}
		if det := e.fire.Update(frame, objects); det != nil {
			res.Detections = append(res.Detections, *det)
		}
	}

	for _, d := range res.Detections {
		e.stats.Detections[d.Label]++
		e.logger.Info("Detection confirmed",
			zap.String("label", string(d.Label)),
			zap.Float64("confidence", d.Confidence),
			zap.Uint64("frame", d.FrameIndex))
	}

	if s.Annotate {
		res.Annotated = e.annotate(frame.Image, res)
	} else {
		res.Annotated = frame.Image
	}
	return res
}

func (e *Engine) observations(people []pipeline.Person) []pipeline.Observation {
	obs := make([]pipeline.Observation, 0, len(people))
	for _, p := range people {
		obs = append(obs, pipeline.Observation{
			BBox:       p.BBox,
			Keypoints:  p.Keypoints,
			Hands:      pipeline.HandsFromKeypoints(p.Keypoints, e.settings.HandConfidence),
			Center:     pipeline.BodyCenter(p.Keypoints, p.BBox),
			Confidence: p.Confidence,
		})
	}
	return obs
}

func (e *Engine) logTransaction(r transaction.Result) {
	switch r.Outcome {
	case transaction.OutcomeTouch:
		e.logger.Info("Hand touch, tracking cashier",
			zap.Int("cashier_id", r.Touch.CashierID),
			zap.Int("customer_id", r.Touch.CustomerID),
			zap.Float64("distance", r.Touch.Distance),
			zap.String("material", r.Touch.Material.Label()))
	case transaction.OutcomeTimedOut:
		e.logger.Info("Transaction timed out without drawer deposit")
	}
}

// decode returns a copy of frame with Image filled from the JPEG payload.
// The caller's frame is left as is, so buffered frames stay JPEG only.
func decode(frame *pipeline.FrameData) (*pipeline.FrameData, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if frame.Image != nil {
		return frame, nil
	}
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame %d", frame.Seq)
	}
	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg of frame %d: %w", frame.Seq, err)
	}
	local := *frame
	local.Image = clone.AsRGBA(img)
	b := local.Image.Bounds()
	local.Width, local.Height = b.Dx(), b.Dy()
	return &local, nil
}
