// Package fire confirms fire and smoke from object detections, with an
// optional flame-color fallback.
package fire

import (
	"image"
	"math"
	"strings"
	"time"

	"github.com/anthonynsimon/bild/util"

	"hotelcctv/internal/pipeline"
)

// Config holds detector parameters
type Config struct {
	Confidence     float64  // Min object confidence
	Labels         []string // Object labels treated as fire
	MinFrames      int
	CooldownFrames int
	ColorFallback  bool
	MinFireArea    float64 // Fraction of the frame that must be flame-colored
	HueMax         int     // 0-180 scale
	SatMin         int
	ValMin         int
	SampleStep     int     // Pixel stride of the color scan
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Confidence:     0.5,
		Labels:         []string{"fire", "smoke"},
		MinFrames:      3,
		CooldownFrames: 150,
		ColorFallback:  true,
		MinFireArea:    0.002,
		HueMax:         25,
		SatMin:         120,
		ValMin:         180,
		SampleStep:     1,
	}
}

// Evidence is the per-frame fire test result
type Evidence struct {
	Passed     bool
	Source     string // "detector" or "color"
	Confidence float64
	BBox       pipeline.BBox
	AreaRatio  float64
	Objects    int
}

// Detector is the sustained fire confirmer. Not safe for concurrent use.
type Detector struct {
	cfg      Config
	counter  int
	frame    uint64
	lastEmit uint64
	emitted  bool
}

// New creates a detector
func New(cfg Config) *Detector {
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = 1
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultConfig().Labels
	}
	return &Detector{cfg: cfg}
}

// SetConfig swaps thresholds between frames
func (d *Detector) SetConfig(cfg Config) {
	if cfg.SampleStep <= 0 {
		cfg.SampleStep = 1
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultConfig().Labels
	}
	d.cfg = cfg
}

// Counter returns the current sustain counter
func (d *Detector) Counter() int { return d.counter }

// Update feeds one processed frame and its object detections.
func (d *Detector) Update(frame *pipeline.FrameData, objects []pipeline.Object) *pipeline.Detection {
	d.frame++

	var img *image.RGBA
	if frame != nil {
		img = frame.Image
	}
	ev := d.Evaluate(img, objects)
	if ev.Passed {
		d.counter++
	} else {
		d.counter = max(0, d.counter-2)
		return nil
	}

	if d.counter < d.cfg.MinFrames {
		return nil
	}
	if d.emitted && d.frame-d.lastEmit < uint64(d.cfg.CooldownFrames) {
		return nil
	}

	det := &pipeline.Detection{
		Label:      pipeline.LabelFire,
		Confidence: ev.Confidence,
		BBox:       ev.BBox,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"type":               "fire_smoke",
			"source":             ev.Source,
			"objects":            ev.Objects,
			"area_ratio":         math.Round(ev.AreaRatio*10000) / 10000,
			"consecutive_frames": d.counter,
		},
	}
	if frame != nil {
		det.FrameIndex = frame.Seq
		if !frame.Timestamp.IsZero() {
			det.Timestamp = frame.Timestamp
		}
	}

	d.lastEmit = d.frame
	d.emitted = true
	d.counter = 0
	return det
}

// Evaluate runs the per-frame fire test.
func (d *Detector) Evaluate(img *image.RGBA, objects []pipeline.Object) Evidence {
	var ev Evidence
	for _, o := range objects {
		if o.Confidence < d.cfg.Confidence || !d.isFireLabel(o.Label) {
			continue
		}
		ev.Passed = true
		ev.Source = "detector"
		ev.Objects++
		ev.Confidence = math.Max(ev.Confidence, o.Confidence)
		ev.BBox = ev.BBox.Union(o.BBox)
	}
	if ev.Passed || !d.cfg.ColorFallback || img == nil {
		return ev
	}

	ratio, box := d.colorArea(img)
	ev.AreaRatio = ratio
	if ratio >= d.cfg.MinFireArea && d.cfg.MinFireArea > 0 {
		ev.Passed = true
		ev.Source = "color"
		ev.BBox = box
		ev.Confidence = 0.5 + 0.5*math.Min(1, ratio/(10*d.cfg.MinFireArea))
	}
	return ev
}

func (d *Detector) isFireLabel(label string) bool {
	l := strings.ToLower(label)
	for _, want := range d.cfg.Labels {
		if strings.Contains(l, want) {
			return true
		}
	}
	return false
}

// colorArea returns the sampled fraction of flame-colored pixels and their
// bounding box.
func (d *Detector) colorArea(img *image.RGBA) (float64, pipeline.BBox) {
	b := img.Bounds()
	step := d.cfg.SampleStep
	var hits, total int
	box := pipeline.BBox{X1: b.Max.X, Y1: b.Max.Y, X2: b.Min.X, Y2: b.Min.Y}
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			total++
			h, s, v := util.RGBToHSV(img.RGBAAt(x, y))
			if int(math.Round(h/2)) > d.cfg.HueMax ||
				int(math.Round(s*255)) < d.cfg.SatMin ||
				int(math.Round(v*255)) < d.cfg.ValMin {
				continue
			}
			hits++
			box.X1 = min(box.X1, x)
			box.Y1 = min(box.Y1, y)
			box.X2 = max(box.X2, x+step)
			box.Y2 = max(box.Y2, y+step)
		}
	}
	if total == 0 || hits == 0 {
		return 0, pipeline.BBox{}
	}
	return float64(hits) / float64(total), box.Clamp(b)
}
