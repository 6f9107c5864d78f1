// Package altercation confirms physical fights from sustained high motion of
// two overlapping people.
package altercation

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/zone"
)

// Config holds detector parameters
type Config struct {
	MotionThreshold float64 // Per-person average keypoint displacement (px/frame)
	MinOverlap      float64 // Intersection over the smaller box
	MinPairScore    float64 // A pair must score at least this on one frame
	Confidence      float64 // Min best-pair confidence to emit
	MinFrames       int     // Sustained frames required
	CooldownFrames  int
	HistoryFrames   int
	KeypointConf    float64

	// ExclusionZone is usually the cashier zone
	ExclusionZone zone.Zone
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MotionThreshold: 150,
		MinOverlap:      0.2,
		MinPairScore:    0.7,
		Confidence:      0.6,
		MinFrames:       10,
		CooldownFrames:  150,
		HistoryFrames:   5,
		KeypointConf:    0.3,
	}
}

// Pair is one candidate altercation on a single frame
type Pair struct {
	A, B       int
	Overlap    float64
	MotionA    float64
	MotionB    float64
	Confidence float64
	BBox       pipeline.BBox
}

type history struct {
	prev    []pipeline.Keypoint
	motions []float64
}

// Detector keeps per-identity motion history and a sustain counter.
// Not safe for concurrent use.
type Detector struct {
	cfg      Config
	people   map[int]*history
	counter  int
	frame    uint64
	lastEmit uint64
	emitted  bool
}

// New creates a detector
func New(cfg Config) *Detector {
	if cfg.HistoryFrames <= 0 {
		cfg.HistoryFrames = DefaultConfig().HistoryFrames
	}
	return &Detector{cfg: cfg, people: make(map[int]*history)}
}

// SetConfig swaps thresholds; motion history and counter are kept.
func (d *Detector) SetConfig(cfg Config) {
	if cfg.HistoryFrames <= 0 {
		cfg.HistoryFrames = DefaultConfig().HistoryFrames
	}
	d.cfg = cfg
}

// Counter returns the current sustain counter
func (d *Detector) Counter() int { return d.counter }

// Motion returns the averaged motion for an identity
func (d *Detector) Motion(id int) float64 {
	h, ok := d.people[id]
	if !ok || len(h.motions) == 0 {
		return 0
	}
	return stat.Mean(h.motions, nil)
}

// Forget drops motion history for pruned identities
func (d *Detector) Forget(ids []int) {
	for _, id := range ids {
		delete(d.people, id)
	}
}

// Update feeds one processed frame and returns a VIOLENCE detection when
// the altercation has been sustained long enough.
func (d *Detector) Update(frame *pipeline.FrameData, obs []pipeline.Observation) *pipeline.Detection {
	d.frame++
	for _, o := range obs {
		d.observe(o)
	}

	pairs := d.Pairs(obs)
	if len(pairs) > 0 {
		d.counter++
	} else {
		d.counter = max(0, d.counter-2)
	}

	if len(pairs) == 0 || d.counter < d.cfg.MinFrames {
		return nil
	}
	if d.emitted && d.frame-d.lastEmit < uint64(d.cfg.CooldownFrames) {
		return nil
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	if best.Confidence < d.cfg.Confidence {
		return nil
	}

	det := &pipeline.Detection{
		Label:      pipeline.LabelViolence,
		Confidence: best.Confidence,
		BBox:       best.BBox,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"type":               "physical_altercation",
			"overlap":            math.Round(best.Overlap*100) / 100,
			"motion1":            math.Round(best.MotionA*10) / 10,
			"motion2":            math.Round(best.MotionB*10) / 10,
			"person_ids":         []int{best.A, best.B},
			"people_count":       len(obs),
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

func (d *Detector) observe(o pipeline.Observation) {
	h, ok := d.people[o.ID]
	if !ok {
		h = &history{}
		d.people[o.ID] = h
	}
	// a fresh match starts a new run of sightings; the last pose is stale
	if o.SeenFrames == 1 {
		h.prev = nil
	}
	motion := 0.0
	if h.prev != nil {
		motion = d.displacement(o.Keypoints, h.prev)
	}
	h.prev = append(h.prev[:0], o.Keypoints...)
	h.motions = append(h.motions, motion)
	if n := len(h.motions); n > d.cfg.HistoryFrames {
		h.motions = h.motions[n-d.cfg.HistoryFrames:]
	}
}

// displacement is the mean distance moved by keypoints visible in both frames.
func (d *Detector) displacement(cur, prev []pipeline.Keypoint) float64 {
	if len(cur) != len(prev) {
		return 0
	}
	var moves []float64
	for i := range cur {
		if cur[i].Conf > d.cfg.KeypointConf && prev[i].Conf > d.cfg.KeypointConf {
			moves = append(moves, math.Hypot(cur[i].X-prev[i].X, cur[i].Y-prev[i].Y))
		}
	}
	if len(moves) == 0 {
		return 0
	}
	return stat.Mean(moves, nil)
}

// Pairs returns every pair passing the per-frame altercation test.
func (d *Detector) Pairs(obs []pipeline.Observation) []Pair {
	var pairs []Pair
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			a, b := obs[i], obs[j]
			if d.excluded(a) || d.excluded(b) {
				continue
			}
			overlap := a.BBox.OverlapOfSmaller(b.BBox)
			if overlap < d.cfg.MinOverlap {
				continue
			}
			ma, mb := d.Motion(a.ID), d.Motion(b.ID)
			if ma < d.cfg.MotionThreshold || mb < d.cfg.MotionThreshold {
				continue
			}
			motionScore := math.Min(1, (ma+mb)/(4*d.cfg.MotionThreshold))
			overlapScore := math.Min(1, 2*overlap)
			conf := 0.6*motionScore + 0.4*overlapScore
			if conf < d.cfg.MinPairScore {
				continue
			}
			pairs = append(pairs, Pair{
				A:          a.ID,
				B:          b.ID,
				Overlap:    overlap,
				MotionA:    ma,
				MotionB:    mb,
				Confidence: conf,
				BBox:       a.BBox.Union(b.BBox),
			})
		}
	}
	return pairs
}

func (d *Detector) excluded(o pipeline.Observation) bool {
	if d.cfg.ExclusionZone.IsEmpty() {
		return false
	}
	return d.cfg.ExclusionZone.Contains(o.BBox.Center())
}
