// Package tracker assigns stable identities to per-frame person observations.
package tracker

import (
	"sort"

	"hotelcctv/internal/pipeline"
)

// Config holds tracker parameters
type Config struct {
	IoUThreshold    float64 // IoU above which a box is considered the same person
	MaxCenterDist   float64 // Center distance (px) used as a fallback match
	MinScore        float64 // Matches must score strictly above this
	MaxUnseenFrames int     // Identities unseen for longer than this are pruned
	CenterFallbackW float64 // Weight of the center-distance score
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		IoUThreshold:    0.3,
		MaxCenterDist:   400,
		MinScore:        0.15,
		MaxUnseenFrames: 30,
		CenterFallbackW: 0.2,
	}
}

// Track is the tracker's memory of one identity
type Track struct {
	ID         int
	BBox       pipeline.BBox
	Center     pipeline.Point
	SeenFrames int    // Consecutive frames matched
	LastSeen   uint64 // Frame index of the last match
}

// Tracker matches observations across frames by IoU, then center distance.
// It is not safe for concurrent use; each camera engine owns one.
type Tracker struct {
	cfg    Config
	tracks map[int]*Track
	nextID int
	frame  uint64
}

// New creates a tracker
func New(cfg Config) *Tracker {
	if cfg.MaxUnseenFrames <= 0 {
		cfg.MaxUnseenFrames = DefaultConfig().MaxUnseenFrames
	}
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[int]*Track),
		nextID: 1,
	}
}

// Update assigns an ID to every observation and returns the observations
// together with the IDs pruned on this frame.
func (t *Tracker) Update(obs []pipeline.Observation) ([]pipeline.Observation, []int) {
	t.frame++
	claimed := make(map[int]bool, len(obs))

	out := make([]pipeline.Observation, len(obs))
	for i, o := range obs {
		id, ok := t.match(o, claimed)
		if !ok {
			id = t.nextID
			t.nextID++
			t.tracks[id] = &Track{ID: id}
		}
		claimed[id] = true

		tr := t.tracks[id]
		if tr.LastSeen+1 == t.frame {
			tr.SeenFrames++
		} else {
			tr.SeenFrames = 1
		}
		tr.BBox = o.BBox
		tr.Center = o.Center
		tr.LastSeen = t.frame

		o.ID = id
		o.SeenFrames = tr.SeenFrames
		out[i] = o
	}

	return out, t.prune()
}

func (t *Tracker) match(o pipeline.Observation, claimed map[int]bool) (int, bool) {
	bestID, bestScore := 0, t.cfg.MinScore
	for id, tr := range t.tracks {
		if claimed[id] {
			continue
		}
		var score float64
		if iou := o.BBox.IoU(tr.BBox); iou > t.cfg.IoUThreshold {
			score = iou
		} else if d := o.Center.Dist(tr.Center); d < t.cfg.MaxCenterDist {
			score = t.cfg.CenterFallbackW * (1 - d/t.cfg.MaxCenterDist)
		}
		// Ties go to the older identity.
		if score > bestScore || (score == bestScore && score > t.cfg.MinScore && id < bestID) {
			bestID, bestScore = id, score
		}
	}
	return bestID, bestID != 0
}

func (t *Tracker) prune() []int {
	var pruned []int
	for id, tr := range t.tracks {
		if t.frame-tr.LastSeen > uint64(t.cfg.MaxUnseenFrames) {
			delete(t.tracks, id)
			pruned = append(pruned, id)
		}
	}
	sort.Ints(pruned)
	return pruned
}

// Tracks returns a snapshot of the live identities ordered by ID
func (t *Tracker) Tracks() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops every identity. IDs keep increasing across resets.
func (t *Tracker) Reset() {
	t.tracks = make(map[int]*Track)
}
