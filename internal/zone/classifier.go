package zone

import (
	"hotelcctv/internal/pipeline"
)

// ClassifierConfig holds role classification parameters
type ClassifierConfig struct {
	CashierZone       Zone
	MinOverlap        float64 // Fraction of the person's box inside the zone
	PersistenceFrames int     // Frames a cashier keeps the role after leaving
}

// DefaultClassifierConfig returns defaults with no cashier zone configured
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MinOverlap:        0.3,
		PersistenceFrames: 20,
	}
}

// Classifier assigns cashier/customer roles with a persistence grace period.
// One instance per camera; not safe for concurrent use.
type Classifier struct {
	cfg       ClassifierConfig
	remaining map[int]int // Tracked ID -> frames of cashier role left
}

// NewClassifier creates a classifier
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{
		cfg:       cfg,
		remaining: make(map[int]int),
	}
}

// SetConfig replaces zone and thresholds; role state is kept.
func (c *Classifier) SetConfig(cfg ClassifierConfig) {
	c.cfg = cfg
}

// InZone reports whether box overlaps the cashier zone by at least MinOverlap.
func (c *Classifier) InZone(box pipeline.BBox) bool {
	if c.cfg.CashierZone.IsEmpty() {
		return false
	}
	return c.cfg.CashierZone.OverlapFraction(box) >= c.cfg.MinOverlap
}

// Classify returns the role for one tracked identity on this frame.
func (c *Classifier) Classify(id int, box pipeline.BBox) pipeline.Role {
	if c.InZone(box) {
		c.remaining[id] = c.cfg.PersistenceFrames
		return pipeline.RoleCashier
	}

	left, ok := c.remaining[id]
	if !ok || left <= 0 {
		delete(c.remaining, id)
		return pipeline.RoleCustomer
	}
	left--
	if left == 0 {
		delete(c.remaining, id)
	} else {
		c.remaining[id] = left
	}
	return pipeline.RoleCashier
}

// ClassifyAll sets InZone and Role on every observation. Without a cashier
// zone the lowest person in the image is taken as the cashier.
func (c *Classifier) ClassifyAll(obs []pipeline.Observation) {
	if c.cfg.CashierZone.IsEmpty() {
		lowest := -1
		for i := range obs {
			obs[i].InZone = false
			obs[i].Role = pipeline.RoleCustomer
			if lowest < 0 || obs[i].Center.Y > obs[lowest].Center.Y {
				lowest = i
			}
		}
		if lowest >= 0 {
			obs[lowest].Role = pipeline.RoleCashier
		}
		return
	}

	for i := range obs {
		obs[i].InZone = c.InZone(obs[i].BBox)
		obs[i].Role = c.Classify(obs[i].ID, obs[i].BBox)
	}
}

// Forget drops role state for identities pruned by the tracker.
func (c *Classifier) Forget(ids []int) {
	for _, id := range ids {
		delete(c.remaining, id)
	}
}

// Remaining returns the persistence budget left for id (0 if none).
func (c *Classifier) Remaining(id int) int {
	return c.remaining[id]
}
