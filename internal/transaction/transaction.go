// Package transaction confirms cash handovers with a two-step protocol:
// a cashier/customer hand touch holding cash, followed by the cashier's hand
// reaching the cash drawer.
package transaction

import (
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"hotelcctv/internal/material"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/zone"
)

// MaterialClassifier decides what is held between two hands
type MaterialClassifier interface {
	Classify(img image.Image, a, b pipeline.Point) material.Verdict
}

// Config holds state machine parameters
type Config struct {
	TouchThreshold float64 // Max hand distance (px) for a touch
	CashConfidence float64 // Min material confidence to start tracking
	TrackingBudget int     // Frames allowed between touch and drawer
	PairCooldown   int     // Frames a pair is ignored after a confirmation
	DrawerZone     zone.Zone
	BBoxPad        int
}

// DefaultDrawerZone is used when no drawer zone is configured
var DefaultDrawerZone = zone.Rect(50, 200, 150, 100)

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		TouchThreshold: 100,
		CashConfidence: 0.6,
		TrackingBudget: 90,
		PairCooldown:   60,
		DrawerZone:     DefaultDrawerZone,
		BBoxPad:        80,
	}
}

// State is the machine state between frames
type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
)

// Outcome describes what happened on one frame
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeTouch     Outcome = "touch"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeReset     Outcome = "reset"
)

// Touch is a candidate handover between one cashier and one customer
type Touch struct {
	CashierID    int
	CustomerID   int
	CashierHand  pipeline.HandSide
	CustomerHand pipeline.HandSide
	Distance     float64
	Confidence   float64
	Midpoint     pipeline.Point
	Material     material.Verdict
}

// HandPair returns "cashier_side-customer_side"
func (t Touch) HandPair() string {
	return fmt.Sprintf("%s-%s", t.CashierHand, t.CustomerHand)
}

// Pending is the transaction being tracked
type Pending struct {
	Touch   Touch
	Elapsed int
	Started uint64 // Frame index of the touch
}

// Result is the outcome of one Update call
type Result struct {
	Outcome   Outcome
	Detection *pipeline.Detection
	Touch     *Touch // Set on OutcomeTouch
}

type pairKey struct{ cashier, customer int }

// Machine is the per-camera transaction state machine. Not safe for
// concurrent use.
type Machine struct {
	cfg       Config
	materials MaterialClassifier
	pending   *Pending
	frame     uint64
	cooldowns map[pairKey]uint64 // Pair -> frame of last confirmation
}

// New creates an idle machine
func New(cfg Config, materials MaterialClassifier) *Machine {
	if cfg.DrawerZone.IsEmpty() {
		cfg.DrawerZone = DefaultDrawerZone
	}
	return &Machine{
		cfg:       cfg,
		materials: materials,
		cooldowns: make(map[pairKey]uint64),
	}
}

// SetConfig swaps thresholds and zones. A pending transaction is kept.
func (m *Machine) SetConfig(cfg Config) {
	if cfg.DrawerZone.IsEmpty() {
		cfg.DrawerZone = DefaultDrawerZone
	}
	m.cfg = cfg
}

// State returns the current state
func (m *Machine) State() State {
	if m.pending != nil {
		return StateTracking
	}
	return StateIdle
}

// Pending returns a copy of the tracked transaction, or nil when idle
func (m *Machine) Pending() *Pending {
	if m.pending == nil {
		return nil
	}
	p := *m.pending
	return &p
}

// DrawerZone returns the active drawer zone
func (m *Machine) DrawerZone() zone.Zone { return m.cfg.DrawerZone }

// Reset drops any pending transaction
func (m *Machine) Reset() Result {
	if m.pending == nil {
		return Result{}
	}
	m.pending = nil
	return Result{Outcome: OutcomeReset}
}

// Update advances the machine by one processed frame.
func (m *Machine) Update(frame *pipeline.FrameData, obs []pipeline.Observation) Result {
	m.frame++
	m.expireCooldowns()

	var res Result
	if m.pending != nil {
		m.pending.Elapsed++
		if m.pending.Elapsed > m.cfg.TrackingBudget {
			// a drawer entry after the budget no longer counts
			m.pending = nil
			res.Outcome = OutcomeTimedOut
		} else {
			if det := m.checkDrawer(frame, obs); det != nil {
				pair := pairKey{m.pending.Touch.CashierID, m.pending.Touch.CustomerID}
				m.cooldowns[pair] = m.frame
				m.pending = nil
				return Result{Outcome: OutcomeConfirmed, Detection: det}
			}
			return res
		}
	}

	var img image.Image
	if frame != nil && frame.Image != nil {
		img = frame.Image
	}
	if touch := m.findTouch(img, obs); touch != nil {
		m.pending = &Pending{Touch: *touch, Started: m.frame}
		return Result{Outcome: OutcomeTouch, Touch: touch}
	}
	return res
}

func (m *Machine) expireCooldowns() {
	for k, at := range m.cooldowns {
		if m.frame-at > uint64(m.cfg.PairCooldown) {
			delete(m.cooldowns, k)
		}
	}
}

func (m *Machine) onCooldown(cashier, customer int) bool {
	at, ok := m.cooldowns[pairKey{cashier, customer}]
	return ok && m.frame-at <= uint64(m.cfg.PairCooldown)
}

// findTouch returns the closest cashier/customer touch whose handover
// region classifies as cash.
func (m *Machine) findTouch(img image.Image, obs []pipeline.Observation) *Touch {
	var candidates []Touch
	for _, cashier := range obs {
		if cashier.Role != pipeline.RoleCashier {
			continue
		}
		for _, customer := range obs {
			if customer.Role != pipeline.RoleCustomer || customer.ID == cashier.ID {
				continue
			}
			if m.onCooldown(cashier.ID, customer.ID) {
				continue
			}
			for _, ch := range cashier.Hands {
				for _, cu := range customer.Hands {
					d := ch.Pos.Dist(cu.Pos)
					if d >= m.cfg.TouchThreshold {
						continue
					}
					candidates = append(candidates, Touch{
						CashierID:    cashier.ID,
						CustomerID:   customer.ID,
						CashierHand:  ch.Side,
						CustomerHand: cu.Side,
						Distance:     d,
						Confidence:   1 - d/m.cfg.TouchThreshold,
						Midpoint:     ch.Pos.Mid(cu.Pos),
					})
				}
			}
		}
	}
	if len(candidates) == 0 || m.materials == nil || img == nil {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	for _, c := range candidates {
		a, b := handPos(obs, c.CashierID, c.CashierHand), handPos(obs, c.CustomerID, c.CustomerHand)
		v := m.materials.Classify(img, a, b)
		if v.IsCash() && v.Confidence >= m.cfg.CashConfidence {
			c.Material = v
			return &c
		}
	}
	return nil
}

func handPos(obs []pipeline.Observation, id int, side pipeline.HandSide) pipeline.Point {
	for _, o := range obs {
		if o.ID != id {
			continue
		}
		for _, h := range o.Hands {
			if h.Side == side {
				return h.Pos
			}
		}
	}
	return pipeline.Point{}
}

// checkDrawer returns a CASH detection when a hand of the tracked cashier is
// inside the drawer zone.
func (m *Machine) checkDrawer(frame *pipeline.FrameData, obs []pipeline.Observation) *pipeline.Detection {
	p := m.pending
	for _, o := range obs {
		if o.ID != p.Touch.CashierID {
			continue
		}
		for _, h := range o.Hands {
			if m.cfg.DrawerZone.Contains(h.Pos) {
				return m.detection(frame, o, h)
			}
		}
	}
	return nil
}

func (m *Machine) detection(frame *pipeline.FrameData, cashier pipeline.Observation, hand pipeline.Hand) *pipeline.Detection {
	p := m.pending
	distScore := math.Max(0, 1-p.Touch.Distance/m.cfg.TouchThreshold)
	timeScore := math.Max(0, 1-float64(p.Elapsed)/float64(m.cfg.TrackingBudget))
	conf := math.Max(0.5, math.Min(1, 0.6*distScore+0.4*timeScore))

	box := pipeline.Around(hand.Pos, m.cfg.BBoxPad)
	det := &pipeline.Detection{
		Label:      pipeline.LabelCash,
		Confidence: conf,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"type":                 "two_step_verification",
			"touch_distance":       math.Round(p.Touch.Distance*10) / 10,
			"frames_to_drawer":     p.Elapsed,
			"tracking_duration":    m.cfg.TrackingBudget,
			"cashier_id":           p.Touch.CashierID,
			"customer_id":          p.Touch.CustomerID,
			"material":             p.Touch.Material.Label(),
			"hand_pair":            p.Touch.HandPair(),
			"drawer_hand_position": []int{int(hand.Pos.X), int(hand.Pos.Y)},
			"cashier_bbox":         []int{cashier.BBox.X1, cashier.BBox.Y1, cashier.BBox.X2, cashier.BBox.Y2},
		},
	}
	if frame != nil {
		det.FrameIndex = frame.Seq
		if !frame.Timestamp.IsZero() {
			det.Timestamp = frame.Timestamp
		}
		if b := frame.Bounds(); !b.Empty() {
			box = box.Clamp(b)
		}
	}
	det.BBox = box
	return det
}
