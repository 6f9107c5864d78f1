package transaction

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelcctv/internal/material"
	"hotelcctv/internal/pipeline"
)

type materialFunc func(img image.Image, a, b pipeline.Point) material.Verdict

func (f materialFunc) Classify(img image.Image, a, b pipeline.Point) material.Verdict {
	return f(img, a, b)
}

func alwaysCash(conf float64) MaterialClassifier {
	return materialFunc(func(image.Image, pipeline.Point, pipeline.Point) material.Verdict {
		return material.Verdict{Kind: material.KindCash, Bill: "50000_won", Confidence: conf, Positive: conf > 0.5}
	})
}

func frame(seq uint64) *pipeline.FrameData {
	return &pipeline.FrameData{Seq: seq, Image: image.NewRGBA(image.Rect(0, 0, 640, 480))}
}

func person(id int, role pipeline.Role, hands ...pipeline.Point) pipeline.Observation {
	o := pipeline.Observation{ID: id, Role: role, BBox: pipeline.BBox{X1: 0, Y1: 0, X2: 100, Y2: 200}}
	sides := []pipeline.HandSide{pipeline.HandLeft, pipeline.HandRight}
	for i, h := range hands {
		o.Hands = append(o.Hands, pipeline.Hand{Side: sides[i], Pos: h, Conf: 0.9})
	}
	return o
}

// touchScene has the cashier and customer hands 60px apart, away from the drawer.
func touchScene() []pipeline.Observation {
	return []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(2, pipeline.RoleCustomer, pipeline.Point{X: 360, Y: 100}),
	}
}

// drawerScene has the cashier's hand inside the default drawer zone.
func drawerScene() []pipeline.Observation {
	return []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 100, Y: 250}),
		person(2, pipeline.RoleCustomer, pipeline.Point{X: 500, Y: 100}),
	}
}

func idleScene() []pipeline.Observation {
	return []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(2, pipeline.RoleCustomer, pipeline.Point{X: 600, Y: 400}),
	}
}

func TestTouchThenDrawerConfirms(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TouchThreshold = 80
	m := New(cfg, alwaysCash(0.9))

	res := m.Update(frame(0), touchScene())
	require.Equal(t, OutcomeTouch, res.Outcome)
	assert.Equal(t, StateTracking, m.State())
	assert.InDelta(t, 60, res.Touch.Distance, 1e-9)

	for i := 1; i < 40; i++ {
		res = m.Update(frame(uint64(i)), idleScene())
		require.Equal(t, OutcomeNone, res.Outcome, "frame %d", i)
	}

	res = m.Update(frame(40), drawerScene())
	require.Equal(t, OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.Detection)

	det := res.Detection
	assert.Equal(t, pipeline.LabelCash, det.Label)
	assert.Equal(t, uint64(40), det.FrameIndex)
	// 0.6*(1-60/80) + 0.4*(1-40/90) = 0.372, clamped up
	assert.InDelta(t, 0.5, det.Confidence, 1e-9)
	assert.Equal(t, pipeline.BBox{X1: 20, Y1: 170, X2: 180, Y2: 330}, det.BBox)
	assert.Equal(t, "two_step_verification", det.Metadata["type"])
	assert.Equal(t, 40, det.Metadata["frames_to_drawer"])
	assert.Equal(t, 1, det.Metadata["cashier_id"])
	assert.Equal(t, 2, det.Metadata["customer_id"])
	assert.Equal(t, "50000_won", det.Metadata["material"])
	assert.Equal(t, "left-left", det.Metadata["hand_pair"])
	assert.Equal(t, []int{100, 250}, det.Metadata["drawer_hand_position"])
	assert.Equal(t, StateIdle, m.State())
}

func TestConfidenceFormula(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	m.Update(frame(0), []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(2, pipeline.RoleCustomer, pipeline.Point{X: 310, Y: 100}),
	})
	res := m.Update(frame(1), drawerScene())
	require.NotNil(t, res.Detection)
	// 0.6*(1-10/100) + 0.4*(1-1/90)
	assert.InDelta(t, 0.54+0.4*(89.0/90.0), res.Detection.Confidence, 1e-9)
}

func TestTimeoutWithoutDrawer(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	m.Update(frame(0), touchScene())

	for i := 1; i <= 90; i++ {
		res := m.Update(frame(uint64(i)), idleScene())
		require.Equal(t, OutcomeNone, res.Outcome, "frame %d", i)
	}
	res := m.Update(frame(91), idleScene())
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Nil(t, res.Detection)
	assert.Equal(t, StateIdle, m.State())

	// No cooldown after a timeout: the same pair can start tracking again.
	res = m.Update(frame(92), touchScene())
	assert.Equal(t, OutcomeTouch, res.Outcome)
}

func TestDrawerEntryAtBudgetBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		drawerAt    int
		wantOutcome Outcome
	}{
		{"last frame of budget", 90, OutcomeConfirmed},
		{"one frame past budget", 91, OutcomeTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(DefaultConfig(), alwaysCash(0.9))
			require.Equal(t, OutcomeTouch, m.Update(frame(0), touchScene()).Outcome)
			for i := 1; i < tt.drawerAt; i++ {
				require.Equal(t, OutcomeNone, m.Update(frame(uint64(i)), idleScene()).Outcome, "frame %d", i)
			}

			res := m.Update(frame(uint64(tt.drawerAt)), drawerScene())
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantOutcome == OutcomeConfirmed, res.Detection != nil)
			assert.Equal(t, StateIdle, m.State())
		})
	}
}

func TestSameRolePairsNeverTouch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		role pipeline.Role
	}{
		{"two cashiers", pipeline.RoleCashier},
		{"two customers", pipeline.RoleCustomer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(DefaultConfig(), alwaysCash(0.9))
			res := m.Update(frame(0), []pipeline.Observation{
				person(1, tt.role, pipeline.Point{X: 300, Y: 100}),
				person(2, tt.role, pipeline.Point{X: 310, Y: 100}),
			})
			assert.Equal(t, OutcomeNone, res.Outcome)
			assert.Equal(t, StateIdle, m.State())
		})
	}
}

func TestMaterialGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		verdict material.Verdict
		want    Outcome
	}{
		{"cash above threshold", material.Verdict{Kind: material.KindCash, Confidence: 0.7, Positive: true}, OutcomeTouch},
		{"cash below threshold", material.Verdict{Kind: material.KindCash, Confidence: 0.55, Positive: true}, OutcomeNone},
		{"card", material.Verdict{Kind: material.KindCard, Confidence: 0.9, Positive: true}, OutcomeNone},
		{"nothing", material.Verdict{Kind: material.KindNone}, OutcomeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.verdict
			m := New(DefaultConfig(), materialFunc(func(image.Image, pipeline.Point, pipeline.Point) material.Verdict { return v }))
			assert.Equal(t, tt.want, m.Update(frame(0), touchScene()).Outcome)
		})
	}
}

func TestClosestTouchWins(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	res := m.Update(frame(0), []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(2, pipeline.RoleCustomer, pipeline.Point{X: 380, Y: 100}),
		person(3, pipeline.RoleCustomer, pipeline.Point{X: 320, Y: 100}),
	})
	require.Equal(t, OutcomeTouch, res.Outcome)
	assert.Equal(t, 3, res.Touch.CustomerID)
	assert.InDelta(t, 20, res.Touch.Distance, 1e-9)
}

func TestPairCooldownSuppressesSecondConfirmation(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	m.Update(frame(0), touchScene())
	require.Equal(t, OutcomeConfirmed, m.Update(frame(1), drawerScene()).Outcome)

	// Within 60 frames of the confirmation the same pair cannot start tracking.
	for i := 2; i <= 61; i++ {
		res := m.Update(frame(uint64(i)), touchScene())
		require.Equal(t, OutcomeNone, res.Outcome, "frame %d", i)
	}
	assert.Equal(t, OutcomeTouch, m.Update(frame(62), touchScene()).Outcome)
}

func TestCooldownIsPerPair(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	m.Update(frame(0), touchScene())
	require.Equal(t, OutcomeConfirmed, m.Update(frame(1), drawerScene()).Outcome)

	res := m.Update(frame(2), []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(5, pipeline.RoleCustomer, pipeline.Point{X: 330, Y: 100}),
	})
	require.Equal(t, OutcomeTouch, res.Outcome)
	assert.Equal(t, 5, res.Touch.CustomerID)
}

func TestOnlyTrackedCashierConfirms(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	m.Update(frame(0), touchScene())

	res := m.Update(frame(1), []pipeline.Observation{
		person(1, pipeline.RoleCashier, pipeline.Point{X: 300, Y: 100}),
		person(9, pipeline.RoleCashier, pipeline.Point{X: 100, Y: 250}),
	})
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.Equal(t, StateTracking, m.State())
}

func TestReset(t *testing.T) {
	t.Parallel()

	m := New(DefaultConfig(), alwaysCash(0.9))
	assert.Equal(t, OutcomeNone, m.Reset().Outcome)
	m.Update(frame(0), touchScene())
	assert.Equal(t, OutcomeReset, m.Reset().Outcome)
	assert.Nil(t, m.Pending())
}
