package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hotelcctv/internal/pipeline"
)

func newTestClassifier() *Classifier {
	cfg := DefaultClassifierConfig()
	cfg.CashierZone = Rect(0, 0, 100, 100)
	return NewClassifier(cfg)
}

func TestClassifyOverlapBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		box  pipeline.BBox
		want pipeline.Role
	}{
		// 30 of 100 columns inside
		{"exactly at threshold", pipeline.BBox{X1: 70, Y1: 0, X2: 170, Y2: 100}, pipeline.RoleCashier},
		// 29 of 100 columns inside
		{"just below threshold", pipeline.BBox{X1: 71, Y1: 0, X2: 171, Y2: 100}, pipeline.RoleCustomer},
		{"fully inside", pipeline.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}, pipeline.RoleCashier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier()
			assert.Equal(t, tt.want, c.Classify(1, tt.box))
		})
	}
}

func TestClassifyPersistenceDecay(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	inside := pipeline.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}
	outside := pipeline.BBox{X1: 300, Y1: 300, X2: 400, Y2: 400}

	assert.Equal(t, pipeline.RoleCashier, c.Classify(7, inside))
	assert.Equal(t, 20, c.Remaining(7))

	for i := 1; i <= 20; i++ {
		assert.Equal(t, pipeline.RoleCashier, c.Classify(7, outside), "frame %d after exit", i)
	}
	assert.Equal(t, pipeline.RoleCustomer, c.Classify(7, outside))
	assert.Zero(t, c.Remaining(7))

	// Re-entry refreshes the full budget
	c.Classify(7, inside)
	c.Classify(7, outside)
	c.Classify(7, inside)
	assert.Equal(t, 20, c.Remaining(7))
}

func TestClassifyMultipleCashiersAndForget(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	obs := []pipeline.Observation{
		{ID: 1, BBox: pipeline.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}},
		{ID: 2, BBox: pipeline.BBox{X1: 40, Y1: 40, X2: 90, Y2: 90}},
		{ID: 3, BBox: pipeline.BBox{X1: 300, Y1: 300, X2: 350, Y2: 350}},
	}
	c.ClassifyAll(obs)
	assert.Equal(t, pipeline.RoleCashier, obs[0].Role)
	assert.Equal(t, pipeline.RoleCashier, obs[1].Role)
	assert.Equal(t, pipeline.RoleCustomer, obs[2].Role)
	assert.True(t, obs[0].InZone)
	assert.False(t, obs[2].InZone)

	c.Forget([]int{1})
	assert.Zero(t, c.Remaining(1))
	assert.Equal(t, 20, c.Remaining(2))
}

func TestClassifyAllWithoutZonePicksLowestPerson(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultClassifierConfig())
	obs := []pipeline.Observation{
		{ID: 1, Center: pipeline.Point{X: 100, Y: 100}},
		{ID: 2, Center: pipeline.Point{X: 100, Y: 400}},
	}
	c.ClassifyAll(obs)
	assert.Equal(t, pipeline.RoleCustomer, obs[0].Role)
	assert.Equal(t, pipeline.RoleCashier, obs[1].Role)
}
