package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hotelcctv/internal/pipeline"
)

func seqs(frames []*pipeline.FrameData) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Seq
	}
	return out
}

func TestFrameBufferKeepsNewest(t *testing.T) {
	b := NewFrameBuffer(3)
	assert.Empty(t, b.Last(5))

	for i := uint64(1); i <= 5; i++ {
		b.Add(&pipeline.FrameData{Seq: i})
	}
	b.Add(nil)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Overwrites())
	assert.Equal(t, []uint64{3, 4, 5}, seqs(b.Last(0)))
	assert.Equal(t, []uint64{4, 5}, seqs(b.Last(2)))

	b.Clear()
	assert.Zero(t, b.Len())
}

func TestCooldownTracker(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := newCooldownTracker(15*time.Second, func() time.Time { return now })

	assert.True(t, c.check(pipeline.EventFire))
	c.update(pipeline.EventFire)
	assert.False(t, c.check(pipeline.EventFire))
	assert.True(t, c.check(pipeline.EventCash), "cooldowns are per event type")

	now = now.Add(10 * time.Second)
	assert.Equal(t, 5*time.Second, c.remaining(pipeline.EventFire))

	now = now.Add(5 * time.Second)
	assert.True(t, c.check(pipeline.EventFire))
	assert.Zero(t, c.remaining(pipeline.EventFire))
}
