package worker

import (
	"sync"
	"sync/atomic"

	"hotelcctv/internal/pipeline"
)

// FrameBuffer is a fixed-capacity ring of encoded frames. Add overwrites the
// oldest frame once full.
type FrameBuffer struct {
	mu       sync.RWMutex
	frames   []*pipeline.FrameData
	capacity int
	writePos int // total frames ever written

	overwrites atomic.Uint64
}

// NewFrameBuffer creates a buffer holding at most capacity frames
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameBuffer{
		frames:   make([]*pipeline.FrameData, capacity),
		capacity: capacity,
	}
}

// Add appends a frame
func (b *FrameBuffer) Add(f *pipeline.FrameData) {
	if f == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.writePos % b.capacity
	if b.frames[pos] != nil {
		b.overwrites.Add(1)
	}
	b.frames[pos] = f
	b.writePos++
}

// Len returns the number of retained frames
func (b *FrameBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return min(b.writePos, b.capacity)
}

// Cap returns the buffer capacity
func (b *FrameBuffer) Cap() int { return b.capacity }

// Overwrites returns how many frames were evicted by newer ones
func (b *FrameBuffer) Overwrites() uint64 { return b.overwrites.Load() }

// Last returns up to n most recent frames, oldest first
func (b *FrameBuffer) Last(n int) []*pipeline.FrameData {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := min(b.writePos, b.capacity)
	if n > size || n <= 0 {
		n = size
	}
	out := make([]*pipeline.FrameData, 0, n)
	for i := b.writePos - n; i < b.writePos; i++ {
		out = append(out, b.frames[i%b.capacity])
	}
	return out
}

// Clear drops all frames
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.frames)
	b.writePos = 0
}
