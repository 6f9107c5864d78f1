package pipeline

import (
	"sync"
	"sync/atomic"
)

// EventBus fans confirmed events out to every interested party (WebSocket
// hub, tests, future notifiers). Handlers are called synchronously in
// registration order; channel subscribers drop events when their buffer is
// full.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []busSubscriber
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

type busSubscriber struct {
	id       uint64
	cameraID string // "" receives every camera
	handler  DetectionResultHandler
	ch       chan *EventResult
}

func (s busSubscriber) wants(cameraID string) bool {
	return s.cameraID == "" || s.cameraID == cameraID
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers handler for events of all cameras and returns its
// unsubscribe function.
func (b *EventBus) Subscribe(handler DetectionResultHandler) func() {
	return b.register(busSubscriber{handler: handler})
}

// SubscribeChannel returns a channel receiving the events of cameraID ("" for
// all cameras). The unsubscribe function closes the channel.
func (b *EventBus) SubscribeChannel(cameraID string, size int) (<-chan *EventResult, func()) {
	if size <= 0 {
		size = 10
	}
	ch := make(chan *EventResult, size)
	return ch, b.register(busSubscriber{cameraID: cameraID, ch: ch})
}

func (b *EventBus) register(s busSubscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		if s.ch != nil {
			close(s.ch)
		}
		return func() {}
	}
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)

	var once sync.Once
	return func() { once.Do(func() { b.remove(s.id) }) }
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id != id {
			continue
		}
		if s.ch != nil {
			close(s.ch)
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		return
	}
}

// Publish delivers result to the matching subscribers
func (b *EventBus) Publish(result *EventResult) {
	if result == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subs {
		if !s.wants(result.CameraID) {
			continue
		}
		if s.handler != nil {
			s.handler.OnDetectionResult(result)
			continue
		}
		select {
		case s.ch <- result:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns how many events were published and how many channel
// deliveries were dropped.
func (b *EventBus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close detaches every subscriber. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		if s.ch != nil {
			close(s.ch)
		}
	}
	b.subs = nil
}
