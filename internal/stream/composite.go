package stream

import "hotelcctv/internal/pipeline"

// MultiSink forwards preview frames to several sinks, so one worker can feed
// both the WebSocket hub and the MJPEG broadcaster.
type MultiSink struct {
	sinks []pipeline.FrameSink
}

// NewMultiSink creates a sink over the given sinks. Nil entries are skipped.
func NewMultiSink(sinks ...pipeline.FrameSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// PublishFrame implements pipeline.FrameSink
func (m *MultiSink) PublishFrame(frame *pipeline.FrameData) {
	for _, s := range m.sinks {
		s.PublishFrame(frame)
	}
}
