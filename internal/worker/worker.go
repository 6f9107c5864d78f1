// Package worker runs the per-camera capture and detection loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hotelcctv/internal/clip"
	"hotelcctv/internal/database"
	"hotelcctv/internal/engine"
	"hotelcctv/internal/metrics"
	"hotelcctv/internal/pipeline"
)

// Command is a control message for a running worker
type Command string

const (
	CommandStop   Command = "stop"
	CommandReload Command = "reloadSettings"
)

// ErrConnect is returned when the stream cannot be opened within the
// connect budget.
var ErrConnect = errors.New("failed to connect to camera")

// Processor runs detection on a frame
type Processor interface {
	Process(ctx context.Context, frame *pipeline.FrameData) engine.Result
	ApplySettings(s engine.Settings)
}

// ClipWriter materializes the clip, thumbnail and sidecar for an event
type ClipWriter interface {
	Write(ctx context.Context, req clip.Request) (clip.Result, error)
}

// Store persists worker state, camera status and events
type Store interface {
	SaveWorkerState(ctx context.Context, s pipeline.WorkerState) error
	SetCameraStatus(ctx context.Context, id string, status pipeline.CameraStatus) error
	InsertEvent(ctx context.Context, ev *database.Event) error
}

// SettingsFunc loads the current engine settings for the camera
type SettingsFunc func(ctx context.Context) (engine.Settings, error)

// Config holds the worker loop tuning
type Config struct {
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
	MaxReadFailures int           `yaml:"max_read_failures"`
	MaxReadGap      time.Duration `yaml:"max_read_gap"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`

	BufferEvery  int `yaml:"buffer_every"`
	PreviewEvery int `yaml:"preview_every"`
	DetectEvery  int `yaml:"detect_every"`

	BufferCapacity int `yaml:"buffer_capacity"`
	ClipFrames     int `yaml:"clip_frames"`

	EventCooldown        time.Duration `yaml:"event_cooldown"`
	KeepEventWithoutClip bool          `yaml:"keep_event_without_clip"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns the standard loop settings
func DefaultConfig() Config {
	return Config{
		ConnectAttempts:      5,
		ConnectBackoff:       5 * time.Second,
		MaxReadFailures:      20,
		MaxReadGap:           30 * time.Second,
		ReconnectDelay:       3 * time.Second,
		BufferEvery:          2,
		PreviewEvery:         4,
		DetectEvery:          4,
		BufferCapacity:       450,
		ClipFrames:           150,
		EventCooldown:        15 * time.Second,
		KeepEventWithoutClip: true,
		HeartbeatInterval:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = d.ConnectAttempts
	}
	if c.ConnectBackoff < 0 {
		c.ConnectBackoff = d.ConnectBackoff
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = d.MaxReadFailures
	}
	if c.MaxReadGap <= 0 {
		c.MaxReadGap = d.MaxReadGap
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.BufferEvery <= 0 {
		c.BufferEvery = d.BufferEvery
	}
	if c.PreviewEvery <= 0 {
		c.PreviewEvery = d.PreviewEvery
	}
	if c.DetectEvery <= 0 {
		c.DetectEvery = d.DetectEvery
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.ClipFrames <= 0 {
		c.ClipFrames = d.ClipFrames
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

// Deps are the collaborators of a worker. Validator, Clips, Sink, Bus,
// Metrics and Settings are optional.
type Deps struct {
	Source    pipeline.FrameSource
	Processor Processor
	Store     Store
	Validator pipeline.Validator
	Clips     ClipWriter
	Sink      pipeline.FrameSink
	Bus       *pipeline.EventBus
	Metrics   *metrics.Metrics
	Settings  SettingsFunc
	Logger    *zap.Logger
}

// Worker owns the stream, detection engine and frame buffer of one camera
type Worker struct {
	cameraID string
	cfg      Config
	deps     Deps
	logger   *zap.Logger

	buffer    *FrameBuffer
	cooldowns *cooldownTracker
	cmds      chan Command
	done      chan struct{}

	mu    sync.RWMutex
	state pipeline.WorkerState

	detectEvery int

	connected   bool
	failures    int
	lastSuccess time.Time
	lastBeat    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a worker. Call Run to start it.
func New(cameraID string, cfg Config, deps Deps) *Worker {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	w := &Worker{
		cameraID: cameraID,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.Named("worker").With(zap.String("camera_id", cameraID)),
		buffer:   NewFrameBuffer(cfg.BufferCapacity),
		cmds:     make(chan Command, 4),
		done:     make(chan struct{}),
		state:    pipeline.WorkerState{CameraID: cameraID, Status: pipeline.StatusStopped},
		now:      time.Now,
		sleep:    sleepCtx,
	}
	w.cooldowns = newCooldownTracker(cfg.EventCooldown, func() time.Time { return w.now() })
	w.detectEvery = cfg.DetectEvery
	if p, ok := deps.Processor.(interface{ Settings() engine.Settings }); ok {
		w.setCadence(p.Settings())
	}
	return w
}

// setCadence applies a per-camera frame-skip override
func (w *Worker) setCadence(s engine.Settings) {
	w.detectEvery = w.cfg.DetectEvery
	if s.DetectEvery > 0 {
		w.detectEvery = s.DetectEvery
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CameraID returns the camera this worker serves
func (w *Worker) CameraID() string { return w.cameraID }

// Send queues a command without blocking. It reports false when the queue
// is full or the worker has exited.
func (w *Worker) Send(cmd Command) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.cmds <- cmd:
		return true
	default:
		return false
	}
}

// Done is closed when Run returns
func (w *Worker) Done() <-chan struct{} { return w.done }

// State returns a snapshot of the worker state
func (w *Worker) State() pipeline.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Buffer exposes the clip ring buffer
func (w *Worker) Buffer() *FrameBuffer { return w.buffer }

// Run executes the worker state machine until a stop command, context
// cancellation or a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.deps.Source.Close()

	now := w.now()
	w.update(func(s *pipeline.WorkerState) {
		*s = pipeline.WorkerState{CameraID: w.cameraID, Running: true, Status: pipeline.StatusStarting, StartTime: &now}
	})
	w.setStatus(ctx, pipeline.StatusStarting)

	if err := w.connect(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, errStopped) {
			w.finish(pipeline.StatusStopped, "")
			return nil
		}
		w.setCamera(ctx, pipeline.CameraOffline)
		w.finish(pipeline.StatusError, err.Error())
		return err
	}
	w.setStatus(ctx, pipeline.StatusRunning)
	w.setCamera(ctx, pipeline.CameraOnline)
	w.lastSuccess = w.now()
	w.logger.Info("Detection loop started")

	for {
		if ctx.Err() != nil {
			break
		}
		if stop := w.handleCommands(ctx); stop {
			break
		}

		if !w.connected {
			if err := w.reconnect(ctx); err != nil {
				break
			}
			w.heartbeat(ctx, false)
			continue
		}

		frame, readErr := w.deps.Source.Read(ctx)
		if readErr != nil {
			if ctx.Err() != nil {
				break
			}
			w.onReadError(ctx, readErr)
			w.heartbeat(ctx, false)
			continue
		}

		if w.State().Status == pipeline.StatusReconnecting {
			w.setStatus(ctx, pipeline.StatusRunning)
			w.setCamera(ctx, pipeline.CameraOnline)
			w.logger.Info("Stream recovered")
		}
		w.failures = 0
		w.lastSuccess = w.now()
		w.handleFrame(ctx, frame)
		w.heartbeat(ctx, false)
	}

	w.setCamera(context.WithoutCancel(ctx), pipeline.CameraOffline)
	w.finish(pipeline.StatusStopped, "")
	w.logger.Info("Detection loop ended")
	return nil
}

var errStopped = errors.New("stop requested")

// connect opens the source with a fixed backoff between attempts
func (w *Worker) connect(ctx context.Context) error {
	w.setStatus(ctx, pipeline.StatusConnecting)
	var lastErr error
	for attempt := 1; attempt <= w.cfg.ConnectAttempts; attempt++ {
		if stop := w.handleCommands(ctx); stop {
			return errStopped
		}
		w.logger.Info("Connection attempt", zap.Int("attempt", attempt), zap.Int("max", w.cfg.ConnectAttempts))
		if lastErr = w.deps.Source.Open(ctx); lastErr == nil {
			w.connected = true
			return nil
		}
		w.logger.Warn("Connection failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < w.cfg.ConnectAttempts {
			if err := w.sleep(ctx, w.cfg.ConnectBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConnect, w.cfg.ConnectAttempts, lastErr)
}

func (w *Worker) onReadError(ctx context.Context, err error) {
	w.failures++
	w.deps.Metrics.ReadError(w.cameraID)
	gap := w.now().Sub(w.lastSuccess)
	if w.failures < w.cfg.MaxReadFailures && gap <= w.cfg.MaxReadGap {
		w.logger.Debug("Frame read failed", zap.Int("failures", w.failures), zap.Error(err))
		return
	}
	w.logger.Warn("Stream lost, reconnecting",
		zap.Int("failures", w.failures), zap.Duration("since_success", gap), zap.Error(err))
	w.deps.Source.Close()
	w.connected = false
}

// reconnect waits ReconnectDelay and reopens the stream. The worker stays
// Reconnecting until the next successful read. It returns an error only when
// the worker should exit.
func (w *Worker) reconnect(ctx context.Context) error {
	if w.State().Status != pipeline.StatusReconnecting {
		w.setStatus(ctx, pipeline.StatusReconnecting)
		w.setCamera(ctx, pipeline.CameraReconnecting)
	}
	w.deps.Metrics.Reconnect(w.cameraID)
	if err := w.sleep(ctx, w.cfg.ReconnectDelay); err != nil {
		return err
	}
	if err := w.deps.Source.Open(ctx); err != nil {
		w.logger.Warn("Reopen failed", zap.Error(err))
		w.heartbeat(ctx, false)
		return ctx.Err()
	}
	w.connected = true
	return nil
}

// handleCommands drains pending commands and reports whether to stop
func (w *Worker) handleCommands(ctx context.Context) bool {
	for {
		select {
		case cmd := <-w.cmds:
			switch cmd {
			case CommandStop:
				w.logger.Info("Stop command received")
				return true
			case CommandReload:
				w.reloadSettings(ctx)
			default:
				w.logger.Warn("Unknown command", zap.String("command", string(cmd)))
			}
		default:
			return false
		}
	}
}

func (w *Worker) reloadSettings(ctx context.Context) {
	if w.deps.Settings == nil {
		return
	}
	s, err := w.deps.Settings(ctx)
	if err != nil {
		w.logger.Error("Failed to reload settings", zap.Error(err))
		return
	}
	w.deps.Processor.ApplySettings(s)
	w.setCadence(s)
	w.logger.Info("Settings reloaded",
		zap.Bool("cash", s.CashEnabled), zap.Bool("violence", s.ViolenceEnabled), zap.Bool("fire", s.FireEnabled),
		zap.Int("detect_every", w.detectEvery))
}

// encodedOnly drops any decoded image so the ring only holds JPEG bytes
func encodedOnly(f *pipeline.FrameData) *pipeline.FrameData {
	return &pipeline.FrameData{
		CameraID:  f.CameraID,
		Data:      f.Data,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
	}
}

func (w *Worker) handleFrame(ctx context.Context, frame *pipeline.FrameData) {
	var count uint64
	w.update(func(s *pipeline.WorkerState) {
		s.FrameCount++
		count = s.FrameCount
	})
	w.deps.Metrics.FrameRead(w.cameraID)

	if count%uint64(w.cfg.BufferEvery) == 0 {
		w.buffer.Add(encodedOnly(frame))
	}
	if w.deps.Sink != nil && count%uint64(w.cfg.PreviewEvery) == 0 {
		w.deps.Sink.PublishFrame(frame)
	}
	if count%uint64(w.detectEvery) != 0 {
		return
	}

	start := time.Now()
	res := w.deps.Processor.Process(ctx, frame)
	w.deps.Metrics.FrameProcessed(w.cameraID, time.Since(start))
	w.update(func(s *pipeline.WorkerState) { s.FramesProcessed++ })

	for _, det := range res.Detections {
		w.handleDetection(ctx, frame, res, det)
	}
}

func (w *Worker) handleDetection(ctx context.Context, frame *pipeline.FrameData, res engine.Result, det pipeline.Detection) {
	eventType := det.Label.EventType()
	if eventType == "" {
		return
	}
	w.deps.Metrics.Detection(w.cameraID, eventType)
	log := w.logger.With(zap.String("event_type", string(eventType)), zap.Float64("confidence", det.Confidence))

	if !w.cooldowns.check(eventType) {
		log.Debug("Event suppressed by cooldown", zap.Duration("remaining", w.cooldowns.remaining(eventType)))
		w.deps.Metrics.Suppressed(w.cameraID, eventType, "cooldown")
		return
	}

	var verdict *pipeline.Verdict
	if w.deps.Validator != nil {
		v := w.deps.Validator.Validate(ctx, frame, eventType)
		if !v.Accepted {
			log.Info("Event rejected by validation", zap.String("reason", v.Reason))
			w.deps.Metrics.Suppressed(w.cameraID, eventType, "validation")
			return
		}
		verdict = &v
	}

	eventID := uuid.NewString()
	if det.Timestamp.IsZero() {
		det.Timestamp = w.now()
	}

	var artifacts clip.Result
	if w.deps.Clips != nil {
		var err error
		artifacts, err = w.deps.Clips.Write(ctx, clip.Request{
			EventID:    eventID,
			CameraID:   w.cameraID,
			EventType:  eventType,
			Detection:  det,
			Frames:     w.buffer.Last(w.cfg.ClipFrames),
			Annotated:  res.Annotated,
			Validation: verdict,
			Time:       det.Timestamp,
		})
		if err != nil {
			w.deps.Metrics.ClipFailure(w.cameraID)
			if !w.cfg.KeepEventWithoutClip || !errors.Is(err, clip.ErrTranscode) {
				log.Error("Clip failed, dropping event", zap.Error(err))
				w.deps.Metrics.Suppressed(w.cameraID, eventType, "clip")
				return
			}
			log.Warn("Clip failed, keeping event without clip", zap.Error(err))
		}
	}

	ev, err := database.NewEvent(eventID, w.cameraID, det, artifacts.ClipPath, artifacts.ThumbnailPath, verdict)
	if err == nil {
		err = w.deps.Store.InsertEvent(ctx, ev)
	}
	if err != nil {
		log.Error("Failed to save event", zap.Error(err))
		return
	}

	w.cooldowns.update(eventType)
	w.update(func(s *pipeline.WorkerState) { s.EventsDetected++ })
	w.deps.Metrics.Event(w.cameraID, eventType)
	log.Info("Event saved", zap.String("event_id", eventID), zap.String("clip", artifacts.ClipPath))

	if w.deps.Bus != nil {
		result := &pipeline.EventResult{
			EventID:       eventID,
			CameraID:      w.cameraID,
			EventType:     eventType,
			Detection:     det,
			ClipPath:      artifacts.ClipPath,
			ThumbnailPath: artifacts.ThumbnailPath,
		}
		if verdict != nil {
			result.Validation = *verdict
		}
		w.deps.Bus.Publish(result)
	}
}

func (w *Worker) update(fn func(s *pipeline.WorkerState)) {
	w.mu.Lock()
	fn(&w.state)
	w.mu.Unlock()
}

func (w *Worker) setStatus(ctx context.Context, status pipeline.WorkerStatus) {
	w.update(func(s *pipeline.WorkerState) { s.Status = status })
	w.deps.Metrics.WorkerStatus(w.cameraID, status)
	w.logger.Info("Worker status changed", zap.String("status", string(status)))
	w.heartbeat(ctx, true)
}

func (w *Worker) setCamera(ctx context.Context, status pipeline.CameraStatus) {
	if err := w.deps.Store.SetCameraStatus(ctx, w.cameraID, status); err != nil {
		w.logger.Warn("Failed to update camera status", zap.Error(err))
	}
}

// heartbeat persists the state when forced or when the interval elapsed
func (w *Worker) heartbeat(ctx context.Context, force bool) {
	now := w.now()
	if !force && now.Sub(w.lastBeat) < w.cfg.HeartbeatInterval {
		return
	}
	w.lastBeat = now
	w.update(func(s *pipeline.WorkerState) { s.LastHeartbeat = &now })
	if err := w.deps.Store.SaveWorkerState(ctx, w.State()); err != nil {
		w.logger.Warn("Failed to save worker state", zap.Error(err))
	}
}

// finish records the terminal state. It uses a fresh context so the final
// write lands even after cancellation.
func (w *Worker) finish(status pipeline.WorkerStatus, lastError string) {
	w.update(func(s *pipeline.WorkerState) {
		s.Running = false
		if lastError != "" {
			s.LastError = lastError
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.setStatus(ctx, status)
}
