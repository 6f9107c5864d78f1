// Package supervisor starts, stops and monitors camera workers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/database"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/worker"
)

var (
	ErrNotRunning  = errors.New("worker not running")
	ErrStopTimeout = errors.New("worker did not stop in time")
)

// Factory builds a worker for a camera. It fails when the camera is unknown
// or disabled.
type Factory func(ctx context.Context, cameraID string) (*worker.Worker, error)

// StateStore reads and sweeps persisted worker state
type StateStore interface {
	GetWorkerState(ctx context.Context, cameraID string) (*pipeline.WorkerState, error)
	ListWorkerStates(ctx context.Context) ([]pipeline.WorkerState, error)
	MarkDeadWorkers(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error)
}

type handle struct {
	w      *worker.Worker
	cancel context.CancelFunc
	err    error
}

// Supervisor manages one worker goroutine per camera
type Supervisor struct {
	factory Factory
	store   StateStore
	logger  *zap.Logger
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	workers map[string]*handle
}

// New creates a supervisor
func New(factory Factory, store StateStore, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.L()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		factory: factory,
		store:   store,
		logger:  logger.Named("supervisor"),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		workers: make(map[string]*handle),
	}
}

// Start launches the worker for a camera. Starting a running worker is a
// no-op.
func (s *Supervisor) Start(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.workers[cameraID]; ok && !isDone(h.w) {
		return nil
	}

	w, err := s.factory(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("failed to create worker for camera %s: %w", cameraID, err)
	}

	wctx, cancel := context.WithCancel(s.base)
	h := &handle{w: w, cancel: cancel}
	s.workers[cameraID] = h

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := w.Run(wctx)

		s.mu.Lock()
		h.err = err
		if s.workers[cameraID] == h && err == nil {
			delete(s.workers, cameraID)
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("Worker exited with error", zap.String("camera_id", cameraID), zap.Error(err))
		}
	}()

	s.logger.Info("Started worker", zap.String("camera_id", cameraID))
	return nil
}

// Stop asks the worker to stop and cancels it if it has not exited within
// timeout.
func (s *Supervisor) Stop(cameraID string, timeout time.Duration) error {
	s.mu.RLock()
	h, ok := s.workers[cameraID]
	s.mu.RUnlock()
	if !ok || isDone(h.w) {
		s.forget(cameraID, h)
		return ErrNotRunning
	}

	h.w.Send(worker.CommandStop)
	select {
	case <-h.w.Done():
		s.logger.Info("Worker stopped", zap.String("camera_id", cameraID))
		s.forget(cameraID, h)
		return nil
	case <-time.After(timeout):
	}

	s.logger.Warn("Worker did not stop gracefully, cancelling", zap.String("camera_id", cameraID))
	h.cancel()
	select {
	case <-h.w.Done():
		s.forget(cameraID, h)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: camera %s", ErrStopTimeout, cameraID)
	}
}

func (s *Supervisor) forget(cameraID string, h *handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	if s.workers[cameraID] == h {
		delete(s.workers, cameraID)
	}
	s.mu.Unlock()
}

// Reload tells a running worker to reload its settings
func (s *Supervisor) Reload(cameraID string) error {
	s.mu.RLock()
	h, ok := s.workers[cameraID]
	s.mu.RUnlock()
	if !ok || !h.w.Send(worker.CommandReload) {
		return ErrNotRunning
	}
	return nil
}

// IsRunning reports whether a live worker exists for the camera
func (s *Supervisor) IsRunning(cameraID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.workers[cameraID]
	return ok && !isDone(h.w)
}

// Running returns the cameras with a live worker
func (s *Supervisor) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.workers))
	for id, h := range s.workers {
		if !isDone(h.w) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Status returns the state of one worker, preferring the in-process view
// over the persisted row.
func (s *Supervisor) Status(ctx context.Context, cameraID string) (*pipeline.WorkerState, error) {
	s.mu.RLock()
	h, ok := s.workers[cameraID]
	s.mu.RUnlock()
	if ok {
		st := h.w.State()
		return &st, nil
	}
	st, err := s.store.GetWorkerState(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// StatusAll returns all known worker states
func (s *Supervisor) StatusAll(ctx context.Context) ([]pipeline.WorkerState, error) {
	persisted, err := s.store.ListWorkerStates(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	live := make(map[string]pipeline.WorkerState, len(s.workers))
	for id, h := range s.workers {
		live[id] = h.w.State()
	}
	s.mu.RUnlock()

	out := make([]pipeline.WorkerState, 0, len(persisted)+len(live))
	for _, st := range persisted {
		if l, ok := live[st.CameraID]; ok {
			st = l
			delete(live, st.CameraID)
		}
		out = append(out, st)
	}
	for _, st := range live {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out, nil
}

// CleanupDeadWorkers marks rows with a stale heartbeat as errored. It only
// touches the persisted state; a worker still present in this process keeps
// running and its next heartbeat marks it alive again.
func (s *Supervisor) CleanupDeadWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	dead, err := s.store.MarkDeadWorkers(ctx, s.now(), timeout)
	if err != nil {
		return nil, err
	}
	for _, id := range dead {
		if s.IsRunning(id) {
			s.logger.Warn("Worker has a stale heartbeat but is still running here", zap.String("camera_id", id))
		}
	}
	if len(dead) > 0 {
		s.logger.Warn("Cleaned up dead workers", zap.Strings("camera_ids", dead))
	}
	return dead, nil
}

// RunCleanup sweeps dead workers every interval until ctx is done
func (s *Supervisor) RunCleanup(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupDeadWorkers(ctx, timeout); err != nil {
				s.logger.Error("Dead worker sweep failed", zap.Error(err))
			}
		}
	}
}

// StopAll stops every worker concurrently and waits for them
func (s *Supervisor) StopAll(timeout time.Duration) {
	for _, id := range s.Running() {
		go func(id string) {
			if err := s.Stop(id, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
				s.logger.Warn("Failed to stop worker", zap.String("camera_id", id), zap.Error(err))
			}
		}(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2*timeout + time.Second):
		s.logger.Warn("Timed out waiting for workers, cancelling")
		s.cancel()
		<-done
	}
}

func isDone(w *worker.Worker) bool {
	select {
	case <-w.Done():
		return true
	default:
		return false
	}
}

var _ StateStore = (*database.Database)(nil)
