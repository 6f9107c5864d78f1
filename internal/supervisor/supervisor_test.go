package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hotelcctv/internal/database"
	"hotelcctv/internal/engine"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/worker"
)

// tickingSource yields a frame every few milliseconds. With hang set, Read
// blocks until the context is cancelled.
type tickingSource struct {
	hang bool
	seq  atomic.Uint64
}

func (s *tickingSource) Open(context.Context) error { return nil }
func (s *tickingSource) Close() error               { return nil }

func (s *tickingSource) Read(ctx context.Context) (*pipeline.FrameData, error) {
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Millisecond):
		return &pipeline.FrameData{Seq: s.seq.Add(1)}, nil
	}
}

type nopProcessor struct{ reloads atomic.Int32 }

func (p *nopProcessor) Process(context.Context, *pipeline.FrameData) engine.Result { return engine.Result{} }
func (p *nopProcessor) ApplySettings(engine.Settings)                           { p.reloads.Add(1) }

type memStore struct {
	mu     sync.Mutex
	states map[string]pipeline.WorkerState
	dead   []string
}

func newMemStore() *memStore { return &memStore{states: map[string]pipeline.WorkerState{}} }

func (m *memStore) SaveWorkerState(_ context.Context, s pipeline.WorkerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.CameraID] = s
	return nil
}

func (m *memStore) SetCameraStatus(context.Context, string, pipeline.CameraStatus) error { return nil }
func (m *memStore) InsertEvent(context.Context, *database.Event) error                   { return nil }

func (m *memStore) GetWorkerState(_ context.Context, id string) (*pipeline.WorkerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return nil, database.ErrWorkerNotFound
	}
	return &s, nil
}

func (m *memStore) ListWorkerStates(context.Context) ([]pipeline.WorkerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.WorkerState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) MarkDeadWorkers(context.Context, time.Time, time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.dead {
		st := m.states[id]
		st.CameraID = id
		st.Running = false
		st.Status = pipeline.StatusError
		st.LastError = "Heartbeat timeout"
		m.states[id] = st
	}
	return m.dead, nil
}

func (m *memStore) state(id string) pipeline.WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

type fixture struct {
	sup    *Supervisor
	store  *memStore
	builds atomic.Int32
	hang   bool
	procs  sync.Map
}

func newFixture(t *testing.T, hang bool) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), hang: hang}
	factory := func(_ context.Context, id string) (*worker.Worker, error) {
		if id == "missing" {
			return nil, database.ErrCameraNotFound
		}
		f.builds.Add(1)
		proc := &nopProcessor{}
		f.procs.Store(id, proc)
		return worker.New(id, worker.DefaultConfig(), worker.Deps{
			Source:    &tickingSource{hang: f.hang},
			Processor: proc,
			Store:     f.store,
			Settings: func(context.Context) (engine.Settings, error) {
				return engine.DefaultSettings(), nil
			},
			Logger: zap.NewNop(),
		}), nil
	}
	f.sup = New(factory, f.store, zap.NewNop())
	t.Cleanup(func() { f.sup.StopAll(100 * time.Millisecond) })
	return f
}

func (f *fixture) waitStatus(t *testing.T, id string, status pipeline.WorkerStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.sup.Status(context.Background(), id)
		return err == nil && st.Status == status
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.sup.Start(ctx, "lobby"))
	require.NoError(t, f.sup.Start(ctx, "lobby"))
	assert.Equal(t, int32(1), f.builds.Load())
	assert.True(t, f.sup.IsRunning("lobby"))
	f.waitStatus(t, "lobby", pipeline.StatusRunning)

	require.NoError(t, f.sup.Stop("lobby", time.Second))
	assert.False(t, f.sup.IsRunning("lobby"))
	assert.ErrorIs(t, f.sup.Stop("lobby", time.Second), ErrNotRunning)

	st, err := f.sup.Status(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusStopped, st.Status)
	assert.False(t, st.Running)

	require.NoError(t, f.sup.Start(ctx, "lobby"))
	assert.Equal(t, int32(2), f.builds.Load(), "a stopped worker can be started again")
}

func TestStartUnknownCamera(t *testing.T) {
	f := newFixture(t, false)
	err := f.sup.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrCameraNotFound)
	assert.Empty(t, f.sup.Running())
}

func TestStopForcesUnresponsiveWorker(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.sup.Start(context.Background(), "kitchen"))
	f.waitStatus(t, "kitchen", pipeline.StatusRunning)

	start := time.Now()
	require.NoError(t, f.sup.Stop("kitchen", 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, f.sup.IsRunning("kitchen"))
}

func TestReload(t *testing.T) {
	f := newFixture(t, false)
	assert.ErrorIs(t, f.sup.Reload("lobby"), ErrNotRunning)

	require.NoError(t, f.sup.Start(context.Background(), "lobby"))
	f.waitStatus(t, "lobby", pipeline.StatusRunning)
	require.NoError(t, f.sup.Reload("lobby"))

	v, _ := f.procs.Load("lobby")
	proc := v.(*nopProcessor)
	require.Eventually(t, func() bool { return proc.reloads.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStatusAllMergesLiveAndPersisted(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.store.SaveWorkerState(ctx, pipeline.WorkerState{CameraID: "garage", Status: pipeline.StatusError, LastError: "Heartbeat timeout"})

	require.NoError(t, f.sup.Start(ctx, "lobby"))
	f.waitStatus(t, "lobby", pipeline.StatusRunning)

	all, err := f.sup.StatusAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "garage", all[0].CameraID)
	assert.Equal(t, pipeline.StatusError, all[0].Status)
	assert.Equal(t, "lobby", all[1].CameraID)
	assert.True(t, all[1].Running)

	_, err = f.sup.Status(ctx, "nope")
	assert.ErrorIs(t, err, database.ErrWorkerNotFound)
}

func TestCleanupDeadWorkersOnlyMarksRows(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.sup.Start(ctx, "lobby"))
	require.NoError(t, f.sup.Start(ctx, "kitchen"))
	for _, id := range []string{"lobby", "kitchen"} {
		require.Eventually(t, func() bool {
			return f.store.state(id).Status == pipeline.StatusRunning
		}, 2*time.Second, 5*time.Millisecond)
	}

	f.store.mu.Lock()
	f.store.dead = []string{"lobby"}
	f.store.mu.Unlock()
	dead, err := f.sup.CleanupDeadWorkers(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, dead)

	// the local worker is left alone and the error row is not overwritten
	assert.ElementsMatch(t, []string{"kitchen", "lobby"}, f.sup.Running())
	assert.Never(t, func() bool {
		return f.store.state("lobby").Status != pipeline.StatusError
	}, 100*time.Millisecond, 5*time.Millisecond)

	st := f.store.state("lobby")
	assert.False(t, st.Running)
	assert.Equal(t, "Heartbeat timeout", st.LastError)
	assert.Equal(t, pipeline.StatusRunning, f.store.state("kitchen").Status)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.sup.Start(ctx, id))
	}
	f.sup.StopAll(time.Second)
	assert.Empty(t, f.sup.Running())
}
