package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hotelcctv/internal/auth"
	"hotelcctv/internal/database"
	"hotelcctv/internal/metrics"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/supervisor"
	"hotelcctv/internal/stream"
	"hotelcctv/internal/ws"
)

type fakeWorkers struct {
	mu      sync.Mutex
	running map[string]bool
	reloads []string
	dead    []string
}

func newFakeWorkers() *fakeWorkers { return &fakeWorkers{running: map[string]bool{}} }

func (f *fakeWorkers) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeWorkers) Stop(id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return supervisor.ErrNotRunning
	}
	delete(f.running, id)
	return nil
}

func (f *fakeWorkers) Reload(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return supervisor.ErrNotRunning
	}
	f.reloads = append(f.reloads, id)
	return nil
}

func (f *fakeWorkers) IsRunning(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id]
}

func (f *fakeWorkers) Status(_ context.Context, id string) (*pipeline.WorkerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return nil, database.ErrWorkerNotFound
	}
	now := time.Now()
	return &pipeline.WorkerState{CameraID: id, Running: true, Status: pipeline.StatusRunning, LastHeartbeat: &now, StartTime: &now}, nil
}

func (f *fakeWorkers) StatusAll(ctx context.Context) ([]pipeline.WorkerState, error) {
	f.mu.Lock()
	ids := make([]string, 0, len(f.running))
	for id := range f.running {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	sort.Strings(ids)

	out := make([]pipeline.WorkerState, 0, len(ids))
	for _, id := range ids {
		st, _ := f.Status(ctx, id)
		out = append(out, *st)
	}
	return out, nil
}

func (f *fakeWorkers) CleanupDeadWorkers(context.Context, time.Duration) ([]string, error) {
	return f.dead, nil
}

type harness struct {
	db      *database.Database
	workers *fakeWorkers
	preview *stream.MJPEGBroadcaster
	srv     *httptest.Server
	token   string
}

func newHarness(t *testing.T, authEnabled bool) *harness {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DSN: filepath.Join(t.TempDir(), "api.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	authn, err := auth.NewAuthenticator(auth.Config{Enabled: authEnabled, Username: "admin", Password: "frontdesk", JWTSecret: "test"})
	require.NoError(t, err)

	h := &harness{db: db, workers: newFakeWorkers(), preview: stream.NewMJPEGBroadcaster(zap.NewNop())}
	s := NewServer(Config{
		Store:   db,
		Workers: h.workers,
		Auth:    authn,
		Hub:     ws.NewHub(zap.NewNop()),
		Preview: h.preview,
		Metrics: metrics.New(),
		Logger:  zap.NewNop(),
	})
	h.srv = httptest.NewServer(s.Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, true)

	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginGuardsAPI(t *testing.T) {
	h := newHarness(t, true)

	resp := h.do(t, http.MethodGet, "/api/v1/cameras", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "admin", Password: "frontdesk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[loginResponse](t, resp)
	require.NotEmpty(t, login.Token)
	h.token = login.Token

	resp = h.do(t, http.MethodGet, "/api/v1/cameras", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/auth/status", nil)
	status := decode[map[string]any](t, resp)
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, "admin", status["username"])
}

func TestCameraLifecycle(t *testing.T) {
	h := newHarness(t, false)

	resp := h.do(t, http.MethodPost, "/api/v1/cameras", map[string]any{"name": "Lobby"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "stream_url is required")

	resp = h.do(t, http.MethodPost, "/api/v1/cameras", map[string]any{
		"id": "lobby", "name": "Lobby", "stream_url": "rtsp://cam/lobby",
		"settings": map[string]any{"detect_fire": false},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/cameras", map[string]any{"id": "lobby", "name": "Again", "stream_url": "rtsp://x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/cameras/lobby", map[string]any{"name": "Main lobby"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cam := decode[map[string]any](t, resp)
	assert.Equal(t, "Main lobby", cam["name"])
	assert.Equal(t, "rtsp://cam/lobby", cam["stream_url"])
	assert.Equal(t, false, cam["worker_running"])

	resp = h.do(t, http.MethodGet, "/api/v1/cameras/lobby/settings", nil)
	settings := decode[map[string]any](t, resp)
	assert.Equal(t, false, settings["detect_fire"])

	resp = h.do(t, http.MethodDelete, "/api/v1/cameras/lobby", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/v1/cameras/lobby", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsUpdateReloadsRunningWorker(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.db.SaveCamera(context.Background(), &database.Camera{ID: "bar", Name: "Bar", StreamURL: "rtsp://bar", Enabled: true}))

	resp := h.do(t, http.MethodPut, "/api/v1/cameras/bar/settings", map[string]any{"cash_confidence": 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/cameras/bar/settings", map[string]any{"cashier_zone": []int{0, 0, 320, 240}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["reloaded"])

	resp = h.do(t, http.MethodPost, "/api/v1/workers/bar/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/cameras/bar/settings", map[string]any{"detect_cash": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["reloaded"])
	assert.Equal(t, []string{"bar"}, h.workers.reloads)

	resp = h.do(t, http.MethodPut, "/api/v1/cameras/ghost/settings", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkerEndpoints(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.db.SaveCamera(ctx, &database.Camera{ID: "pool", Name: "Pool", StreamURL: "rtsp://pool", Enabled: true}))
	require.NoError(t, h.db.SaveCamera(ctx, &database.Camera{ID: "spa", Name: "Spa", StreamURL: "rtsp://spa"}))

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"start unknown camera", http.MethodPost, "/api/v1/workers/nope/start", http.StatusNotFound},
		{"start disabled camera", http.MethodPost, "/api/v1/workers/spa/start", http.StatusConflict},
		{"stop idle worker", http.MethodPost, "/api/v1/workers/pool/stop", http.StatusConflict},
		{"reload idle worker", http.MethodPost, "/api/v1/workers/pool/reload", http.StatusConflict},
		{"status of idle worker", http.MethodGet, "/api/v1/workers/pool", http.StatusNotFound},
		{"start", http.MethodPost, "/api/v1/workers/pool/start", http.StatusAccepted},
		{"status", http.MethodGet, "/api/v1/workers/pool", http.StatusOK},
		{"reload", http.MethodPost, "/api/v1/workers/pool/reload", http.StatusAccepted},
		{"stop", http.MethodPost, "/api/v1/workers/pool/stop", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestWorkerListAndCleanup(t *testing.T) {
	h := newHarness(t, false)
	h.workers.running["lobby"] = true
	h.workers.dead = []string{"garage"}

	resp := h.do(t, http.MethodGet, "/api/v1/workers", nil)
	list := decode[[]workerResponse](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "lobby", list[0].CameraID)
	assert.True(t, list[0].Alive)

	resp = h.do(t, http.MethodPost, "/api/v1/workers/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string][]string{"cleaned": {"garage"}}, decode[map[string][]string](t, resp))
}

func TestEventEndpoints(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	det := pipeline.Detection{Label: pipeline.LabelFire, Confidence: 0.9, BBox: pipeline.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, FrameIndex: 42}
	ev, err := database.NewEvent("ev-1", "kitchen", det, "", "", nil)
	require.NoError(t, err)
	require.NoError(t, h.db.InsertEvent(ctx, ev))

	resp := h.do(t, http.MethodGet, "/api/v1/events?camera_id=kitchen&type=fire", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]map[string]any](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0]["id"])
	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0}, events[0]["bbox"])

	resp = h.do(t, http.MethodGet, "/api/v1/events?camera_id=lobby", nil)
	assert.Empty(t, decode[[]map[string]any](t, resp))

	for _, q := range []string{"type=smoke", "since=yesterday", "limit=-1"} {
		resp = h.do(t, http.MethodGet, "/api/v1/events?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp = h.do(t, http.MethodGet, "/api/v1/events/ev-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/v1/events/ev-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/v1/events?before="+time.Now().Add(time.Hour).UTC().Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int64{"deleted": 1}, decode[map[string]int64](t, resp))
}

func TestValidationPromptEndpoints(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.db.SaveCamera(ctx, &database.Camera{ID: "desk", Name: "Desk", StreamURL: "rtsp://desk", Enabled: true}))

	resp := h.do(t, http.MethodPut, "/api/v1/cameras/desk/prompts/smoke", map[string]string{"prompt": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/cameras/desk/prompts/cash", map[string]string{"prompt": "Is money changing hands?"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	type promptInfo struct {
		Prompt string `json:"prompt"`
		Custom bool   `json:"custom"`
	}
	resp = h.do(t, http.MethodGet, "/api/v1/cameras/desk/prompts", nil)
	prompts := decode[map[string]promptInfo](t, resp)
	assert.Equal(t, promptInfo{Prompt: "Is money changing hands?", Custom: true}, prompts["cash"])
	assert.False(t, prompts["fire"].Custom)
	assert.NotEmpty(t, prompts["fire"].Prompt)

	require.NoError(t, h.db.InsertValidationLog(ctx, &database.ValidationLog{
		ID: "log-1", CameraID: "desk", EventType: pipeline.EventCash, Accepted: true, Confidence: 0.9, Reason: "ok",
	}))
	resp = h.do(t, http.MethodGet, "/api/v1/validation/logs?camera_id=desk", nil)
	logs := decode[[]map[string]any](t, resp)
	require.Len(t, logs, 1)
	assert.Equal(t, "log-1", logs[0]["id"])
}

func TestSystemStatus(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.db.SaveCamera(ctx, &database.Camera{ID: "a", Name: "A", StreamURL: "rtsp://a", Enabled: true}))
	require.NoError(t, h.db.SetCameraStatus(ctx, "a", pipeline.CameraOnline))
	h.workers.running["a"] = true

	resp := h.do(t, http.MethodGet, "/api/v1/system/status", nil)
	st := decode[map[string]any](t, resp)
	assert.Equal(t, 1.0, st["cameras"])
	assert.Equal(t, 1.0, st["cameras_online"])
	assert.Equal(t, 1.0, st["workers_running"])
}

func TestSnapshotEndpoint(t *testing.T) {
	h := newHarness(t, false)

	resp := h.do(t, http.MethodGet, "/api/v1/cameras/lobby/snapshot.jpg", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	h.preview.PublishFrame(&pipeline.FrameData{CameraID: "lobby", Seq: 3, Data: []byte{0xff, 0xd8, 0xff, 0xd9}})
	resp = h.do(t, http.MethodGet, "/api/v1/cameras/lobby/snapshot.jpg", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Frame-Seq"))
}
