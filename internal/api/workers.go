package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hotelcctv/internal/database"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/supervisor"
)

type workerResponse struct {
	pipeline.WorkerState
	Alive         bool    `json:"alive"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) workerResponse(st pipeline.WorkerState, now time.Time) workerResponse {
	return workerResponse{
		WorkerState:   st,
		Alive:         st.IsAlive(now, s.heartbeatTimeout),
		UptimeSeconds: st.Uptime(now).Seconds(),
	}
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	states, err := s.workers.StatusAll(r.Context())
	if err != nil {
		s.internalError(w, "list workers", err)
		return
	}
	now := time.Now()
	out := make([]workerResponse, len(states))
	for i, st := range states {
		out[i] = s.workerResponse(st, now)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWorker(w http.ResponseWriter, r *http.Request) {
	st, err := s.workers.Status(r.Context(), chi.URLParam(r, "cameraID"))
	if err != nil {
		if errors.Is(err, database.ErrWorkerNotFound) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		s.internalError(w, "get worker", err)
		return
	}
	writeJSON(w, http.StatusOK, s.workerResponse(*st, time.Now()))
}

func (s *Server) startWorker(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	if !cam.Enabled {
		writeError(w, http.StatusConflict, "camera is disabled")
		return
	}
	if err := s.workers.Start(r.Context(), cam.ID); err != nil {
		s.internalError(w, "start worker", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"camera_id": cam.ID, "status": "starting"})
}

func (s *Server) stopWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraID")
	err := s.workers.Stop(id, s.stopTimeout)
	switch {
	case errors.Is(err, supervisor.ErrNotRunning):
		writeError(w, http.StatusConflict, "worker not running")
		return
	case err != nil:
		s.internalError(w, "stop worker", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"camera_id": id, "status": string(pipeline.StatusStopped)})
}

func (s *Server) reloadWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraID")
	if err := s.workers.Reload(id); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			writeError(w, http.StatusConflict, "worker not running")
			return
		}
		s.internalError(w, "reload worker", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"camera_id": id, "command": "reloadSettings"})
}

func (s *Server) cleanupWorkers(w http.ResponseWriter, r *http.Request) {
	dead, err := s.workers.CleanupDeadWorkers(r.Context(), s.heartbeatTimeout)
	if err != nil {
		s.internalError(w, "clean up workers", err)
		return
	}
	if dead == nil {
		dead = []string{}
	}
	s.logger.Info("Dead worker cleanup", zap.Int("count", len(dead)))
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": dead})
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	cams, err := s.store.ListCameras(r.Context())
	if err != nil {
		s.internalError(w, "list cameras", err)
		return
	}
	states, err := s.workers.StatusAll(r.Context())
	if err != nil {
		s.internalError(w, "list workers", err)
		return
	}

	online, running := 0, 0
	for _, cam := range cams {
		if cam.Status == pipeline.CameraOnline {
			online++
		}
	}
	for _, st := range states {
		if st.Running {
			running++
		}
	}
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras":         len(cams),
		"cameras_online":  online,
		"workers_running": running,
		"ws_clients":      clients,
		"uptime_seconds":  time.Since(s.started).Seconds(),
	})
}
