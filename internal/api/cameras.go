package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"hotelcctv/internal/config"
	"hotelcctv/internal/database"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/supervisor"
	"hotelcctv/internal/validation"
)

type cameraRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	StreamURL string          `json:"stream_url"`
	Enabled   *bool           `json:"enabled"`
	Settings  json.RawMessage `json:"settings"`
}

type cameraResponse struct {
	*database.Camera
	WorkerRunning bool `json:"worker_running"`
}

func (s *Server) cameraResponse(cam *database.Camera) cameraResponse {
	return cameraResponse{Camera: cam, WorkerRunning: s.workers.IsRunning(cam.ID)}
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.store.ListCameras(r.Context())
	if err != nil {
		s.internalError(w, "list cameras", err)
		return
	}
	out := make([]cameraResponse, len(cams))
	for i, cam := range cams {
		out[i] = s.cameraResponse(cam)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.cameraResponse(cam))
}

func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.StreamURL == "" {
		writeError(w, http.StatusBadRequest, "name and stream_url are required")
		return
	}
	settings, err := parseSettings(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, err := s.store.GetCamera(r.Context(), req.ID); err == nil {
		writeError(w, http.StatusConflict, "camera already exists")
		return
	}

	cam := &database.Camera{
		ID:        req.ID,
		Name:      req.Name,
		StreamURL: req.StreamURL,
		Enabled:   req.Enabled == nil || *req.Enabled,
		Settings:  settings,
	}
	if err := s.store.SaveCamera(r.Context(), cam); err != nil {
		s.internalError(w, "save camera", err)
		return
	}
	s.logger.Info("Camera created", zap.String("camera_id", cam.ID), zap.String("name", cam.Name))
	writeJSON(w, http.StatusCreated, s.cameraResponse(cam))
}

func (s *Server) updateCamera(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	var req cameraRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		cam.Name = name
	}
	if req.StreamURL != "" {
		cam.StreamURL = req.StreamURL
	}
	if req.Enabled != nil {
		cam.Enabled = *req.Enabled
	}
	if len(req.Settings) > 0 {
		settings, err := parseSettings(req.Settings)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cam.Settings = settings
	}
	if err := s.store.SaveCamera(r.Context(), cam); err != nil {
		s.internalError(w, "save camera", err)
		return
	}
	s.reloadIfRunning(cam.ID)
	writeJSON(w, http.StatusOK, s.cameraResponse(cam))
}

func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraID")
	if err := s.workers.Stop(id, s.stopTimeout); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		s.internalError(w, "stop worker", err)
		return
	}
	if err := s.store.DeleteCamera(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrCameraNotFound) {
			writeError(w, http.StatusNotFound, "camera not found")
			return
		}
		s.internalError(w, "delete camera", err)
		return
	}
	if s.preview != nil {
		s.preview.Forget(id)
	}
	s.logger.Info("Camera deleted", zap.String("camera_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCameraSettings(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	settings, err := config.ParseCameraSettings(cam.Settings)
	if err != nil {
		s.internalError(w, "parse stored settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// updateCameraSettings replaces the camera overrides and tells a running
// worker to reload them.
func (s *Server) updateCameraSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraID")
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings, err := parseSettings(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateCameraSettings(r.Context(), id, settings); err != nil {
		if errors.Is(err, database.ErrCameraNotFound) {
			writeError(w, http.StatusNotFound, "camera not found")
			return
		}
		s.internalError(w, "update settings", err)
		return
	}
	reloaded := s.reloadIfRunning(id)
	writeJSON(w, http.StatusOK, map[string]any{"camera_id": id, "reloaded": reloaded})
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	custom, err := s.store.ValidationPrompts(r.Context(), cam.ID)
	if err != nil {
		s.internalError(w, "list prompts", err)
		return
	}

	type promptInfo struct {
		Prompt string `json:"prompt"`
		Custom bool   `json:"custom"`
	}
	out := make(map[pipeline.EventType]promptInfo, len(validation.DefaultPrompts))
	for t, p := range validation.DefaultPrompts {
		out[t] = promptInfo{Prompt: p}
	}
	for t, p := range custom {
		out[t] = promptInfo{Prompt: p, Custom: true}
	}
	writeJSON(w, http.StatusOK, out)
}

// setPrompt stores a custom validation prompt. An empty prompt restores the
// default.
func (s *Server) setPrompt(w http.ResponseWriter, r *http.Request) {
	cam, ok := s.loadCamera(w, r)
	if !ok {
		return
	}
	eventType := pipeline.EventType(chi.URLParam(r, "eventType"))
	if _, known := validation.DefaultPrompts[eventType]; !known {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SetValidationPrompt(r.Context(), cam.ID, eventType, strings.TrimSpace(req.Prompt)); err != nil {
		s.internalError(w, "save prompt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadCamera(w http.ResponseWriter, r *http.Request) (*database.Camera, bool) {
	cam, err := s.store.GetCamera(r.Context(), chi.URLParam(r, "cameraID"))
	if err != nil {
		if errors.Is(err, database.ErrCameraNotFound) {
			writeError(w, http.StatusNotFound, "camera not found")
		} else {
			s.internalError(w, "get camera", err)
		}
		return nil, false
	}
	return cam, true
}

func (s *Server) reloadIfRunning(cameraID string) bool {
	if !s.workers.IsRunning(cameraID) {
		return false
	}
	if err := s.workers.Reload(cameraID); err != nil {
		s.logger.Warn("Failed to reload worker", zap.String("camera_id", cameraID), zap.Error(err))
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// parseSettings validates a settings document. Empty input becomes "{}".
func parseSettings(raw json.RawMessage) (types.JSONText, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return types.JSONText("{}"), nil
	}
	if _, err := config.ParseCameraSettings(raw); err != nil {
		return nil, err
	}
	return types.JSONText(raw), nil
}
