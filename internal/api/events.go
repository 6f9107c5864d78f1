package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hotelcctv/internal/database"
	"hotelcctv/internal/pipeline"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.EventFilter{
		CameraID: q.Get("camera_id"),
		Type:     pipeline.EventType(q.Get("type")),
	}
	if filter.Type != "" {
		switch filter.Type {
		case pipeline.EventCash, pipeline.EventViolence, pipeline.EventFire:
		default:
			writeError(w, http.StatusBadRequest, "unknown event type")
			return
		}
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}
	limit, err := parseLimit(q.Get("limit"), defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}
	if events == nil {
		events = []*database.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.internalError(w, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// purgeEvents deletes events created before the "before" query parameter
func (s *Server) purgeEvents(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("before")
	before, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "before must be RFC3339")
		return
	}
	n, err := s.store.DeleteEventsBefore(r.Context(), before)
	if err != nil {
		s.internalError(w, "delete events", err)
		return
	}
	s.logger.Info("Purged events", zap.Time("before", before), zap.Int64("count", n))
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) listValidationLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.store.ListValidationLogs(r.Context(), r.URL.Query().Get("camera_id"), limit)
	if err != nil {
		s.internalError(w, "list validation logs", err)
		return
	}
	if logs == nil {
		logs = []*database.ValidationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func parseLimit(v string, def, ceiling int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, ceiling), nil
}
