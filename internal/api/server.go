// Package api serves the HTTP control surface: login, cameras, workers,
// events, validation prompts, health, metrics and the live WebSockets.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"hotelcctv/internal/auth"
	"hotelcctv/internal/database"
	"hotelcctv/internal/metrics"
	"hotelcctv/internal/middleware"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/stream"
	"hotelcctv/internal/supervisor"
	"hotelcctv/internal/ws"
)

// Store is the persistence the API reads and writes
type Store interface {
	Ping(ctx context.Context) error

	SaveCamera(ctx context.Context, cam *database.Camera) error
	GetCamera(ctx context.Context, id string) (*database.Camera, error)
	ListCameras(ctx context.Context) ([]*database.Camera, error)
	DeleteCamera(ctx context.Context, id string) error
	UpdateCameraSettings(ctx context.Context, id string, settings types.JSONText) error

	GetEvent(ctx context.Context, id string) (*database.Event, error)
	ListEvents(ctx context.Context, f database.EventFilter) ([]*database.Event, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)

	SetValidationPrompt(ctx context.Context, cameraID string, eventType pipeline.EventType, prompt string) error
	ValidationPrompts(ctx context.Context, cameraID string) (map[pipeline.EventType]string, error)
	ListValidationLogs(ctx context.Context, cameraID string, limit int) ([]*database.ValidationLog, error)
}

// Workers controls the camera workers
type Workers interface {
	Start(ctx context.Context, cameraID string) error
	Stop(cameraID string, timeout time.Duration) error
	Reload(cameraID string) error
	IsRunning(cameraID string) bool
	Status(ctx context.Context, cameraID string) (*pipeline.WorkerState, error)
	StatusAll(ctx context.Context) ([]pipeline.WorkerState, error)
	CleanupDeadWorkers(ctx context.Context, timeout time.Duration) ([]string, error)
}

var (
	_ Store   = (*database.Database)(nil)
	_ Workers = (*supervisor.Supervisor)(nil)
)

// Config holds the server dependencies
type Config struct {
	Store            Store
	Workers          Workers
	Auth             *auth.Authenticator
	Hub              *ws.Hub
	Preview          *stream.MJPEGBroadcaster
	Metrics          *metrics.Metrics
	StopTimeout      time.Duration
	HeartbeatTimeout time.Duration
	Logger           *zap.Logger
}

// Server is the control API
type Server struct {
	store            Store
	workers          Workers
	auth             *auth.Authenticator
	hub              *ws.Hub
	preview          *stream.MJPEGBroadcaster
	metrics          *metrics.Metrics
	stopTimeout      time.Duration
	heartbeatTimeout time.Duration
	logger           *zap.Logger
	started          time.Time
}

// NewServer creates the API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	return &Server{
		store:            cfg.Store,
		workers:          cfg.Workers,
		auth:             cfg.Auth,
		hub:              cfg.Hub,
		preview:          cfg.Preview,
		metrics:          cfg.Metrics,
		stopTimeout:      cfg.StopTimeout,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		logger:           cfg.Logger.Named("api"),
		started:          time.Now(),
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		h := ws.NewHandler(s.hub)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(s.auth))
			r.Get("/ws/cameras/{cameraID}", h.ServeHTTP)
			r.Get("/ws/events", h.ServeHTTP)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(s.auth))

			r.Get("/auth/status", s.authStatus)
			r.Get("/system/status", s.systemStatus)

			r.Route("/cameras", func(r chi.Router) {
				r.Get("/", s.listCameras)
				r.Post("/", s.createCamera)
				r.Route("/{cameraID}", func(r chi.Router) {
					r.Get("/", s.getCamera)
					r.Put("/", s.updateCamera)
					r.Delete("/", s.deleteCamera)
					r.Get("/settings", s.getCameraSettings)
					r.Put("/settings", s.updateCameraSettings)
					r.Get("/prompts", s.listPrompts)
					r.Put("/prompts/{eventType}", s.setPrompt)
					if s.preview != nil {
						r.Get("/stream.mjpeg", s.preview.ServeStream)
						r.Get("/snapshot.jpg", s.preview.ServeSnapshot)
					}
				})
			})

			r.Route("/workers", func(r chi.Router) {
				r.Get("/", s.listWorkers)
				r.Post("/cleanup", s.cleanupWorkers)
				r.Get("/{cameraID}", s.getWorker)
				r.Post("/{cameraID}/start", s.startWorker)
				r.Post("/{cameraID}/stop", s.stopWorker)
				r.Post("/{cameraID}/reload", s.reloadWorker)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.listEvents)
				r.Delete("/", s.purgeEvents)
				r.Get("/{eventID}", s.getEvent)
			})

			r.Get("/validation/logs", s.listValidationLogs)
		})
	})
	return r
}

// logRequests logs every request once it completes
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
