// Package api provides the HTTP server for pana.
// Commands map onto REST routes; observer events stream over SSE.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/app/session"
	"github.com/tutu-network/pana/internal/domain"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Commands is the session command boundary served over HTTP.
type Commands interface {
	Status() session.Status
	SyncModelCatalog() (int, error)
	ListModels() ([]domain.ModelInfo, error)
	DeleteModel(name string) error
	StartDownload(name string) error
	StopDownload() error
	LoadModel(name string) error
	UnloadModel() error
	StartInference(message string) error
	StopInference() error
	SyncHistory() ([]domain.Turn, error)
	ClearHistory() error
}

// Server is the pana HTTP API server.
type Server struct {
	cmds           Commands
	hub            *Hub
	log            zerolog.Logger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(cmds Commands, hub *Hub, log zerolog.Logger) *Server {
	return &Server{cmds: cmds, hub: hub, log: log.With().Str("component", "api").Logger()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// The event stream must not be cut by the request timeout.
		r.Get("/events", s.hub.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"version": Version})
			})
			r.Get("/status", s.handleStatus)

			r.Post("/models/sync", s.handleSyncModels)
			r.Get("/models", s.handleListModels)
			r.Delete("/models/{name}", s.handleDeleteModel)

			r.Post("/download", s.handleStartDownload)
			r.Delete("/download", s.handleStopDownload)

			r.Post("/model/load", s.handleLoadModel)
			r.Post("/model/unload", s.handleUnloadModel)

			r.Post("/inference", s.handleStartInference)
			r.Delete("/inference", s.handleStopInference)

			r.Get("/history", s.handleSyncHistory)
			r.Delete("/history", s.handleClearHistory)
		})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ─── Request Types ──────────────────────────────────────────────────────────

type modelRequest struct {
	Model string `json:"model"`
}

type inferenceRequest struct {
	Message string `json:"message"`
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cmds.Status())
}

func (s *Server) handleSyncModels(w http.ResponseWriter, r *http.Request) {
	n, err := s.cmds.SyncModelCatalog()
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"models": n})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.cmds.ListModels()
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	if models == nil {
		models = []domain.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.DeleteModel(chi.URLParam(r, "name")); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := s.cmds.StartDownload(req.Model); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStopDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.StopDownload(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := s.cmds.LoadModel(req.Model); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.UnloadModel(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

func (s *Server) handleStartInference(w http.ResponseWriter, r *http.Request) {
	var req inferenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.cmds.StartInference(req.Message); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStopInference(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.StopInference(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.cmds.SyncHistory()
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.cmds.ClearHistory(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps a command error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrModelResolutionFailed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoModelLoaded),
		errors.Is(err, domain.ErrInferenceBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrModelLoadFailed),
		errors.Is(err, domain.ErrInvalidCatalog),
		errors.Is(err, session.ErrEmptyMessage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLockUnavailable),
		errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("command failed")
	}
	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
