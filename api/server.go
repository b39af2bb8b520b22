// Package api serves the Ada HTTP interface: submit a question, poll its
// task, cancel it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/malbeclabs/ada/agent/pipeline"
	"github.com/malbeclabs/ada/api/metrics"
	"github.com/malbeclabs/ada/pkg/errkind"
	"github.com/malbeclabs/ada/pkg/tenant"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Logger *slog.Logger
	Tasks  *TaskManager
	Auth   *Authenticator
	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
	// Health reports readiness of the backing stores. Optional.
	Health func(ctx context.Context) error
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("api: logger is required")
	}
	if c.Tasks == nil {
		return errors.New("api: task manager is required")
	}
	if c.Auth == nil {
		return errors.New("api: authenticator is required")
	}
	return nil
}

type Server struct {
	log    *slog.Logger
	tasks  *TaskManager
	health func(ctx context.Context) error
}

// NewRouter returns the HTTP handler for the API.
func NewRouter(cfg *Config) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{log: cfg.Logger, tasks: cfg.Tasks, health: cfg.Health}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(cfg.Auth.Middleware)
		r.Post("/ada", s.submit)
		r.Get("/ada/{taskID}", s.status)
		r.Delete("/ada/{taskID}", s.cancel)
	})
	return r, nil
}

type failure struct {
	Status    string       `json:"status"`
	ErrorKind errkind.Kind `json:"error_kind"`
	Message   string       `json:"message"`
}

type submitRequest struct {
	Query             string `json:"query"`
	TenantID          string `json:"tenant_id"`
	SessionID         string `json:"session_id,omitempty"`
	Region            string `json:"region,omitempty"`
	PreferredCurrency string `json:"preferred_currency,omitempty"`
	Category          string `json:"category,omitempty"`
	Language          string `json:"language,omitempty"`
	ChatID            string `json:"chat_id,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, errkind.BadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeFailure(w, http.StatusBadRequest, errkind.BadRequest, "query is required")
		return
	}
	if err := tenant.Validate(req.TenantID); err != nil {
		writeFailure(w, http.StatusBadRequest, errkind.BadRequest, "invalid tenant_id")
		return
	}

	task, err := s.tasks.Submit(pipeline.Turn{
		Tenant:    req.TenantID,
		Text:      req.Query,
		Category:  req.Category,
		Currency:  req.PreferredCurrency,
		Language:  req.Language,
		Region:    req.Region,
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
	})
	if err != nil {
		writeFailure(w, http.StatusServiceUnavailable, errkind.Internal, "service is shutting down")
		return
	}
	if p, ok := PrincipalFromContext(r.Context()); ok {
		s.log.Debug("api: task submitted", "task_id", task.ID, "account_type", p.AccountType, "subject", p.Subject)
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: task.ID})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(chi.URLParam(r, "taskID"))
	if !ok {
		writeFailure(w, http.StatusNotFound, errkind.BadRequest, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Cancel(chi.URLParam(r, "taskID"))
	if !ok {
		writeFailure(w, http.StatusNotFound, errkind.BadRequest, "task not found")
		return
	}
	if task.Status.terminal() {
		writeJSON(w, http.StatusOK, task)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn("api: health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeFailure(w http.ResponseWriter, status int, kind errkind.Kind, msg string) {
	writeJSON(w, status, failure{Status: string(StatusFailed), ErrorKind: kind, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
