// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/sitwell/internal/adapters/repository"
	service "github.com/okian/sitwell/internal/app"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
)

const (
	defaultMaxBodyBytes = 64 << 20
	defaultListLimit    = 20
	maxListLimit        = 100
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// OpenSession starts a live session with optional settings overrides.
	OpenSession(ctx context.Context, overrides json.RawMessage) (*service.SessionHandle, error)

	// ProcessRecording replays and stores a complete recording.
	ProcessRecording(ctx context.Context, r *service.Recording) (model.SessionRecord, bool, error)

	// Read operations expose stored sessions.
	Session(ctx context.Context, id string) (model.SessionRecord, error)
	ListSessions(ctx context.Context, limit, offset int) ([]model.SessionRecord, int, error)
	DeleteSession(ctx context.Context, id string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
	streamHandler   *StreamHandler
	chartHandler    *ChartHandler
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxBodyBytes int64
	logger       logger.Logger
}

// WithMaxBodyBytes limits upload bodies and stream messages.
func WithMaxBodyBytes(n int64) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := serverOptions{maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("api")
	}

	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(deps, o.maxBodyBytes, o.logger),
		streamHandler:   NewStreamHandler(deps, o.maxBodyBytes, o.logger),
		chartHandler:    NewChartHandler(deps),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", MetricsMiddleware(s.sessionsHandler.HandleList, "sessions_list"))
		r.Get("/stream", MetricsMiddleware(s.streamHandler.HandleStream, "sessions_stream"))
		r.Post("/upload", MetricsMiddleware(s.sessionsHandler.HandleUpload, "sessions_upload"))
		r.Get("/{id}", MetricsMiddleware(s.sessionsHandler.HandleGet, "sessions_get"))
		r.Delete("/{id}", MetricsMiddleware(s.sessionsHandler.HandleDelete, "sessions_delete"))
		r.Get("/{id}/chart", MetricsMiddleware(s.chartHandler.HandleChart, "sessions_chart"))
	})
}

// NewRouter returns a chi router with the common middleware stack.
func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusOf maps domain errors to an HTTP status and error code.
func statusOf(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, engine.ErrInvalidSettings):
		return http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrTooManyFrames), errors.As(err, &maxBytes), errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, service.ErrUploadInProgress), errors.Is(err, engine.ErrSessionFinalized), errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrSessionDiscarded), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err with the status it maps to.
func fail(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeError(w, status, code, err)
}
