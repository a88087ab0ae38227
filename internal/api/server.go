package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/health"
	"github.com/kizashi/subsidy-radar/internal/metrics"
	"github.com/kizashi/subsidy-radar/internal/radar"
)

const defaultRequestTimeout = 10 * time.Second

// Store is the read surface behind the handlers.
type Store interface {
	ListScores(ctx context.Context, prefCode, category string, limit int) ([]radar.MunicipalityScore, error)
	GetScore(ctx context.Context, prefCode, municipality, category string) (radar.MunicipalityScore, error)
	ListBriefs(ctx context.Context, prefCode, category string) ([]radar.MunicipalityBrief, error)
	GetBrief(ctx context.Context, prefCode, municipality, category string) (radar.MunicipalityBrief, error)
	GetPriority(ctx context.Context, prefCode string) (radar.PriorityMunicipality, error)
	ListSubsidies(ctx context.Context, filter radar.SubsidyFilter) ([]radar.SubsidyItem, error)
	ListMunicipalitySubsidies(ctx context.Context, prefCode, municipality, category string) ([]radar.SubsidyItem, error)
}

// HealthReporter builds the admin health reports.
type HealthReporter interface {
	Sources(ctx context.Context) ([]health.PrefectureSources, error)
	Digest(ctx context.Context) (health.Digest, error)
}

// Config tunes the server.
type Config struct {
	APIKey         string
	AppURL         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the store.
type Server struct {
	router   chi.Router
	store    Store
	reporter HealthReporter
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, reporter HealthReporter, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	s := &Server{
		store:    store,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, cfg.RequestTimeout, `{"error":"request timed out"}`)
	})

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/municipalities", func(r chi.Router) {
			r.Get("/top", s.topMunicipalities)
			r.Get("/priority", s.priorityMunicipality)
			r.Get("/detail", s.municipalityDetail)
			r.Get("/sales-message", s.salesMessage)
		})
		r.Get("/subsidies", s.listSubsidies)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/sources/health", s.sourcesHealth)
			r.Get("/digest/health", s.digestHealth)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// fail maps store errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, radar.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// echoRequestID returns the id assigned by middleware.RequestID to the caller.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("api request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// recoverMiddleware turns handler panics into JSON 500 responses.
func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panicked", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
