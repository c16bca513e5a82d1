// Package gateway is the HTTP front door of the RFQ workers: dispatch, vendor quote
// callbacks, session status and the action-routed single entry point.
package gateway

import (
	"context"
	"net/http"
	"time"

	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/models"
	"rfq-workers/internal/rfq"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the RFQ state machine behind the routes.
type Service interface {
	Dispatch(ctx context.Context, stackID string) (*models.DispatchResult, error)
	SubmitBid(ctx context.Context, sub models.BidSubmission) (*rfq.SubmitResult, error)
	SessionStatus(ctx context.Context, sessionID string) (*models.StatusReport, error)
	Ping(ctx context.Context) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Config struct {
	MaxBodyBytes int64
}

type Handler struct {
	service Service
	config  Config
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

type Option func(*Handler)

// WithReadinessCheck adds a dependency to /ready next to the session store.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

func New(service Service, config Config, log logger.Logger, opts ...Option) *Handler {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	h := &Handler{
		service: service,
		config:  config,
		checks:  map[string]ReadinessCheck{"session_store": service.Ping},
		logger:  log.WithFields(map[string]interface{}{"component": "gateway"}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the RFQ routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rfq", func(r chi.Router) {
		r.Post("/", h.handleAction)
		r.Post("/dispatch", h.handleDispatch)
		r.Post("/quote", h.handleQuote)
		r.Get("/sessions/{sessionID}/status", h.handleStatus)
	})
}

// NewRouter wires the RFQ routes together with health, readiness and metrics endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.Debug("request served", map[string]interface{}{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"bytes":     ww.BytesWritten(),
			"duration":  time.Since(start).String(),
			"requestId": middleware.GetReqID(r.Context()),
		})
	})
}
