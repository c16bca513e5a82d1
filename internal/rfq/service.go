// Package rfq implements the two-phase request-for-quote auction: dispatching RFQs to
// vendor endpoints and collecting their bids until every dispatched category has answered.
package rfq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"rfq-workers/internal/common/contracts"
	httpclient "rfq-workers/internal/common/http"
	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/common/token"
	"rfq-workers/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Poster delivers one RFQ payload to a vendor endpoint.
type Poster interface {
	PostJSON(ctx context.Context, url string, payload interface{}) (*httpclient.Response, error)
}

// CompletionNotifier is told when a session's last outstanding bid is accepted.
type CompletionNotifier interface {
	NotifySessionComplete(ctx context.Context, event models.SessionCompletedEvent) error
}

// Notifiers fans a completion out to every notifier and joins their errors.
type Notifiers []CompletionNotifier

func (n Notifiers) NotifySessionComplete(ctx context.Context, event models.SessionCompletedEvent) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.NotifySessionComplete(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AuditRecorder keeps a trail of dispatches and accepted bids.
type AuditRecorder interface {
	RecordDispatch(ctx context.Context, stackID string, result *models.DispatchResult) error
	RecordBid(ctx context.Context, record models.CategoryRecord, status models.SessionStatus) error
}

// Config holds the dispatch tunables.
type Config struct {
	EndpointTimeout time.Duration
	MaxConcurrency  int // 0 means one goroutine per endpoint
	Action          string
	CallbackAddress string
}

const sideEffectTimeout = 5 * time.Second

type Service struct {
	store    session.Store
	lookup   contracts.Lookup
	issuer   token.Issuer
	poster   Poster
	notifier CompletionNotifier
	audit    AuditRecorder
	tracer   trace.Tracer
	config   Config
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n CompletionNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store session.Store, lookup contracts.Lookup, issuer token.Issuer, poster Poster, config Config, log logger.Logger, opts ...Option) *Service {
	if config.EndpointTimeout <= 0 {
		config.EndpointTimeout = 2 * time.Second
	}
	if config.Action == "" {
		config.Action = models.ActionRFQ
	}

	s := &Service{
		store:  store,
		lookup: lookup,
		issuer: issuer,
		poster: poster,
		tracer: otel.Tracer("rfq-workers/internal/rfq"),
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "rfq"}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the session store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// sideEffectContext detaches best-effort follow-ups from the caller's cancellation.
func sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

func payloadIsAbsent(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
