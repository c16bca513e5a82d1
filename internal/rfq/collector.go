package rfq

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"rfq-workers/internal/common/errors"
	"rfq-workers/internal/common/metrics"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/common/token"
	"rfq-workers/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const statusReadAttempts = 2

// SubmitResult is an accepted bid together with the session status it produced.
type SubmitResult struct {
	SessionID string
	Category  models.Category
	Payload   json.RawMessage
	Report    *models.StatusReport
}

// SubmitBid validates a vendor bid against its category placeholder and records it once.
func (s *Service) SubmitBid(ctx context.Context, sub models.BidSubmission) (result *SubmitResult, err error) {
	sessionID := strings.TrimSpace(sub.SessionID)

	ctx, span := s.tracer.Start(ctx, "rfq.submit_bid", trace.WithAttributes(
		attribute.String("rfq.session_id", sessionID),
		attribute.String("rfq.category", sub.Category),
	))
	label := "unknown"
	defer func() {
		finishSpan(span, err)
		outcome := "accepted"
		if err != nil {
			outcome = string(errors.CodeOf(err))
		}
		metrics.BidsTotal.WithLabelValues(label, outcome).Inc()
	}()

	switch {
	case sessionID == "":
		return nil, errors.NewInvalidInputError("session_id is required")
	case sub.Token == "":
		return nil, errors.NewInvalidInputError("token is required")
	case strings.TrimSpace(sub.Category) == "":
		return nil, errors.NewInvalidInputError("category is required")
	case payloadIsAbsent(sub.Payload):
		return nil, errors.NewInvalidInputError("payload is required")
	case !json.Valid(sub.Payload):
		return nil, errors.NewInvalidInputError("payload is not valid JSON")
	}

	category, err := models.ParseCategory(sub.Category)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	label = string(category)

	record, err := s.store.GetCategory(ctx, sessionID, category)
	if stderrors.Is(err, session.ErrNotFound) {
		return nil, errors.NewCategoryNotFoundError(sessionID, string(category))
	}
	if err != nil {
		s.logger.Error("failed to read category record", map[string]interface{}{
			"sessionId": sessionID,
			"category":  label,
			"error":     err,
		})
		return nil, errors.NewInternalError("get category", err)
	}

	if !token.Equal(sub.Token, record.BidToken) {
		s.logger.Warn("bid token mismatch", map[string]interface{}{
			"sessionId": sessionID,
			"category":  label,
		})
		return nil, errors.NewUnauthorizedError(sessionID, string(category))
	}

	if record.HasBid() {
		return nil, errors.NewAlreadyBidError(sessionID, string(category))
	}

	switch err := s.store.SetBid(ctx, sessionID, category, sub.Payload); {
	case stderrors.Is(err, session.ErrAlreadyBid):
		return nil, errors.NewAlreadyBidError(sessionID, string(category))
	case stderrors.Is(err, session.ErrNotFound):
		return nil, errors.NewCategoryNotFoundError(sessionID, string(category))
	case err != nil:
		s.logger.Error("failed to record bid", map[string]interface{}{
			"sessionId": sessionID,
			"category":  label,
			"error":     err,
		})
		return nil, errors.NewInternalError("set bid", err)
	}

	// The bid is committed from here on; status failures must not turn it into an error.
	report := s.statusAfterBid(ctx, sessionID, label)

	s.logger.Info("bid accepted", map[string]interface{}{
		"sessionId": sessionID,
		"category":  label,
		"status":    string(report.Status),
		"received":  report.Received,
		"expected":  report.Expected,
	})

	record.Payload = sub.Payload
	s.afterBid(ctx, *record, report)

	return &SubmitResult{
		SessionID: sessionID,
		Category:  category,
		Payload:   sub.Payload,
		Report:    report,
	}, nil
}

// statusAfterBid evaluates the session once the bid is stored, retrying the read once.
// When the store stays unreadable the accepted bid is answered with an empty pending report.
func (s *Service) statusAfterBid(ctx context.Context, sessionID, label string) *models.StatusReport {
	var err error
	for attempt := 1; attempt <= statusReadAttempts; attempt++ {
		var report *models.StatusReport
		if report, err = s.Status(ctx, sessionID); err == nil {
			return report
		}
	}

	s.logger.Error("failed to evaluate session after accepted bid", map[string]interface{}{
		"sessionId": sessionID,
		"category":  label,
		"error":     err,
	})
	return &models.StatusReport{
		SessionID:   sessionID,
		Status:      models.StatusPending,
		Categories:  []models.Category{},
		Outstanding: []models.Category{},
	}
}

// afterBid runs the best-effort follow-ups of an accepted bid. Concurrent final bids may
// each observe completion, so the notification is delivered at least once.
func (s *Service) afterBid(ctx context.Context, record models.CategoryRecord, report *models.StatusReport) {
	ctx, cancel := sideEffectContext(ctx)
	defer cancel()

	if report.Status == models.StatusComplete {
		metrics.SessionsCompleted.Inc()
		if s.notifier != nil {
			event := models.SessionCompletedEvent{
				Event:       models.EventSessionComplete,
				SessionID:   report.SessionID,
				CompletedAt: s.now().UTC(),
				Categories:  report.Categories,
			}
			if err := s.notifier.NotifySessionComplete(ctx, event); err != nil {
				s.logger.Warn("failed to publish session completion", map[string]interface{}{
					"sessionId": report.SessionID,
					"error":     err,
				})
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.RecordBid(ctx, record, report.Status); err != nil {
			s.logger.Warn("failed to audit bid", map[string]interface{}{
				"sessionId": record.SessionID,
				"category":  string(record.Category),
				"error":     err,
			})
		}
	}
}
