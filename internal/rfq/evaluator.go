package rfq

import (
	"context"
	stderrors "errors"
	"strings"

	"rfq-workers/internal/common/errors"
	"rfq-workers/internal/common/session"
	"rfq-workers/internal/models"
)

// Evaluate derives the completion status from a session's category records. Every record is
// inspected; a session with no records is pending with nothing expected.
func Evaluate(sessionID string, records []models.CategoryRecord) *models.StatusReport {
	report := &models.StatusReport{
		SessionID:   sessionID,
		Status:      models.StatusPending,
		Expected:    len(records),
		Categories:  make([]models.Category, 0, len(records)),
		Outstanding: []models.Category{},
	}

	for _, rec := range records {
		report.Categories = append(report.Categories, rec.Category)
		if rec.HasBid() {
			report.Received++
			continue
		}
		report.Outstanding = append(report.Outstanding, rec.Category)
	}

	if report.Expected > 0 && report.Received == report.Expected {
		report.Status = models.StatusComplete
	}
	return report
}

// Status recomputes the completion status of sessionID from the store.
func (s *Service) Status(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.NewInvalidInputError("session_id is required")
	}

	records, err := s.store.ListCategories(ctx, sessionID)
	if err != nil {
		s.logger.Error("failed to list categories", map[string]interface{}{"sessionId": sessionID, "error": err})
		return nil, errors.NewInternalError("list categories", err)
	}
	return Evaluate(sessionID, records), nil
}

// SessionStatus is Status for a session that must exist; unknown sessions are SESSION_NOT_FOUND.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (*models.StatusReport, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.NewInvalidInputError("session_id is required")
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if stderrors.Is(err, session.ErrNotFound) {
			return nil, errors.NewSessionNotFoundError(sessionID)
		}
		s.logger.Error("failed to read session", map[string]interface{}{"sessionId": sessionID, "error": err})
		return nil, errors.NewInternalError("get session", err)
	}
	return s.Status(ctx, sessionID)
}
