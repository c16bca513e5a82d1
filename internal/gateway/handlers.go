package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"rfq-workers/internal/common/errors"
	"rfq-workers/internal/common/validation"
	"rfq-workers/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"
)

const (
	actionDispatch = "dispatch"
	actionQuote    = "quote"

	readyTimeout = 2 * time.Second
)

type dispatchRequest struct {
	StackID string `json:"stack_id"`
}

type actionEnvelope struct {
	Action string `json:"action"`
}

type quoteResponse struct {
	Status    models.SessionStatus `json:"status"`
	SessionID string               `json:"session_id,omitempty"`
	Category  models.Category      `json:"category"`
	Payload   json.RawMessage      `json:"payload"`
	Received  int                  `json:"received"`
	Expected  int                  `json:"expected"`
}

type statusResponse struct {
	SessionID   string               `json:"session_id"`
	Status      models.SessionStatus `json:"status"`
	Expected    int                  `json:"expected"`
	Received    int                  `json:"received"`
	Outstanding []models.Category    `json:"outstanding"`
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r, validation.DispatchRequestSchema)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.dispatch(w, r, body)
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r, validation.BidSubmissionSchema)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.quote(w, r, body)
}

// handleAction routes {"action": "dispatch" | "quote", ...} to the matching operation.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r, validation.ActionEnvelopeSchema)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var env actionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.respondError(w, r, errors.NewInvalidInputError(err.Error()))
		return
	}

	switch env.Action {
	case actionDispatch:
		if err := validation.Validate(validation.DispatchRequestSchema, body); err != nil {
			h.respondError(w, r, err)
			return
		}
		h.dispatch(w, r, body)
	case actionQuote:
		if err := validation.Validate(validation.BidSubmissionSchema, body); err != nil {
			h.respondError(w, r, err)
			return
		}
		h.quote(w, r, body)
	default:
		h.respondError(w, r, errors.NewInvalidInputError("Invalid action"))
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var req dispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, r, errors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := h.service.Dispatch(r.Context(), req.StackID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request, body []byte) {
	var sub models.BidSubmission
	if err := json.Unmarshal(body, &sub); err != nil {
		h.respondError(w, r, errors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := h.service.SubmitBid(r.Context(), sub)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := quoteResponse{
		Status:   result.Report.Status,
		Category: result.Category,
		Payload:  result.Payload,
		Received: result.Report.Received,
		Expected: result.Report.Expected,
	}
	if result.Report.Status == models.StatusComplete {
		resp.SessionID = result.SessionID
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SessionStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		SessionID:   report.SessionID,
		Status:      report.Status,
		Expected:    report.Expected,
		Received:    report.Received,
		Outstanding: report.Outstanding,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	status, code := "ready", http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", map[string]interface{}{"check": name, "error": err})
			checks[name] = "unavailable"
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// readBody reads a size-capped request body and validates it against schema.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.NewInvalidInputError("request body too large")
		}
		return nil, errors.NewInvalidInputError("failed to read request body")
	}
	if err := validation.Validate(schema, body); err != nil {
		return nil, err
	}
	return body, nil
}
