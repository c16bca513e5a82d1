package gateway

import (
	"encoding/json"
	"net/http"

	"rfq-workers/internal/common/errors"

	"github.com/go-chi/chi/v5/middleware"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps err onto its HTTP status. Client errors carry their details;
// server errors are logged and answered with the generic message only.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := errors.Normalize(err)
	status := errors.HTTPStatus(stdErr.Code)

	message := stdErr.Message
	if status < http.StatusInternalServerError && stdErr.Details != "" {
		message = stdErr.Details
	}

	fields := map[string]interface{}{
		"method":    r.Method,
		"path":      r.URL.Path,
		"status":    status,
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
		"requestId": middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields)
	} else {
		h.logger.Info("request rejected", fields)
	}

	respondJSON(w, status, errorBody{Error: errorDetail{Code: stdErr.Code, Message: message}})
}
