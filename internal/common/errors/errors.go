// Package errors provides the standardized error taxonomy shared by the RFQ workers and gateway.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	ErrCodeStackNotFound    ErrorCode = "STACK_NOT_FOUND"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeCategoryNotFound ErrorCode = "CATEGORY_NOT_FOUND"
	ErrCodeInvalidRecord    ErrorCode = "INVALID_RECORD"

	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeAlreadyBid       ErrorCode = "ALREADY_BID"
	ErrCodeSessionCollision ErrorCode = "SESSION_COLLISION"

	ErrCodeEndpointUnreachable ErrorCode = "ENDPOINT_UNREACHABLE"
	ErrCodeEndpointTimeout     ErrorCode = "ENDPOINT_TIMEOUT"

	ErrCodeInternalFailure ErrorCode = "INTERNAL_FAILURE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a metadata key and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError reports a missing or malformed required field.
func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid or missing input", details, false)
}

// NewStackNotFoundError reports an unknown stack id.
func NewStackNotFoundError(stackID string) *StandardError {
	return newError(ErrCodeStackNotFound, "stack_id not found", fmt.Sprintf("stackId: %s", stackID), false)
}

// NewSessionNotFoundError reports an unknown session.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return newError(ErrCodeSessionNotFound, "Session not found", fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewCategoryNotFoundError reports a bid for a category that was never dispatched in the session.
func NewCategoryNotFoundError(sessionID, category string) *StandardError {
	return newError(ErrCodeCategoryNotFound, "No open RFQ for session and category",
		fmt.Sprintf("sessionId: %s, category: %s", sessionID, category), false)
}

// NewInvalidRecordError reports a contract row that configures no category at all.
func NewInvalidRecordError(stackID string) *StandardError {
	return newError(ErrCodeInvalidRecord, "Missing contract value or endpoints in contract record",
		fmt.Sprintf("stackId: %s", stackID), false)
}

// NewUnauthorizedError reports a bid token mismatch.
func NewUnauthorizedError(sessionID, category string) *StandardError {
	return newError(ErrCodeUnauthorized, "Bid token does not match",
		fmt.Sprintf("sessionId: %s, category: %s", sessionID, category), false)
}

// NewAlreadyBidError reports a second bid for a category.
func NewAlreadyBidError(sessionID, category string) *StandardError {
	return newError(ErrCodeAlreadyBid, "A bid was already accepted for this category",
		fmt.Sprintf("sessionId: %s, category: %s", sessionID, category), false)
}

// NewSessionCollisionError reports that a freshly minted session id was already claimed.
func NewSessionCollisionError(sessionID string) *StandardError {
	return newError(ErrCodeSessionCollision, "Session id already exists", fmt.Sprintf("sessionId: %s", sessionID), false)
}

// NewEndpointTimeoutError describes a vendor endpoint that did not answer within its attempt window.
func NewEndpointTimeoutError(endpoint string, err error) *StandardError {
	e := newError(ErrCodeEndpointTimeout, "Vendor endpoint timed out", fmt.Sprintf("endpoint: %s, error: %v", endpoint, err), true)
	e.cause = err
	return e
}

// NewEndpointUnreachableError describes a vendor endpoint transport failure.
func NewEndpointUnreachableError(endpoint string, err error) *StandardError {
	e := newError(ErrCodeEndpointUnreachable, "Vendor endpoint unreachable", fmt.Sprintf("endpoint: %s, error: %v", endpoint, err), true)
	e.cause = err
	return e
}

// NewInternalError wraps a store or infrastructure failure. Details stay server-side.
func NewInternalError(operation string, err error) *StandardError {
	e := newError(ErrCodeInternalFailure, "Internal failure", fmt.Sprintf("operation: %s, error: %v", operation, err), true)
	e.cause = err
	return e
}

// ==========================
// 4. Inspection Helpers
// ==========================

// AsStandardError extracts a StandardError from an error chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, INTERNAL_FAILURE for foreign errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternalFailure
}

// Normalize guarantees a StandardError, wrapping unknown errors as internal failures.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return NewInternalError("unknown", err)
}

// HTTPStatus maps an error code to the status used by the HTTP front door.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeStackNotFound, ErrCodeSessionNotFound, ErrCodeCategoryNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyBid, ErrCodeSessionCollision:
		return http.StatusConflict
	case ErrCodeEndpointTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeEndpointUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. BPMN Mapping
// ==========================

// BPMNErrorMapping maps internal codes to the error codes modelled in the BPMN diagrams.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidInput:        "RFQ_INVALID_INPUT",
	ErrCodeStackNotFound:       "RFQ_STACK_NOT_FOUND",
	ErrCodeSessionNotFound:     "RFQ_SESSION_NOT_FOUND",
	ErrCodeCategoryNotFound:    "RFQ_CATEGORY_NOT_FOUND",
	ErrCodeInvalidRecord:       "RFQ_INVALID_RECORD",
	ErrCodeUnauthorized:        "RFQ_UNAUTHORIZED",
	ErrCodeAlreadyBid:          "RFQ_ALREADY_BID",
	ErrCodeSessionCollision:    "RFQ_SESSION_COLLISION",
	ErrCodeEndpointUnreachable: "RFQ_ENDPOINT_UNREACHABLE",
	ErrCodeEndpointTimeout:     "RFQ_ENDPOINT_TIMEOUT",
	ErrCodeInternalFailure:     "RFQ_INTERNAL_FAILURE",
}

// GetRetryCount returns how many job retries an error code deserves.
// Only infrastructure faults are retried; bookkeeping violations never are.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeInternalFailure:
		return 3
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError into a BPMNError.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, ok := BPMNErrorMapping[stdErr.Code]
	if !ok {
		bpmnCode = BPMNErrorMapping[ErrCodeInternalFailure]
	}

	vars := map[string]interface{}{
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        GetRetryCount(stdErr.Code),
		ErrorVariables: vars,
	}
}

// IsRetryableErrorCode reports whether jobs failing with code should be retried.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logging and dashboards.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidInput, ErrCodeInvalidRecord:
		return "validation"
	case ErrCodeStackNotFound, ErrCodeSessionNotFound, ErrCodeCategoryNotFound:
		return "not_found"
	case ErrCodeUnauthorized:
		return "integrity"
	case ErrCodeAlreadyBid, ErrCodeSessionCollision:
		return "idempotency"
	case ErrCodeEndpointUnreachable, ErrCodeEndpointTimeout:
		return "vendor"
	default:
		return "internal"
	}
}
