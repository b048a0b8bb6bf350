package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// APIError is a transport level refusal raised before a request reaches a
// service: bad bodies, content types, rate limits, disabled endpoints.
// Domain outcomes use reason codes or AppError instead.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError carrying extra detail for the client
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

// Error codes shared by middleware and handlers
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeMissingContentType = "MISSING_CONTENT_TYPE"
	CodeUnsupportedMedia   = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeMetricsDisabled    = "METRICS_DISABLED"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	ErrInvalidRequest     = New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")
	ErrMissingContentType = New(http.StatusBadRequest, CodeMissingContentType, "Content-Type header is required")
	ErrRateLimitExceeded  = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
	ErrMetricsDisabled    = New(http.StatusNotFound, CodeMetricsDisabled, "Metrics are disabled")
	ErrInternal           = New(http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
)

// InvalidRequestWithError reports an undecodable body
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format", err.Error())
}

// PayloadTooLarge reports a body over maxBytes
func PayloadTooLarge(maxBytes int64) *APIError {
	return NewWithDetails(http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
		"Request body exceeds maximum allowed size", map[string]interface{}{"max_size": maxBytes})
}

// UnsupportedMediaType reports a content type outside allowed
func UnsupportedMediaType(contentType string, allowed []string) *APIError {
	return NewWithDetails(http.StatusUnsupportedMediaType, CodeUnsupportedMedia,
		fmt.Sprintf("Content type %q is not accepted", contentType),
		map[string]interface{}{"content_type": contentType, "allowed": allowed})
}

// ValidationError is one failed field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists every failed field of a request
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// NewValidationErrors reports failed fields
func NewValidationErrors(errors []ValidationError) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidationFailed, "Request validation failed",
		ValidationErrors{Errors: errors})
}

// Problem renders the error as RFC 7807 problem details for instance
func (e *APIError) Problem(instance string) *ProblemDetails {
	problemType := TypeInternal
	switch e.ErrorCode {
	case CodeValidationFailed, CodeInvalidRequest, CodePayloadTooLarge,
		CodeMissingContentType, CodeUnsupportedMedia:
		problemType = TypeValidation
	case CodeRateLimitExceeded:
		problemType = TypeRateLimit
	case CodeMetricsDisabled:
		problemType = TypeNotFound
	}

	problem := NewProblemDetails(e.StatusCode, problemType, http.StatusText(e.StatusCode), e.Message, instance).
		WithExtension("error_code", e.ErrorCode)
	if e.Details != nil {
		problem.WithExtension("details", e.Details)
	}
	return problem
}

// WriteError writes err as a problem document without going through an
// ErrorHandler; middleware uses it where no handler is wired.
func WriteError(w http.ResponseWriter, r *http.Request, err *APIError) {
	problem := err.Problem(r.URL.Path).
		WithExtension("trace_id", middleware.GetReqID(r.Context()))
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(problem)
}
