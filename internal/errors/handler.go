package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Common error types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeInvalidState = "/errors/invalid-state"
)

// Domain-specific error types
const (
	TypeAmountMismatch     = "/errors/order/amount-mismatch"
	TypeUnauthorizedDevice = "/errors/license/unauthorized-device"
	TypeDeviceLimit        = "/errors/license/device-limit"
	TypeInvalidSignature   = "/errors/payment/invalid-signature"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("error_type", string(TypeOf(err))),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"Service Unavailable",
			"The operation timed out, please retry",
			r.URL.Path,
		).WithExtension("retryable", true)
	}
	if errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request was cancelled before it completed",
			r.URL.Path,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Problem(r.URL.Path)
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErrorToProblem(appErr, r)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

// appErrorToProblem maps the domain taxonomy onto HTTP status codes
func appErrorToProblem(appErr *AppError, r *http.Request) *ProblemDetails {
	var problem *ProblemDetails
	switch appErr.Type {
	case ErrTypeNotFound:
		problem = NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", appErr.Message, r.URL.Path)
	case ErrTypeInvalidState:
		problem = NewProblemDetails(http.StatusBadRequest, TypeInvalidState, "Invalid State", appErr.Message, r.URL.Path)
	case ErrTypeAmountMismatch:
		problem = NewProblemDetails(http.StatusConflict, TypeAmountMismatch, "Amount Mismatch",
			"The payment amount does not match the order. Please contact support.", r.URL.Path)
	case ErrTypeUnauthorized:
		problem = NewProblemDetails(http.StatusForbidden, TypeUnauthorizedDevice, "Device Not Authorized", appErr.Message, r.URL.Path)
	case ErrTypeCapacityExceeded:
		problem = NewProblemDetails(http.StatusBadRequest, TypeDeviceLimit, "Device Limit Reached", appErr.Message, r.URL.Path)
	case ErrTypeTransient:
		problem = NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown, "Service Unavailable",
			"The service is temporarily unavailable, please retry", r.URL.Path).
			WithExtension("retryable", true)
	case ErrTypeValidation:
		problem = NewProblemDetails(http.StatusBadRequest, TypeValidation, "Validation Failed", appErr.Message, r.URL.Path)
	case ErrTypeSignature:
		problem = NewProblemDetails(http.StatusBadRequest, TypeInvalidSignature, "Invalid Signature",
			"The request signature is invalid. Please contact support.", r.URL.Path)
	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
			"An unexpected error occurred while processing your request", r.URL.Path)
	}

	problem.WithExtension("error_type", string(appErr.Type))
	for k, v := range appErr.Context {
		problem.WithExtension(k, v)
	}
	return problem
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
