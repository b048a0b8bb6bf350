package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/license"
	custommw "wzslicense/internal/middleware"
	"wzslicense/internal/services"
	"wzslicense/pkg/contracts/domain"
)

var jsonOnly = custommw.ContentTypeValidator("application/json")

// LicenseHandler serves activation and device management
type LicenseHandler struct {
	service   services.LicenseService
	validator *custommw.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, validator *custommw.Validator, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:   service,
		validator: validator,
		errors:    errHandler,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(jsonOnly).Post("/activate", h.Activate)
	r.Get("/devices", h.ListDevices)
	r.With(jsonOnly).Post("/devices/deactivate", h.Deactivate)
	r.With(jsonOnly).Post("/devices/release", h.Release)
	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "activate", "/api/license/activate")
	defer span.End()

	var req domain.LicenseActivationRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, span, "request_validation", err)
		return
	}
	req.LicenseKey = license.NormalizeKey(req.LicenseKey)
	span.SetAttributes(
		attribute.String("license.key", license.MaskLicenseKey(req.LicenseKey)),
		attribute.String("device.id", req.DeviceID),
	)

	resp, err := h.service.Activate(ctx, req)
	if err != nil {
		h.fail(w, r, span, "service_error", err)
		return
	}

	span.SetAttributes(
		attribute.Bool("license.activated", resp.Success),
		attribute.String("license.reason", resp.Reason),
		attribute.Int("license.current_devices", resp.CurrentDevices),
		attribute.Int("license.max_devices", resp.MaxDevices),
	)
	h.logResult(ctx, "activate", req.LicenseKey, resp.Reason)
	h.respond(w, r, resp.Reason, resp)
}

// ListDevices handles GET /api/license/devices?licenseKey=&deviceId=
func (h *LicenseHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "list_devices", "/api/license/devices")
	defer span.End()

	q := r.URL.Query()
	req := domain.DeviceListRequest{
		LicenseKey: license.NormalizeKey(q.Get("licenseKey")),
		DeviceID:   strings.TrimSpace(q.Get("deviceId")),
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		h.fail(w, r, span, "request_validation", err)
		return
	}
	span.SetAttributes(attribute.String("license.key", license.MaskLicenseKey(req.LicenseKey)))

	resp, err := h.service.ListDevices(ctx, req)
	if err != nil {
		h.fail(w, r, span, "service_error", err)
		return
	}
	if resp.DeviceList != nil {
		span.SetAttributes(attribute.Int("license.current_devices", resp.CurrentDevices))
	}
	h.logResult(ctx, "list_devices", req.LicenseKey, resp.Reason)
	h.respond(w, r, resp.Reason, resp)
}

// Deactivate handles POST /api/license/devices/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "deactivate", "/api/license/devices/deactivate")
	defer span.End()

	var req domain.DeviceDeactivationRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, span, "request_validation", err)
		return
	}
	req.LicenseKey = license.NormalizeKey(req.LicenseKey)
	span.SetAttributes(
		attribute.String("license.key", license.MaskLicenseKey(req.LicenseKey)),
		attribute.String("device.id", req.DeviceID),
		attribute.String("device.target_id", req.TargetDeviceID),
	)

	resp, err := h.service.Deactivate(ctx, req)
	if err != nil {
		h.fail(w, r, span, "service_error", err)
		return
	}
	span.SetAttributes(attribute.Bool("device.removed", resp.Success))
	h.logResult(ctx, "deactivate", req.LicenseKey, resp.Reason)
	h.respond(w, r, resp.Reason, resp)
}

// Release handles POST /api/license/devices/release
func (h *LicenseHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "release", "/api/license/devices/release")
	defer span.End()

	var req domain.DeviceReleaseRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, span, "request_validation", err)
		return
	}
	req.LicenseKey = license.NormalizeKey(req.LicenseKey)
	span.SetAttributes(
		attribute.String("license.key", license.MaskLicenseKey(req.LicenseKey)),
		attribute.String("device.id", req.DeviceID),
	)

	resp, err := h.service.Release(ctx, req)
	if err != nil {
		h.fail(w, r, span, "service_error", err)
		return
	}
	span.SetAttributes(attribute.Bool("device.removed", resp.Success))
	h.logResult(ctx, "release", req.LicenseKey, resp.Reason)
	h.respond(w, r, resp.Reason, resp)
}

func (h *LicenseHandler) startSpan(r *http.Request, op, route string) (context.Context, trace.Span) {
	return otel.Tracer("license-handler").Start(r.Context(), "license_handler."+op,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("component", "license_handler"),
		),
	)
}

// respond writes a definitive result with the status its reason maps to
func (h *LicenseHandler) respond(w http.ResponseWriter, r *http.Request, reason string, body interface{}) {
	render.Status(r, services.ReasonStatus(reason))
	render.JSON(w, r, body)
}

func (h *LicenseHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.type", kind))
	h.errors.HandleError(w, r, err)
}

func (h *LicenseHandler) logResult(ctx context.Context, op, key, reason string) {
	if reason == "" || reason == domain.ReasonAlreadyActivated {
		h.logger.InfoContext(ctx, "license request completed",
			slog.String("operation", op),
			slog.String("license_key", license.MaskLicenseKey(key)),
			slog.String("reason", reason))
		return
	}
	h.logger.WarnContext(ctx, "license request refused",
		slog.String("operation", op),
		slog.String("license_key", license.MaskLicenseKey(key)),
		slog.String("reason", reason))
}
