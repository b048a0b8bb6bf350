package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "wzslicense/internal/errors"
	custommw "wzslicense/internal/middleware"
	"wzslicense/internal/services"
	"wzslicense/pkg/contracts/domain"
)

// OrderHandler creates orders and reports their status
type OrderHandler struct {
	service   services.OrderService
	validator *custommw.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(service services.OrderService, validator *custommw.Validator, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service:   service,
		validator: validator,
		errors:    errHandler,
		logger:    logger.With(slog.String("handler", "order")),
	}
}

// Routes returns a chi router for order endpoints
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(jsonOnly).Post("/", h.Create)
	r.Get("/{orderNo}/status", h.Status)
	return r
}

// Create handles POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("order-handler").Start(r.Context(), "order_handler.create",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/orders"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		),
	)
	defer span.End()

	var req domain.CreateOrderRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("order.product_id", req.ProductID))

	resp, err := h.service.CreateOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("order.no", resp.OrderNo))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// Status handles GET /api/orders/{orderNo}/status
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	orderNo := chi.URLParam(r, "orderNo")
	ctx, span := otel.Tracer("order-handler").Start(r.Context(), "order_handler.status",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/orders/{orderNo}/status"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("order.no", orderNo),
		),
	)
	defer span.End()

	resp, err := h.service.GetStatus(ctx, orderNo)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("order.status", resp.Status))
	render.JSON(w, r, resp)
}
