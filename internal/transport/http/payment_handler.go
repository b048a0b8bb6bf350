package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wzslicense/internal/services"
)

// maxNotifyBody caps form encoded notification bodies
const maxNotifyBody = 16 * 1024

// PaymentHandler receives gateway notifications
type PaymentHandler struct {
	service services.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(service services.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "payment")),
	}
}

// Routes returns a chi router for payment endpoints
func (h *PaymentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/notify", h.Notify)
	r.Post("/notify", h.Notify)
	return r
}

// Notify handles GET|POST /api/payment/notify. The gateway reads only the
// plain text body, so every path ends in a token.
func (h *PaymentHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("payment-handler").Start(r.Context(), "payment_handler.notify",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/payment/notify"),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("component", "payment_handler"),
		),
	)
	defer span.End()

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxNotifyBody)
	}
	params := map[string]string{}
	if err := r.ParseForm(); err != nil {
		// the query string may still be usable
		h.logger.WarnContext(ctx, "payment notification form unreadable",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	} else {
		for k, v := range r.Form {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}

	span.SetAttributes(
		attribute.String("payment.order_no", params[services.ParamOutTradeNo]),
		attribute.String("payment.trade_status", params[services.ParamTradeStatus]),
	)

	ack := h.service.HandleNotification(ctx, params)

	span.SetAttributes(attribute.String("payment.outcome", ack.Outcome))
	h.logger.InfoContext(ctx, "payment notification handled",
		slog.String("order_no", params[services.ParamOutTradeNo]),
		slog.String("outcome", ack.Outcome))

	render.PlainText(w, r, ack.Body)
}
