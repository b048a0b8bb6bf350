package http

import (
	"net/http"

	apierrors "wzslicense/internal/errors"
)

// MetricsHandler serves the Prometheus scrape endpoint
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler wraps the exporter's handler. exporter may be nil when
// metrics are disabled.
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		apierrors.WriteError(w, r, apierrors.ErrMetricsDisabled)
		return
	}
	h.exporter.ServeHTTP(w, r)
}
