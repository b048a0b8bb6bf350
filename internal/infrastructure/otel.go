package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"wzslicense/internal/config"
)

const (
	ServiceName    = config.AppName
	ServiceVersion = config.AppVersion
	MeterName      = "wzslicense"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	return NewOTelConfig(config.Default().Telemetry)
}

// NewOTelConfig maps the telemetry section onto exporter settings. Spans are
// printed to stdout only in development.
func NewOTelConfig(cfg config.TelemetryConfig) *OTelConfig {
	traceExporter := "none"
	if cfg.TracingEnabled && cfg.Environment == "development" {
		traceExporter = "stdout"
	}
	metricExporter := "none"
	if cfg.MetricsEnabled {
		metricExporter = "prometheus"
	}
	name := cfg.ServiceName
	if name == "" {
		name = ServiceName
	}

	return &OTelConfig{
		ServiceName:    name,
		ServiceVersion: ServiceVersion,
		Environment:    cfg.Environment,
		TraceExporter:  traceExporter,
		MetricExporter: metricExporter,
		EnableMetrics:  cfg.MetricsEnabled,
		EnableTracing:  cfg.TracingEnabled,
		SampleRatio:    cfg.SampleRate,
	}
}

// InitializeOTel initializes OpenTelemetry with comprehensive observability
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	ctx := context.Background()

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	// Create resource
	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
	}

	// Initialize tracing
	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	// Initialize metrics
	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	if providers.Tracer == nil {
		providers.Tracer = otel.Tracer(MeterName)
	}
	if providers.Meter == nil {
		providers.Meter = noop.NewMeterProvider().Meter(MeterName)
	}

	// Set up global propagators for trace context
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// initializeTracing sets up OpenTelemetry tracing. With the "none" exporter
// spans are still created so trace IDs reach the logs.
func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case "none":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics sets up OpenTelemetry metrics
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		// Create Prometheus exporter
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
	
		// Create Prometheus HTTP handler
		providers.PrometheusHTTP = promhttp.Handler()
	
		// Create meter provider with Prometheus reader
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
	
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

		// Set global meter provider
		otel.SetMeterProvider(mp)
	
	case "none":
		// No exporter - metrics disabled
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", cfg.MetricExporter))

	return nil
}

// CreateBusinessMetrics creates the license server metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	paymentNotifications, err := meter.Int64Counter(
		"payment_notifications_total",
		metric.WithDescription("Payment gateway notifications by outcome"),
	)
	if err != nil {
		return nil, err
	}

	licensesIssued, err := meter.Int64Counter(
		"licenses_issued_total",
		metric.WithDescription("Licenses issued on a pending to paid transition"),
	)
	if err != nil {
		return nil, err
	}

	deviceActivations, err := meter.Int64Counter(
		"device_activations_total",
		metric.WithDescription("Device activation attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	deviceDeactivations, err := meter.Int64Counter(
		"device_deactivations_total",
		metric.WithDescription("Device deactivation and release attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	notificationDispatch, err := meter.Int64Counter(
		"notification_dispatch_total",
		metric.WithDescription("License email deliveries by result"),
	)
	if err != nil {
		return nil, err
	}

	storeOperationDuration, err := meter.Float64Histogram(
		"store_operation_duration_seconds",
		metric.WithDescription("Order store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	alertsRaised, err := meter.Int64Counter(
		"alerts_raised_total",
		metric.WithDescription("Operator alerts raised by kind"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		HTTPRequestsTotal:      httpRequestsTotal,
		HTTPRequestDuration:    httpRequestDuration,
		PaymentNotifications:   paymentNotifications,
		LicensesIssued:         licensesIssued,
		DeviceActivations:      deviceActivations,
		DeviceDeactivations:    deviceDeactivations,
		NotificationDispatch:   notificationDispatch,
		StoreOperationDuration: storeOperationDuration,
		AlertsRaised:           alertsRaised,
	}, nil
}

// NoopBusinessMetrics returns metrics that record nothing
func NoopBusinessMetrics() *BusinessMetrics {
	m, _ := CreateBusinessMetrics(nil)
	return m
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Payment and license metrics
	PaymentNotifications metric.Int64Counter
	LicensesIssued       metric.Int64Counter
	DeviceActivations    metric.Int64Counter
	DeviceDeactivations  metric.Int64Counter

	NotificationDispatch   metric.Int64Counter
	StoreOperationDuration metric.Float64Histogram
	AlertsRaised           metric.Int64Counter
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts trace ID from context for logging correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span with structured attributes
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
}

// RecordPaymentNotification counts one processed gateway notification
func RecordPaymentNotification(ctx context.Context, metrics *BusinessMetrics, outcome string) {
	if metrics == nil {
		return
	}
	metrics.PaymentNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLicenseIssued counts one issued license
func RecordLicenseIssued(ctx context.Context, metrics *BusinessMetrics, productID string) {
	if metrics == nil {
		return
	}
	metrics.LicensesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
}

// RecordDeviceActivation counts one activation attempt
func RecordDeviceActivation(ctx context.Context, metrics *BusinessMetrics, result string) {
	if metrics == nil {
		return
	}
	metrics.DeviceActivations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDeviceDeactivation counts one deactivation or release attempt
func RecordDeviceDeactivation(ctx context.Context, metrics *BusinessMetrics, op, result string) {
	if metrics == nil {
		return
	}
	metrics.DeviceDeactivations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

// RecordNotificationDispatch counts one email delivery attempt
func RecordNotificationDispatch(ctx context.Context, metrics *BusinessMetrics, result string) {
	if metrics == nil {
		return
	}
	metrics.NotificationDispatch.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStoreOperation records the duration of one store call
func RecordStoreOperation(ctx context.Context, metrics *BusinessMetrics, op string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}

// RecordAlert counts one operator alert
func RecordAlert(ctx context.Context, metrics *BusinessMetrics, kind string) {
	if metrics == nil {
		return
	}
	metrics.AlertsRaised.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
