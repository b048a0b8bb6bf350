// Package alert raises operator alerts for events that need a human, such
// as a payment whose amount does not match its order or a notification with
// a bad signature.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"

	"wzslicense/internal/config"
	"wzslicense/internal/infrastructure"
)

// Kind names an alert category
type Kind string

const (
	KindAmountMismatch   Kind = "amount_mismatch"
	KindInvalidSignature Kind = "invalid_signature"
	KindInvalidState     Kind = "invalid_state"
)

// Severity of an alert
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Alert is one event for operators
type Alert struct {
	Kind     Kind
	Severity Severity
	Message  string
	OrderNo  string
	Fields   map[string]string
}

// Alerter delivers alerts. Raise never fails the caller.
type Alerter interface {
	Raise(ctx context.Context, a Alert)
	Flush(timeout time.Duration) bool
}

// New returns a Sentry alerter when a DSN is configured and a log alerter
// otherwise. Both count alerts in metrics.
func New(cfg config.AlertConfig, release string, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) (Alerter, error) {
	logAlerter := NewLogAlerter(metrics, logger)
	if cfg.SentryDSN == "" {
		return logAlerter, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return NewSentryAlerter(sentry.NewHub(client, sentry.NewScope()), logAlerter), nil
}

// LogAlerter writes alerts to the error log
type LogAlerter struct {
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewLogAlerter creates a log alerter
func NewLogAlerter(metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *LogAlerter {
	return &LogAlerter{
		metrics: metrics,
		logger:  infrastructure.WithComponent(logger, "alerter"),
	}
}

// Raise logs the alert
func (l *LogAlerter) Raise(ctx context.Context, a Alert) {
	infrastructure.RecordAlert(ctx, l.metrics, string(a.Kind))

	attrs := []any{
		slog.String("alert_kind", string(a.Kind)),
		slog.String("severity", string(a.Severity)),
	}
	if a.OrderNo != "" {
		attrs = append(attrs, slog.String("order_no", a.OrderNo))
	}
	for _, k := range sortedKeys(a.Fields) {
		attrs = append(attrs, slog.String(k, a.Fields[k]))
	}

	level := slog.LevelWarn
	if a.Severity == SeverityHigh {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "ALERT: "+a.Message, attrs...)
}

// Flush is a no-op
func (l *LogAlerter) Flush(time.Duration) bool { return true }

// SentryAlerter sends alerts to Sentry and logs them locally
type SentryAlerter struct {
	hub *sentry.Hub
	log *LogAlerter
}

// NewSentryAlerter wraps hub
func NewSentryAlerter(hub *sentry.Hub, log *LogAlerter) *SentryAlerter {
	return &SentryAlerter{hub: hub, log: log}
}

// Raise captures the alert as a Sentry message
func (s *SentryAlerter) Raise(ctx context.Context, a Alert) {
	s.log.Raise(ctx, a)

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(a.Severity))
		scope.SetTag("alert_kind", string(a.Kind))
		if a.OrderNo != "" {
			scope.SetTag("order_no", a.OrderNo)
		}
		if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
			scope.SetTag("trace_id", traceID)
		}
		for k, v := range a.Fields {
			scope.SetExtra(k, v)
		}
		s.hub.CaptureMessage(a.Message)
	})
}

// Flush waits for buffered events to be sent
func (s *SentryAlerter) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func sentryLevel(sev Severity) sentry.Level {
	if sev == SeverityHigh {
		return sentry.LevelError
	}
	return sentry.LevelWarning
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Alerter = (*LogAlerter)(nil)
	_ Alerter = (*SentryAlerter)(nil)
)
