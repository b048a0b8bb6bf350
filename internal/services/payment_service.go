package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wzslicense/internal/alert"
	"wzslicense/internal/config"
	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/infrastructure"
	"wzslicense/internal/license"
	"wzslicense/internal/notify"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

// Gateway notification parameters
const (
	ParamOutTradeNo  = "out_trade_no"
	ParamTradeNo     = "trade_no"
	ParamTradeStatus = "trade_status"
	ParamMoney       = "money"
	ParamType        = "type"
)

// Notification outcomes, used for metrics and logs
const (
	OutcomePaid             = "paid"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeMalformed        = "malformed"
	OutcomeOrderNotFound    = "order_not_found"
	OutcomeInvalidState     = "invalid_state"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeTransient        = "transient"
	OutcomeError            = "error"
)

// SignatureVerifier checks gateway signatures
type SignatureVerifier interface {
	Verify(params map[string]string) bool
}

// PaymentStateMachine applies verified notifications to orders
type PaymentStateMachine interface {
	ApplyPaymentNotification(ctx context.Context, n orders.PaymentNotification) (orders.PaymentOutcome, error)
}

// EmailQueue accepts license emails for later delivery
type EmailQueue interface {
	Enqueue(ctx context.Context, email notify.LicenseEmail) error
}

// NotificationAck is the reply owed to the gateway
type NotificationAck struct {
	// Body is the plain text reply: the success token stops retries.
	Body    string
	Outcome string
}

// PaymentService handles inbound gateway notifications
type PaymentService interface {
	HandleNotification(ctx context.Context, params map[string]string) NotificationAck
}

// PaymentServiceConfig holds the gateway reply policy
type PaymentServiceConfig struct {
	SuccessToken         string
	FailureToken         string
	SuccessTradeStatus   string
	AmountMismatchPolicy config.AmountMismatchPolicy
	// ProcessTimeout bounds the work done for one notification. It runs on a
	// context detached from the gateway connection.
	ProcessTimeout time.Duration
}

// PaymentServiceConfigFrom builds the service config from application config
func PaymentServiceConfigFrom(cfg *config.Config) PaymentServiceConfig {
	return PaymentServiceConfig{
		SuccessToken:         cfg.Payment.SuccessToken,
		FailureToken:         cfg.Payment.FailureToken,
		SuccessTradeStatus:   cfg.Payment.SuccessTradeStatus,
		AmountMismatchPolicy: cfg.Payment.AmountMismatchPolicy,
		// a lookup and a conditional write, each bounded by the store timeout
		ProcessTimeout: 2*cfg.Store.OperationTimeout + time.Second,
	}
}

type paymentService struct {
	cfg      PaymentServiceConfig
	verifier SignatureVerifier
	machine  PaymentStateMachine
	emails   EmailQueue
	alerter  alert.Alerter
	products map[string]domain.Product
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger
}

// NewPaymentService wires the notification pipeline
func NewPaymentService(
	cfg PaymentServiceConfig,
	verifier SignatureVerifier,
	machine PaymentStateMachine,
	emails EmailQueue,
	alerter alert.Alerter,
	products map[string]domain.Product,
	metrics *infrastructure.BusinessMetrics,
	logger *slog.Logger,
) PaymentService {
	return &paymentService{
		cfg:      cfg,
		verifier: verifier,
		machine:  machine,
		emails:   emails,
		alerter:  alerter,
		products: products,
		metrics:  metrics,
		logger:   logger.With(slog.String("service", "payment")),
	}
}

// HandleNotification verifies, applies and acknowledges one notification
func (s *paymentService) HandleNotification(ctx context.Context, params map[string]string) NotificationAck {
	orderNo := strings.TrimSpace(params[ParamOutTradeNo])
	log := s.logger.With(
		slog.String("order_no", orderNo),
		slog.String("trade_no", params[ParamTradeNo]))

	if !s.verifier.Verify(params) {
		log.WarnContext(ctx, "payment notification rejected: invalid signature")
		s.alerter.Raise(ctx, alert.Alert{
			Kind:     alert.KindInvalidSignature,
			Severity: alert.SeverityWarning,
			Message:  "payment notification with invalid signature",
			OrderNo:  orderNo,
		})
		return s.ack(ctx, false, OutcomeInvalidSignature)
	}

	if status := params[ParamTradeStatus]; status != s.cfg.SuccessTradeStatus {
		log.InfoContext(ctx, "payment notification without completed trade ignored",
			slog.String("trade_status", status))
		return s.ack(ctx, true, OutcomeIgnored)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(params[ParamMoney]))
	if orderNo == "" || err != nil {
		log.ErrorContext(ctx, "signed payment notification is malformed",
			slog.String("money", params[ParamMoney]))
		return s.ack(ctx, false, OutcomeMalformed)
	}

	// The gateway may hang up at any point; the transition must still finish.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProcessTimeout)
	defer cancel()

	out, err := s.machine.ApplyPaymentNotification(pctx, orders.PaymentNotification{
		OrderNo:         orderNo,
		Amount:          amount,
		GatewayTradeRef: params[ParamTradeNo],
		PaymentMethod:   params[ParamType],
	})
	if err != nil {
		if apierrors.IsTransient(err) {
			log.WarnContext(ctx, "payment notification deferred, gateway will retry",
				slog.String("error", err.Error()))
			return s.ack(ctx, false, OutcomeTransient)
		}
		log.ErrorContext(ctx, "payment notification failed", slog.String("error", err.Error()))
		return s.ack(ctx, false, OutcomeError)
	}

	if out.Accepted {
		if !out.FirstTransition {
			return s.ack(ctx, true, OutcomeDuplicate)
		}
		infrastructure.RecordLicenseIssued(ctx, s.metrics, out.Order.ProductID)
		s.queueLicenseEmail(pctx, log, out.Order)
		return s.ack(ctx, true, OutcomePaid)
	}

	switch out.Reason {
	case orders.RejectOrderNotFound:
		// retrying cannot create the order
		return s.ack(ctx, true, OutcomeOrderNotFound)
	case orders.RejectInvalidState:
		s.alerter.Raise(ctx, alert.Alert{
			Kind:     alert.KindInvalidState,
			Severity: alert.SeverityWarning,
			Message:  "payment notification for order that cannot be paid",
			OrderNo:  orderNo,
			Fields:   map[string]string{"status": string(out.Order.Status)},
		})
		return s.ack(ctx, true, OutcomeInvalidState)
	case orders.RejectAmountMismatch:
		s.alerter.Raise(ctx, alert.Alert{
			Kind:     alert.KindAmountMismatch,
			Severity: alert.SeverityHigh,
			Message:  "payment amount does not match order",
			OrderNo:  orderNo,
			Fields: map[string]string{
				"expected":     out.ExpectedAmount.StringFixed(domain.MinorUnitExponent),
				"reported":     out.ReportedAmount.String(),
				"trade_no":     params[ParamTradeNo],
				"policy":       string(s.cfg.AmountMismatchPolicy),
				"product_id":   out.Order.ProductID,
				"payment_type": params[ParamType],
			},
		})
		return s.ack(ctx, s.cfg.AmountMismatchPolicy == config.MismatchAccept, OutcomeAmountMismatch)
	default:
		log.ErrorContext(ctx, "unknown payment rejection", slog.String("reason", string(out.Reason)))
		return s.ack(ctx, false, OutcomeError)
	}
}

func (s *paymentService) queueLicenseEmail(ctx context.Context, log *slog.Logger, order *domain.Order) {
	productName := order.ProductName
	if p, ok := s.products[order.ProductID]; ok && productName == "" {
		productName = p.Name
	}
	err := s.emails.Enqueue(ctx, notify.LicenseEmail{
		OrderNo:     order.OrderNo,
		To:          order.UserEmail,
		ProductID:   order.ProductID,
		ProductName: productName,
		LicenseKey:  order.LicenseKey,
		MaxDevices:  order.MaxDevices,
	})
	if err != nil {
		// the order stays paid; support can resend from the stored key
		log.ErrorContext(ctx, "license email not queued",
			slog.String("license", license.MaskLicenseKey(order.LicenseKey)),
			slog.String("error", err.Error()))
	}
}

func (s *paymentService) ack(ctx context.Context, success bool, outcome string) NotificationAck {
	infrastructure.RecordPaymentNotification(ctx, s.metrics, outcome)
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"payment.outcome": outcome,
		"payment.acked":   success,
	})
	body := s.cfg.FailureToken
	if success {
		body = s.cfg.SuccessToken
	}
	return NotificationAck{Body: body, Outcome: outcome}
}
