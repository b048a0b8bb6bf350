package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/infrastructure"
	"wzslicense/pkg/contracts/domain"
)

// LicenseIssuer derives the license key for a paid order
type LicenseIssuer interface {
	Issue(userEmail, productID, orderNo string) string
}

// PaymentNotification is a verified gateway report of a completed trade
type PaymentNotification struct {
	OrderNo         string
	Amount          decimal.Decimal
	GatewayTradeRef string
	PaymentMethod   string
}

// RejectReason explains a definitive refusal of a notification
type RejectReason string

const (
	RejectOrderNotFound  RejectReason = "order_not_found"
	RejectInvalidState   RejectReason = "invalid_state"
	RejectAmountMismatch RejectReason = "amount_mismatch"
)

// PaymentOutcome is the definitive result of applying a notification.
// Faults such as store timeouts are returned as errors instead.
type PaymentOutcome struct {
	Accepted bool
	// FirstTransition is true for exactly one accepted notification per order.
	FirstTransition bool
	Reason          RejectReason

	// Order is the order as observed; after a first transition it carries
	// the paid status and license key.
	Order *domain.Order

	// Set for RejectAmountMismatch.
	ExpectedAmount decimal.Decimal
	ReportedAmount decimal.Decimal
}

func accepted(order *domain.Order, first bool) PaymentOutcome {
	return PaymentOutcome{Accepted: true, FirstTransition: first, Order: order}
}

func rejected(order *domain.Order, reason RejectReason) PaymentOutcome {
	return PaymentOutcome{Reason: reason, Order: order}
}

// StateMachine owns the pending to paid transition of orders
type StateMachine struct {
	store  Store
	issuer LicenseIssuer
	logger *slog.Logger
	now    func() time.Time
}

// NewStateMachine creates a state machine over store
func NewStateMachine(store Store, issuer LicenseIssuer, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		store:  store,
		issuer: issuer,
		logger: infrastructure.WithComponent(logger, "order_state_machine"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyPaymentNotification applies a verified notification. Duplicate and
// concurrent notifications for one order yield at most one FirstTransition.
func (m *StateMachine) ApplyPaymentNotification(ctx context.Context, n PaymentNotification) (PaymentOutcome, error) {
	log := m.logger.With(slog.String("order_no", n.OrderNo))

	order, err := m.store.GetByOrderNo(ctx, n.OrderNo)
	if err != nil {
		if errors.Is(err, apierrors.ErrNotFound) {
			log.WarnContext(ctx, "payment notification for unknown order")
			return rejected(nil, RejectOrderNotFound), nil
		}
		return PaymentOutcome{}, fmt.Errorf("load order %s: %w", n.OrderNo, err)
	}

	switch order.Status {
	case domain.OrderStatusPaid:
		log.InfoContext(ctx, "duplicate payment notification")
		return accepted(order, false), nil
	case domain.OrderStatusPending:
	default:
		log.WarnContext(ctx, "payment notification for order in unexpected state",
			slog.String("status", string(order.Status)))
		return rejected(order, RejectInvalidState), nil
	}

	if !domain.AmountsEqual(order.Amount, n.Amount) {
		log.ErrorContext(ctx, "payment amount mismatch",
			slog.String("expected", order.Amount.StringFixed(domain.MinorUnitExponent)),
			slog.String("reported", n.Amount.String()))
		out := rejected(order, RejectAmountMismatch)
		out.ExpectedAmount = order.Amount
		out.ReportedAmount = n.Amount
		return out, nil
	}

	// The issuer is pure, so the key is computed up front and written in the
	// same conditional update as the status change.
	update := domain.PaymentUpdate{
		LicenseKey:      m.issuer.Issue(order.UserEmail, order.ProductID, order.OrderNo),
		GatewayTradeRef: n.GatewayTradeRef,
		PaymentMethod:   n.PaymentMethod,
		PaidAt:          m.now(),
	}

	ok, err := m.store.MarkPaid(ctx, order.OrderNo, update)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("mark order %s paid: %w", n.OrderNo, err)
	}
	if !ok {
		log.InfoContext(ctx, "concurrent payment notification lost the transition race")
		return accepted(order, false), nil
	}

	paid := order.Clone()
	paid.Status = domain.OrderStatusPaid
	paid.LicenseKey = update.LicenseKey
	paid.GatewayTradeRef = update.GatewayTradeRef
	paid.PaymentMethod = update.PaymentMethod
	paid.PaidAt = &update.PaidAt
	paid.UpdatedAt = update.PaidAt

	infrastructure.AddSpanEvent(ctx, "license_issued", map[string]interface{}{
		"order.no":         paid.OrderNo,
		"order.product_id": paid.ProductID,
		"license.max":      paid.MaxDevices,
	})
	log.InfoContext(ctx, "order paid, license issued",
		slog.String("product_id", paid.ProductID),
		slog.String("payment_method", paid.PaymentMethod))

	return accepted(paid, true), nil
}
