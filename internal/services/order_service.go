package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"wzslicense/internal/config"
	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/license"
	"wzslicense/internal/orders"
	"wzslicense/internal/security"
	"wzslicense/pkg/contracts/domain"
)

// orderNoPrefix starts every generated order number
const orderNoPrefix = "WZS"

// OrderService creates orders and reports their payment status
type OrderService interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.CreateOrderResponse, error)
	GetStatus(ctx context.Context, orderNo string) (*domain.OrderStatusResponse, error)
}

// RequestSigner signs outbound gateway requests
type RequestSigner interface {
	Sign(params map[string]string) string
	SignType() security.SignType
}

type orderService struct {
	store    orders.Store
	signer   RequestSigner
	payment  config.PaymentConfig
	products map[string]domain.Product
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrderService creates an order service for the given catalog
func NewOrderService(store orders.Store, signer RequestSigner, payment config.PaymentConfig, products map[string]domain.Product, logger *slog.Logger) OrderService {
	return &orderService{
		store:    store,
		signer:   signer,
		payment:  payment,
		products: products,
		logger:   logger.With(slog.String("service", "order")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder stores a pending order and returns the signed gateway URL
func (s *orderService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.CreateOrderResponse, error) {
	product, ok := s.products[strings.TrimSpace(req.ProductID)]
	if !ok {
		return nil, apierrors.NewAppValidationError(fmt.Sprintf("unknown product %q", req.ProductID))
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, apierrors.NewAppValidationError("email is required")
	}

	now := s.now()
	order := &domain.Order{
		OrderNo:          newOrderNo(now),
		Status:           domain.OrderStatusPending,
		Amount:           product.Amount,
		ProductID:        product.ID,
		ProductName:      product.Name,
		UserEmail:        email,
		MaxDevices:       product.MaxDevices,
		ActivatedDevices: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	money := product.Amount.StringFixed(domain.MinorUnitExponent)
	s.logger.InfoContext(ctx, "order created",
		slog.String("order_no", order.OrderNo),
		slog.String("product_id", product.ID),
		slog.String("amount", money))

	return &domain.CreateOrderResponse{
		OrderNo:    order.OrderNo,
		ProductID:  product.ID,
		Amount:     money,
		MaxDevices: product.MaxDevices,
		PayURL:     s.payURL(order, money),
	}, nil
}

// payURL builds the gateway submit URL with signed parameters
func (s *orderService) payURL(order *domain.Order, money string) string {
	params := map[string]string{
		"pid":          s.payment.PID,
		"type":         s.payment.DefaultPayType,
		"out_trade_no": order.OrderNo,
		"notify_url":   s.payment.NotifyURL,
		"return_url":   s.payment.ReturnURL,
		"name":         order.ProductName,
		"money":        money,
	}
	params[security.ParamSign] = s.signer.Sign(params)
	params[security.ParamSignType] = string(s.signer.SignType())

	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	return s.payment.GatewayURL + "?" + q.Encode()
}

// GetStatus reports an order's payment state. The order number is not a
// secret, so a paid order only shows its masked key.
func (s *orderService) GetStatus(ctx context.Context, orderNo string) (*domain.OrderStatusResponse, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, apierrors.NewAppValidationError("orderNo is required")
	}

	order, err := s.store.GetByOrderNo(ctx, orderNo)
	if err != nil {
		if errors.Is(err, apierrors.ErrNotFound) {
			return nil, apierrors.NewNotFoundError("order " + orderNo)
		}
		return nil, fmt.Errorf("get order status: %w", err)
	}

	resp := &domain.OrderStatusResponse{
		OrderNo:   order.OrderNo,
		Status:    string(order.Status),
		Paid:      order.IsPaid(),
		ProductID: order.ProductID,
		Amount:    order.Amount.StringFixed(domain.MinorUnitExponent),
		CreatedAt: order.CreatedAt,
		PaidAt:    order.PaidAt,
	}
	if order.LicenseKey != "" {
		resp.MaskedLicenseKey = license.MaskLicenseKey(order.LicenseKey)
	}
	return resp, nil
}

// newOrderNo returns WZS<yyyymmddhhmmss><6 hex>
func newOrderNo(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s%s%x", orderNoPrefix, now.Format("20060102150405"), id[:3])
}
