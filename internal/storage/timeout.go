package storage

import (
	"context"
	"errors"
	"time"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/infrastructure"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

// timeoutStore bounds each call of the wrapped store and reports an expired
// bound as a transient error.
type timeoutStore struct {
	next    orders.Store
	timeout time.Duration
	metrics *infrastructure.BusinessMetrics
}

// WithTimeout wraps next. A non-positive timeout leaves calls unbounded.
func WithTimeout(next orders.Store, timeout time.Duration, metrics *infrastructure.BusinessMetrics) orders.Store {
	return &timeoutStore{next: next, timeout: timeout, metrics: metrics}
}

func (s *timeoutStore) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	infrastructure.RecordStoreOperation(ctx, s.metrics, op, time.Since(start), err)

	if err == nil || apierrors.TypeOf(err) != apierrors.ErrTypeInternal {
		// already classified by the adapter
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierrors.NewTransientError("store "+op+" timed out", err)
	}
	return err
}

func (s *timeoutStore) Create(ctx context.Context, order *domain.Order) error {
	return s.call(ctx, "create", func(ctx context.Context) error {
		return s.next.Create(ctx, order)
	})
}

func (s *timeoutStore) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	var order *domain.Order
	err := s.call(ctx, "get_by_order_no", func(ctx context.Context) error {
		var err error
		order, err = s.next.GetByOrderNo(ctx, orderNo)
		return err
	})
	return order, err
}

func (s *timeoutStore) GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error) {
	var order *domain.Order
	err := s.call(ctx, "get_by_license_key", func(ctx context.Context) error {
		var err error
		order, err = s.next.GetByLicenseKey(ctx, licenseKey)
		return err
	})
	return order, err
}

func (s *timeoutStore) MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error) {
	var ok bool
	err := s.call(ctx, "mark_paid", func(ctx context.Context) error {
		var err error
		ok, err = s.next.MarkPaid(ctx, orderNo, update)
		return err
	})
	return ok, err
}

func (s *timeoutStore) AddDevice(ctx context.Context, orderNo, deviceID string) (orders.DeviceSetResult, error) {
	var res orders.DeviceSetResult
	err := s.call(ctx, "add_device", func(ctx context.Context) error {
		var err error
		res, err = s.next.AddDevice(ctx, orderNo, deviceID)
		return err
	})
	return res, err
}

func (s *timeoutStore) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	var res orders.DeviceSetResult
	err := s.call(ctx, "remove_device", func(ctx context.Context) error {
		var err error
		res, err = s.next.RemoveDevice(ctx, orderNo, deviceID, requiredMember)
		return err
	})
	return res, err
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.next.Ping)
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}
