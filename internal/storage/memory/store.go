// Package memory provides an in-process order store. Its mutex gives the same
// conditional write guarantees as the SQL stores within a single process, so
// it backs tests and single-instance development runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

// Store keeps orders in a map guarded by a mutex
type Store struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	byLicense map[string]string
	now       func() time.Time
}

var _ orders.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		orders:    make(map[string]*domain.Order),
		byLicense: make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new order
func (s *Store) Create(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderNo]; exists {
		return apierrors.NewInvalidStateError(fmt.Sprintf("order %s already exists", order.OrderNo))
	}
	stored := order.Clone()
	if stored.ActivatedDevices == nil {
		stored.ActivatedDevices = []string{}
	}
	s.orders[order.OrderNo] = stored
	if stored.LicenseKey != "" {
		s.byLicense[stored.LicenseKey] = stored.OrderNo
	}
	return nil
}

// GetByOrderNo returns a copy of the order
func (s *Store) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return nil, apierrors.NewNotFoundError("order " + orderNo)
	}
	return o.Clone(), nil
}

// GetByLicenseKey returns a copy of the order holding licenseKey
func (s *Store) GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	orderNo, ok := s.byLicense[licenseKey]
	if !ok {
		return nil, apierrors.NewNotFoundError("license")
	}
	return s.orders[orderNo].Clone(), nil
}

// MarkPaid applies the pending to paid transition if the order is still pending
func (s *Store) MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok || o.Status != domain.OrderStatusPending {
		return false, nil
	}
	if _, taken := s.byLicense[update.LicenseKey]; taken {
		return false, apierrors.NewInvalidStateError("license key already assigned")
	}

	paidAt := update.PaidAt
	o.Status = domain.OrderStatusPaid
	o.LicenseKey = update.LicenseKey
	o.GatewayTradeRef = update.GatewayTradeRef
	o.PaymentMethod = update.PaymentMethod
	o.PaidAt = &paidAt
	o.UpdatedAt = s.now()
	s.byLicense[update.LicenseKey] = orderNo
	return true, nil
}

// AddDevice adds deviceID if absent and the set is below max_devices
func (s *Store) AddDevice(ctx context.Context, orderNo, deviceID string) (orders.DeviceSetResult, error) {
	if err := ctx.Err(); err != nil {
		return orders.DeviceSetResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return orders.DeviceSetResult{}, apierrors.NewNotFoundError("order " + orderNo)
	}

	res := orders.DeviceSetResult{Limit: o.MaxDevices}
	switch {
	case slices.Contains(o.ActivatedDevices, deviceID):
		res.Member = true
	case len(o.ActivatedDevices) < o.MaxDevices:
		o.ActivatedDevices = append(o.ActivatedDevices, deviceID)
		o.UpdatedAt = s.now()
		res.Changed = true
		res.Member = true
	}
	res.Count = len(o.ActivatedDevices)
	return res, nil
}

// RemoveDevice removes deviceID if present and requiredMember, when set, is bound
func (s *Store) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	if err := ctx.Err(); err != nil {
		return orders.DeviceSetResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderNo]
	if !ok {
		return orders.DeviceSetResult{}, apierrors.NewNotFoundError("order " + orderNo)
	}

	res := orders.DeviceSetResult{Limit: o.MaxDevices}
	if requiredMember != "" && !slices.Contains(o.ActivatedDevices, requiredMember) {
		res.Denied = true
		res.Member = slices.Contains(o.ActivatedDevices, deviceID)
	} else if i := slices.Index(o.ActivatedDevices, deviceID); i >= 0 {
		o.ActivatedDevices = slices.Delete(o.ActivatedDevices, i, i+1)
		o.UpdatedAt = s.now()
		res.Changed = true
	}
	res.Count = len(o.ActivatedDevices)
	return res, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
