package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"wzslicense/internal/activation"
	"wzslicense/internal/alert"
	"wzslicense/internal/notify"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) Verify(params map[string]string) bool {
	return m.Called(params).Bool(0)
}

type mockStateMachine struct{ mock.Mock }

func (m *mockStateMachine) ApplyPaymentNotification(ctx context.Context, n orders.PaymentNotification) (orders.PaymentOutcome, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(orders.PaymentOutcome), args.Error(1)
}

type mockEmailQueue struct{ mock.Mock }

func (m *mockEmailQueue) Enqueue(ctx context.Context, email notify.LicenseEmail) error {
	return m.Called(ctx, email).Error(0)
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) Raise(ctx context.Context, a alert.Alert) {
	m.Called(ctx, a)
}

func (m *mockAlerter) Flush(timeout time.Duration) bool {
	return m.Called(timeout).Bool(0)
}

type mockDeviceManager struct{ mock.Mock }

func (m *mockDeviceManager) Activate(ctx context.Context, licenseKey, deviceID string) (activation.ActivationResult, error) {
	args := m.Called(ctx, licenseKey, deviceID)
	return args.Get(0).(activation.ActivationResult), args.Error(1)
}

func (m *mockDeviceManager) Deactivate(ctx context.Context, licenseKey, requestingDeviceID, targetDeviceID string) (activation.DeactivationResult, error) {
	args := m.Called(ctx, licenseKey, requestingDeviceID, targetDeviceID)
	return args.Get(0).(activation.DeactivationResult), args.Error(1)
}

func (m *mockDeviceManager) Release(ctx context.Context, licenseKey, deviceID string) (activation.DeactivationResult, error) {
	args := m.Called(ctx, licenseKey, deviceID)
	return args.Get(0).(activation.DeactivationResult), args.Error(1)
}

func (m *mockDeviceManager) ListDevices(ctx context.Context, licenseKey, deviceID string) (activation.DeviceListResult, error) {
	args := m.Called(ctx, licenseKey, deviceID)
	return args.Get(0).(activation.DeviceListResult), args.Error(1)
}

type mockPinger struct{ mock.Mock }

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type stubStats struct{ stats notify.DispatcherStats }

func (s stubStats) Stats() notify.DispatcherStats { return s.stats }

var _ orders.Store = (*mockOrderStore)(nil)

type mockOrderStore struct{ mock.Mock }

func (m *mockOrderStore) Create(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockOrderStore) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	args := m.Called(ctx, orderNo)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockOrderStore) GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error) {
	args := m.Called(ctx, licenseKey)
	o, _ := args.Get(0).(*domain.Order)
	return o, args.Error(1)
}

func (m *mockOrderStore) MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error) {
	args := m.Called(ctx, orderNo, update)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrderStore) AddDevice(ctx context.Context, orderNo, deviceID string) (orders.DeviceSetResult, error) {
	args := m.Called(ctx, orderNo, deviceID)
	return args.Get(0).(orders.DeviceSetResult), args.Error(1)
}

func (m *mockOrderStore) RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (orders.DeviceSetResult, error) {
	args := m.Called(ctx, orderNo, deviceID, requiredMember)
	return args.Get(0).(orders.DeviceSetResult), args.Error(1)
}

func (m *mockOrderStore) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockOrderStore) Close() error { return m.Called().Error(0) }
