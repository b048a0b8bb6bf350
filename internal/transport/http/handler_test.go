package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "wzslicense/internal/errors"
	custommw "wzslicense/internal/middleware"
	"wzslicense/internal/services"
	"wzslicense/internal/shared/testutil"
	"wzslicense/pkg/contracts/domain"
)

const testKey = "WZS-PRO-AAAA-BBBB-CCCC-DDDD"

type mockLicenseService struct {
	mock.Mock
}

func (m *mockLicenseService) Activate(ctx context.Context, req domain.LicenseActivationRequest) (*domain.LicenseActivationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LicenseActivationResponse), args.Error(1)
}

func (m *mockLicenseService) ListDevices(ctx context.Context, req domain.DeviceListRequest) (*domain.DeviceListResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceListResponse), args.Error(1)
}

func (m *mockLicenseService) Deactivate(ctx context.Context, req domain.DeviceDeactivationRequest) (*domain.DeviceMutationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceMutationResponse), args.Error(1)
}

func (m *mockLicenseService) Release(ctx context.Context, req domain.DeviceReleaseRequest) (*domain.DeviceMutationResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeviceMutationResponse), args.Error(1)
}

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.CreateOrderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreateOrderResponse), args.Error(1)
}

func (m *mockOrderService) GetStatus(ctx context.Context, orderNo string) (*domain.OrderStatusResponse, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OrderStatusResponse), args.Error(1)
}

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) HandleNotification(ctx context.Context, params map[string]string) services.NotificationAck {
	args := m.Called(ctx, params)
	return args.Get(0).(services.NotificationAck)
}

func newErrorHandler(t *testing.T) *apierrors.ErrorHandler {
	logger, _ := testutil.NewTestLogger(t)
	return apierrors.NewErrorHandler(logger, false)
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func newValidator() *custommw.Validator {
	return custommw.NewValidator()
}
