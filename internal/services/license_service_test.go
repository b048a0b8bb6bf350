package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wzslicense/internal/activation"
	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/shared/testutil"
	"wzslicense/pkg/contracts/domain"
)

const testKey = "WZS-PRO-1234-5678-9ABC-DEF0"

func newLicenseFixture(t *testing.T) (*mockDeviceManager, LicenseService) {
	t.Helper()
	m := &mockDeviceManager{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	logger, _ := testutil.NewTestLogger(t)
	return m, NewLicenseService(m, logger)
}

func TestActivateResponses(t *testing.T) {
	paidAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	order := &domain.Order{UserEmail: "buyer@example.com", ProductID: "pro", PaidAt: &paidAt}

	tests := []struct {
		name        string
		result      activation.ActivationResult
		wantSuccess bool
		wantReason  string
		wantEmail   string
	}{
		{
			name:        "activated",
			result:      activation.ActivationResult{Activated: true, Order: order, ActivatedAt: now, CurrentDevices: 1, MaxDevices: 3},
			wantSuccess: true,
			wantEmail:   "buyer@example.com",
		},
		{
			name:        "already activated",
			result:      activation.ActivationResult{Activated: true, AlreadyActivated: true, Order: order, ActivatedAt: now, CurrentDevices: 2, MaxDevices: 3},
			wantSuccess: true,
			wantEmail:   "buyer@example.com",
		},
		{
			name:       "limit reached",
			result:     activation.ActivationResult{Reason: domain.ReasonDeviceLimitReached, Order: order, CurrentDevices: 3, MaxDevices: 3},
			wantReason: domain.ReasonDeviceLimitReached,
		},
		{
			name:       "not found",
			result:     activation.ActivationResult{Reason: domain.ReasonLicenseNotFound},
			wantReason: domain.ReasonLicenseNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, svc := newLicenseFixture(t)
			m.On("Activate", mock.Anything, testKey, "dev-1").Return(tt.result, nil)

			resp, err := svc.Activate(context.Background(), domain.LicenseActivationRequest{LicenseKey: testKey, DeviceID: "dev-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantReason, resp.Reason)
			assert.Equal(t, tt.wantEmail, resp.UserEmail)
			assert.Equal(t, tt.result.AlreadyActivated, resp.AlreadyActivated)
			assert.Equal(t, tt.result.CurrentDevices, resp.CurrentDevices)
			assert.Equal(t, tt.result.MaxDevices, resp.MaxDevices)
			assert.NotEmpty(t, resp.Message)
			if tt.wantSuccess {
				assert.Equal(t, &paidAt, resp.PurchaseDate)
			} else {
				assert.Nil(t, resp.PurchaseDate)
			}
		})
	}
}

func TestActivatePassesFaultsThrough(t *testing.T) {
	m, svc := newLicenseFixture(t)
	fault := apierrors.NewTransientError("lookup timed out", context.DeadlineExceeded)
	m.On("Activate", mock.Anything, testKey, "dev-1").Return(activation.ActivationResult{}, fault)

	_, err := svc.Activate(context.Background(), domain.LicenseActivationRequest{LicenseKey: testKey, DeviceID: "dev-1"})
	assert.True(t, apierrors.IsTransient(err))
}

func TestListDevicesResponses(t *testing.T) {
	m, svc := newLicenseFixture(t)
	list := &domain.DeviceList{MaskedLicenseKey: "WZS-PRO-****-****-****-****", CurrentDevices: 1, MaxDevices: 3}
	m.On("ListDevices", mock.Anything, testKey, "dev-1").Return(activation.DeviceListResult{List: list}, nil)
	m.On("ListDevices", mock.Anything, testKey, "stranger").Return(activation.DeviceListResult{Reason: domain.ReasonUnauthorizedDevice}, nil)

	ok, err := svc.ListDevices(context.Background(), domain.DeviceListRequest{LicenseKey: testKey, DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Same(t, list, ok.DeviceList)

	refused, err := svc.ListDevices(context.Background(), domain.DeviceListRequest{LicenseKey: testKey, DeviceID: "stranger"})
	require.NoError(t, err)
	assert.False(t, refused.Success)
	assert.Equal(t, domain.ReasonUnauthorizedDevice, refused.Reason)
	assert.Nil(t, refused.DeviceList)
}

func TestDeactivateAndRelease(t *testing.T) {
	m, svc := newLicenseFixture(t)
	m.On("Deactivate", mock.Anything, testKey, "dev-1", "dev-2").
		Return(activation.DeactivationResult{Removed: true, CurrentDevices: 1, MaxDevices: 3}, nil)
	m.On("Deactivate", mock.Anything, testKey, "dev-1", "dev-1").
		Return(activation.DeactivationResult{Reason: domain.ReasonCannotTargetSelf}, nil)
	m.On("Release", mock.Anything, testKey, "dev-1").
		Return(activation.DeactivationResult{Removed: true, CurrentDevices: 0, MaxDevices: 3}, nil)

	resp, err := svc.Deactivate(context.Background(), domain.DeviceDeactivationRequest{LicenseKey: testKey, DeviceID: "dev-1", TargetDeviceID: "dev-2"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Device deactivated", resp.Message)
	assert.Equal(t, 1, resp.CurrentDevices)

	resp, err = svc.Deactivate(context.Background(), domain.DeviceDeactivationRequest{LicenseKey: testKey, DeviceID: "dev-1", TargetDeviceID: "dev-1"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, domain.ReasonCannotTargetSelf, resp.Reason)

	resp, err = svc.Release(context.Background(), domain.DeviceReleaseRequest{LicenseKey: testKey, DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.CurrentDevices)
}

func TestReasonStatus(t *testing.T) {
	tests := map[string]int{
		"":                              200,
		domain.ReasonAlreadyActivated:   200,
		domain.ReasonLicenseNotFound:    404,
		domain.ReasonLicenseNotActive:   400,
		domain.ReasonDeviceLimitReached: 400,
		domain.ReasonUnauthorizedDevice: 403,
		domain.ReasonCannotTargetSelf:   400,
		domain.ReasonDeviceNotBound:     400,
		domain.ReasonAmountMismatch:     409,
	}
	for reason, want := range tests {
		assert.Equal(t, want, ReasonStatus(reason), reason)
	}
	assert.Equal(t, "Request could not be completed", ReasonMessage("made_up"))
}
