package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/shared/testutil"
	"wzslicense/pkg/contracts/domain"
)

func newLicenseRouter(t *testing.T, svc *mockLicenseService) http.Handler {
	logger, _ := testutil.NewTestLogger(t)
	return NewLicenseHandler(svc, newValidator(), newErrorHandler(t), logger).Routes()
}

func TestLicenseHandler_Activate(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		resp       *domain.LicenseActivationResponse
		err        error
		wantStatus int
		wantReason string
	}{
		{
			name: "new device",
			resp: &domain.LicenseActivationResponse{
				Success: true, Message: "License activated", CurrentDevices: 1, MaxDevices: 3,
				UserEmail: "buyer@example.com", ProductID: "pro", PurchaseDate: &paidAt,
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "already bound",
			resp: &domain.LicenseActivationResponse{
				Success: true, AlreadyActivated: true, Reason: domain.ReasonAlreadyActivated, CurrentDevices: 1, MaxDevices: 3,
			},
			wantStatus: http.StatusOK,
			wantReason: domain.ReasonAlreadyActivated,
		},
		{
			name: "device limit",
			resp: &domain.LicenseActivationResponse{
				Reason: domain.ReasonDeviceLimitReached, CurrentDevices: 3, MaxDevices: 3,
			},
			wantStatus: http.StatusBadRequest,
			wantReason: domain.ReasonDeviceLimitReached,
		},
		{
			name:       "unknown license",
			resp:       &domain.LicenseActivationResponse{Reason: domain.ReasonLicenseNotFound},
			wantStatus: http.StatusNotFound,
			wantReason: domain.ReasonLicenseNotFound,
		},
		{
			name:       "store timeout",
			err:        apierrors.NewTransientError("get order timed out", nil),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLicenseService{}
			want := domain.LicenseActivationRequest{LicenseKey: testKey, DeviceID: "device-1"}
			if tt.err != nil {
				svc.On("Activate", mock.Anything, want).Return(nil, tt.err)
			} else {
				svc.On("Activate", mock.Anything, want).Return(tt.resp, nil)
			}

			rec := httptest.NewRecorder()
			req := jsonRequest(t, http.MethodPost, "/activate", map[string]string{
				"licenseKey": "  " + strings.ToLower(testKey) + " ",
				"deviceId":   "device-1",
			})
			newLicenseRouter(t, svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tt.err != nil {
				assert.Equal(t, true, body["retryable"])
			} else {
				assert.Equal(t, tt.resp.Success, body["success"])
				if tt.wantReason != "" {
					assert.Equal(t, tt.wantReason, body["reason"])
				}
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_ActivateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{"missing content type", "", `{"licenseKey":"` + testKey + `","deviceId":"d"}`, http.StatusBadRequest},
		{"wrong content type", "text/plain", `{}`, http.StatusUnsupportedMediaType},
		{"malformed json", "application/json", `{"licenseKey":`, http.StatusBadRequest},
		{"missing device", "application/json", `{"licenseKey":"` + testKey + `"}`, http.StatusBadRequest},
		{"control chars in device", "application/json", `{"licenseKey":"` + testKey + `","deviceId":"a\u0007b"}`, http.StatusBadRequest},
		{"short key", "application/json", `{"licenseKey":"WZS","deviceId":"d"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLicenseService{}
			req := httptest.NewRequest(http.MethodPost, "/activate", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			newLicenseRouter(t, svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			svc.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
		})
	}
}

func TestLicenseHandler_ListDevices(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("ListDevices", mock.Anything, domain.DeviceListRequest{LicenseKey: testKey, DeviceID: "device-1"}).
		Return(&domain.DeviceListResponse{
			Success: true,
			DeviceList: &domain.DeviceList{
				MaskedLicenseKey: "WZS-PRO-****-****-****-****",
				ProductID:        "pro",
				Devices: []domain.DeviceInfo{
					{DeviceID: "device-1", DeviceName: "device 1", IsCurrentDevice: true},
					{DeviceID: "device-2", DeviceName: "device 2"},
				},
				CurrentDevices:  2,
				MaxDevices:      3,
				CurrentDeviceID: "device-1",
			},
		}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices?licenseKey="+testKey+"&deviceId=device-1", nil)
	newLicenseRouter(t, svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "WZS-PRO-****-****-****-****", body["licenseKey"])
	assert.Equal(t, float64(2), body["currentDevices"])
	devices := body["devices"].([]interface{})
	require.Len(t, devices, 2)
	assert.Equal(t, true, devices[0].(map[string]interface{})["isCurrentDevice"])
	assert.NotContains(t, rec.Body.String(), "AAAA")
}

func TestLicenseHandler_ListDevicesUnauthorized(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("ListDevices", mock.Anything, mock.Anything).
		Return(&domain.DeviceListResponse{Reason: domain.ReasonUnauthorizedDevice, Message: "not bound"}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices?licenseKey="+testKey+"&deviceId=stranger", nil)
	newLicenseRouter(t, svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, domain.ReasonUnauthorizedDevice, body["reason"])
	assert.NotContains(t, body, "devices")
}

func TestLicenseHandler_ListDevicesRequiresQuery(t *testing.T) {
	svc := &mockLicenseService{}
	rec := httptest.NewRecorder()
	newLicenseRouter(t, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices?licenseKey="+testKey, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "ListDevices", mock.Anything, mock.Anything)
}

func TestLicenseHandler_Deactivate(t *testing.T) {
	tests := []struct {
		name       string
		resp       *domain.DeviceMutationResponse
		wantStatus int
	}{
		{"removed", &domain.DeviceMutationResponse{Success: true, CurrentDevices: 1, MaxDevices: 3}, http.StatusOK},
		{"self", &domain.DeviceMutationResponse{Reason: domain.ReasonCannotTargetSelf}, http.StatusBadRequest},
		{"requester not bound", &domain.DeviceMutationResponse{Reason: domain.ReasonUnauthorizedDevice}, http.StatusForbidden},
		{"target not bound", &domain.DeviceMutationResponse{Reason: domain.ReasonDeviceNotBound}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockLicenseService{}
			svc.On("Deactivate", mock.Anything, domain.DeviceDeactivationRequest{
				LicenseKey: testKey, DeviceID: "device-1", TargetDeviceID: "device-2",
			}).Return(tt.resp, nil)

			rec := httptest.NewRecorder()
			req := jsonRequest(t, http.MethodPost, "/devices/deactivate", map[string]string{
				"licenseKey": testKey, "deviceId": "device-1", "targetDeviceId": "device-2",
			})
			newLicenseRouter(t, svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.resp.Success, decodeBody(t, rec)["success"])
			svc.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_Release(t *testing.T) {
	svc := &mockLicenseService{}
	svc.On("Release", mock.Anything, domain.DeviceReleaseRequest{LicenseKey: testKey, DeviceID: "device-1"}).
		Return(&domain.DeviceMutationResponse{Success: true, Message: "Device released", MaxDevices: 3}, nil)

	rec := httptest.NewRecorder()
	req := jsonRequest(t, http.MethodPost, "/devices/release", map[string]string{
		"licenseKey": testKey, "deviceId": "device-1",
	})
	newLicenseRouter(t, svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(0), body["currentDevices"])
	svc.AssertExpectations(t)
}

func TestLicenseHandler_LogsMaskedKey(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	svc := &mockLicenseService{}
	svc.On("Activate", mock.Anything, mock.Anything).
		Return(&domain.LicenseActivationResponse{Reason: domain.ReasonDeviceLimitReached}, nil)

	router := NewLicenseHandler(svc, newValidator(), newErrorHandler(t), logger).Routes()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/activate", map[string]string{
		"licenseKey": testKey, "deviceId": "device-9",
	}))

	require.True(t, handler.ContainsMessage("license request refused"))
	for _, record := range handler.GetRecords() {
		for _, v := range record.Attrs {
			assert.NotContains(t, fmt.Sprint(v), "AAAA-BBBB")
		}
	}
}
