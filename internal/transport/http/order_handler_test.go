package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/shared/testutil"
	"wzslicense/pkg/contracts/domain"
)

func newOrderRouter(t *testing.T, svc *mockOrderService) http.Handler {
	logger, _ := testutil.NewTestLogger(t)
	r := chi.NewRouter()
	r.Mount("/api/orders", NewOrderHandler(svc, newValidator(), newErrorHandler(t), logger).Routes())
	return r
}

func TestOrderHandler_Create(t *testing.T) {
	svc := &mockOrderService{}
	svc.On("CreateOrder", mock.Anything, domain.CreateOrderRequest{ProductID: "pro", Email: "buyer@example.com"}).
		Return(&domain.CreateOrderResponse{
			OrderNo:    "WZS20260301100000abcdef",
			ProductID:  "pro",
			Amount:     "19.90",
			MaxDevices: 3,
			PayURL:     "https://pay.example.com/submit.php?out_trade_no=WZS20260301100000abcdef",
		}, nil)

	rec := httptest.NewRecorder()
	newOrderRouter(t, svc).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/orders", map[string]string{
		"productId": "pro", "email": "buyer@example.com",
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "WZS20260301100000abcdef", body["orderNo"])
	assert.Equal(t, "19.90", body["amount"])
	assert.Contains(t, body["payUrl"], "out_trade_no=")
}

func TestOrderHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		svcErr     error
		wantStatus int
	}{
		{"invalid email", map[string]string{"productId": "pro", "email": "nope"}, nil, http.StatusBadRequest},
		{"unknown product", map[string]string{"productId": "gold", "email": "a@example.com"}, apierrors.NewAppValidationError(`unknown product "gold"`), http.StatusBadRequest},
		{"store down", map[string]string{"productId": "pro", "email": "a@example.com"}, apierrors.NewTransientError("create order timed out", nil), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{}
			if tt.svcErr != nil {
				svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, tt.svcErr)
			}
			rec := httptest.NewRecorder()
			newOrderRouter(t, svc).ServeHTTP(rec, jsonRequest(t, http.MethodPost, "/api/orders", tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.svcErr == nil {
				svc.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOrderHandler_Status(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	svc := &mockOrderService{}
	svc.On("GetStatus", mock.Anything, "WZS1").Return(&domain.OrderStatusResponse{
		OrderNo: "WZS1", Status: "paid", Paid: true, ProductID: "pro", Amount: "19.90",
		MaskedLicenseKey: "WZS-PRO-****-****-****-****", CreatedAt: paidAt.Add(-5 * time.Minute), PaidAt: &paidAt,
	}, nil)
	svc.On("GetStatus", mock.Anything, "WZS404").Return(nil, apierrors.NewNotFoundError("order WZS404"))

	router := newOrderRouter(t, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/WZS1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["paid"])
	assert.Equal(t, "WZS-PRO-****-****-****-****", body["maskedLicenseKey"])
	assert.NotContains(t, body, "licenseKey")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/WZS404/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/errors/not-found", decodeBody(t, rec)["type"])
}
