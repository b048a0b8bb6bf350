package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"wzslicense/internal/config"
	"wzslicense/internal/notify"
	"wzslicense/internal/security"
	"wzslicense/internal/shared/testutil"
)

const testPaymentKey = "gateway-secret"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Telemetry.TracingEnabled = false
	cfg.Telemetry.MetricsEnabled = false
	cfg.Payment.GatewayURL = "https://pay.example.com/submit.php"
	cfg.Payment.PID = "1001"
	cfg.Payment.Key = testPaymentKey
	cfg.Payment.NotifyURL = "https://license.example.com/api/payment/notify"
	cfg.License.Secret = "license-secret"
	cfg.Store.Driver = config.StoreMemory
	cfg.Store.OperationTimeout = time.Second
	cfg.Notify.Workers = 1
	cfg.Products = config.ProductCatalog{
		{ID: "pro", Name: "WZS Pro", Amount: "19.90", MaxDevices: 2},
	}
	return cfg
}

type AppSuite struct {
	suite.Suite
	app    *Application
	server *httptest.Server
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	logger, _ := testutil.NewTestLogger(s.T())
	cfg := testConfig()
	s.Require().NoError(cfg.Validate())

	app, err := Build(context.Background(), cfg, logger)
	s.Require().NoError(err)
	s.app = app
	s.server = httptest.NewServer(app.Router)
}

func (s *AppSuite) TearDownTest() {
	s.server.Close()
	s.NoError(s.app.Close(context.Background()))
}

func (s *AppSuite) postJSON(path string, body interface{}) (*http.Response, map[string]interface{}) {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(raw))
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *AppSuite) get(path string) (*http.Response, map[string]interface{}) {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	return resp, s.decode(resp)
}

func (s *AppSuite) decode(resp *http.Response) map[string]interface{} {
	defer resp.Body.Close()
	var out map[string]interface{}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *AppSuite) notify(params map[string]string) string {
	params[security.ParamSign] = security.Sign(params, testPaymentKey, security.SignTypeMD5)
	params[security.ParamSignType] = string(security.SignTypeMD5)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	resp, err := http.PostForm(s.server.URL+"/api/payment/notify", form)
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return string(body)
}

func (s *AppSuite) createOrder() (string, string) {
	resp, body := s.postJSON("/api/orders", map[string]string{"productId": "pro", "email": "Buyer@Example.com"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	return body["orderNo"].(string), body["amount"].(string)
}

func (s *AppSuite) paidParams(orderNo, money string) map[string]string {
	return map[string]string{
		"pid":          "1001",
		"out_trade_no": orderNo,
		"trade_no":     "T-" + orderNo,
		"trade_status": "TRADE_SUCCESS",
		"money":        money,
		"type":         "alipay",
	}
}

func (s *AppSuite) TestPurchaseActivateFlow() {
	orderNo, amount := s.createOrder()
	s.Equal("19.90", amount)

	_, status := s.get("/api/orders/" + orderNo + "/status")
	s.Equal("pending", status["status"])
	s.NotContains(status, "maskedLicenseKey")

	s.Equal("success", s.notify(s.paidParams(orderNo, "19.9")))
	s.Equal("success", s.notify(s.paidParams(orderNo, "19.90")), "duplicate notification is acknowledged")

	_, status = s.get("/api/orders/" + orderNo + "/status")
	s.Equal(true, status["paid"])
	s.Equal("WZS-PRO-****-****-****-****", status["maskedLicenseKey"])
	s.NotContains(status, "licenseKey")

	// the key reaches the buyer only through the license email
	queue := s.app.Queue.(*notify.MemoryQueue)
	s.Equal(1, queue.Len(), "one license email per order")
	s.Equal(int64(1), s.app.Dispatcher.Stats().Enqueued)
	popCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	email, err := queue.Pop(popCtx)
	s.Require().NoError(err)
	key := email.LicenseKey
	s.Regexp(`^WZS-PRO-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, key)
	s.Equal("buyer@example.com", email.To)

	resp, body := s.postJSON("/api/license/activate", map[string]string{"licenseKey": key, "deviceId": "laptop"})
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["success"])
	s.Equal("buyer@example.com", body["userEmail"])

	resp, _ = s.postJSON("/api/license/activate", map[string]string{"licenseKey": key, "deviceId": "desktop"})
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, body = s.postJSON("/api/license/activate", map[string]string{"licenseKey": key, "deviceId": "tablet"})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("device_limit_reached", body["reason"])

	resp, body = s.get("/api/license/devices?licenseKey=" + url.QueryEscape(key) + "&deviceId=laptop")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("WZS-PRO-****-****-****-****", body["licenseKey"])
	s.Len(body["devices"], 2)

	resp, body = s.postJSON("/api/license/devices/deactivate", map[string]string{
		"licenseKey": key, "deviceId": "laptop", "targetDeviceId": "desktop",
	})
	s.Equal(http.StatusOK, resp.StatusCode, body)

	resp, _ = s.postJSON("/api/license/activate", map[string]string{"licenseKey": key, "deviceId": "tablet"})
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *AppSuite) TestNotificationRejections() {
	orderNo, _ := s.createOrder()

	params := s.paidParams(orderNo, "19.90")
	params[security.ParamSign] = "0123456789abcdef0123456789abcdef"
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	resp, err := http.PostForm(s.server.URL+"/api/payment/notify", form)
	s.Require().NoError(err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	s.Equal("fail", string(raw), "forged signature")

	s.Equal("fail", s.notify(s.paidParams(orderNo, "0.01")), "amount mismatch is refused by default")

	waiting := s.paidParams(orderNo, "19.90")
	waiting["trade_status"] = "WAIT_BUYER_PAY"
	s.Equal("success", s.notify(waiting), "unfinished trades are acknowledged")

	s.Equal("success", s.notify(s.paidParams("WZS-unknown", "19.90")))

	_, status := s.get("/api/orders/" + orderNo + "/status")
	s.Equal("pending", status["status"])
}

func (s *AppSuite) TestHealthAndErrors() {
	resp, body := s.get("/api/health/ready")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("ready", body["status"])

	resp, body = s.get("/api/does-not-exist")
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("/errors/not-found", body["type"])

	resp, _ = s.get("/metrics")
	s.Equal(http.StatusNotFound, resp.StatusCode, "metrics disabled in this config")

	resp, err := http.Get(s.server.URL + "/api/health/live")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal("nosniff", resp.Header.Get("X-Content-Type-Options"))
	s.NotEmpty(resp.Header.Get("X-Request-ID"))
}

func TestBuildRejectsBadSignType(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	cfg := testConfig()
	cfg.Payment.SignType = "SHA1"

	_, err := Build(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sign type")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	app, err := Build(context.Background(), testConfig(), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return handler.ContainsMessage("notification dispatcher started")
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, handler.ContainsMessage("Application shutdown complete"))
}

func TestRunDeliversQueuedEmailOnShutdown(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	app, err := Build(context.Background(), testConfig(), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return handler.ContainsMessage("notification dispatcher started")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, app.Dispatcher.Enqueue(context.Background(), notify.LicenseEmail{
		OrderNo:    "WZS20240101120000a1b2c3",
		To:         "late@example.com",
		ProductID:  "pro",
		LicenseKey: "WZS-PRO-1234-5678-9ABC-DEF0",
		MaxDevices: 3,
	}))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	stats := app.Dispatcher.Stats()
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(0), stats.Pending)
	assert.True(t, handler.ContainsMessage("license email sent"))
}
