package config

// Application constants
const (
	AppName    = "wzs-license-server"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable, e.g. WZS_SERVER_PORT.
	EnvPrefix = "WZS"

	// Gateway acknowledgement tokens and the trade status that means paid.
	DefaultSuccessToken       = "success"
	DefaultFailureToken       = "fail"
	DefaultSuccessTradeStatus = "TRADE_SUCCESS"
)

// API paths
const (
	APIBasePath       = "/api"
	PaymentNotifyPath = "/api/payment/notify"
	HealthEndpoint    = "/api/health"
	MetricsEndpoint   = "/metrics"
)
