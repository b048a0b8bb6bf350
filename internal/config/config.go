package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"wzslicense/pkg/contracts/domain"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Payment   PaymentConfig   `yaml:"payment" envconfig:"PAYMENT"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Notify    NotifyConfig    `yaml:"notify" envconfig:"NOTIFY"`
	Mail      MailConfig      `yaml:"mail" envconfig:"MAIL"`
	Alert     AlertConfig     `yaml:"alert" envconfig:"ALERT"`
	Products  ProductCatalog  `yaml:"products" envconfig:"PRODUCTS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig controls tracing and metrics export
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TracingEnabled bool    `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	SampleRate     float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
}

// AmountMismatchPolicy decides whether a mismatched payment is acknowledged
type AmountMismatchPolicy string

const (
	// MismatchReject replies with the failure token so the gateway retries.
	MismatchReject AmountMismatchPolicy = "reject"
	// MismatchAccept acknowledges the notification; the order stays pending.
	MismatchAccept AmountMismatchPolicy = "accept"
)

// PaymentConfig describes the payment gateway
type PaymentConfig struct {
	GatewayURL           string               `yaml:"gateway_url" envconfig:"GATEWAY_URL"`
	PID                  string               `yaml:"pid" envconfig:"PID"`
	Key                  string               `yaml:"key" envconfig:"KEY"`
	SignType             string               `yaml:"sign_type" envconfig:"SIGN_TYPE"`
	NotifyURL            string               `yaml:"notify_url" envconfig:"NOTIFY_URL"`
	ReturnURL            string               `yaml:"return_url" envconfig:"RETURN_URL"`
	DefaultPayType       string               `yaml:"default_pay_type" envconfig:"DEFAULT_PAY_TYPE"`
	SuccessToken         string               `yaml:"success_token" envconfig:"SUCCESS_TOKEN"`
	FailureToken         string               `yaml:"failure_token" envconfig:"FAILURE_TOKEN"`
	SuccessTradeStatus   string               `yaml:"success_trade_status" envconfig:"SUCCESS_TRADE_STATUS"`
	AmountMismatchPolicy AmountMismatchPolicy `yaml:"amount_mismatch_policy" envconfig:"AMOUNT_MISMATCH_POLICY"`
}

// LicenseConfig drives license key derivation
type LicenseConfig struct {
	Secret     string `yaml:"secret" envconfig:"SECRET"`
	Prefix     string `yaml:"prefix" envconfig:"PREFIX"`
	GroupSize  int    `yaml:"group_size" envconfig:"GROUP_SIZE"`
	GroupCount int    `yaml:"group_count" envconfig:"GROUP_COUNT"`
}

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects and tunes the order store
type StoreConfig struct {
	Driver           string        `yaml:"driver" envconfig:"DRIVER"`
	SQLitePath       string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	PostgresDSN      string        `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	MaxConns         int           `yaml:"max_conns" envconfig:"MAX_CONNS"`
	OperationTimeout time.Duration `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT"`
}

// Notification queue backends
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// NotifyConfig configures the license email dispatcher
type NotifyConfig struct {
	Backend     string        `yaml:"backend" envconfig:"BACKEND"`
	Workers     int           `yaml:"workers" envconfig:"WORKERS"`
	QueueSize   int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	RedisURL    string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisKey    string        `yaml:"redis_key" envconfig:"REDIS_KEY"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RetryDelay  time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
}

// MailConfig configures outbound SMTP
type MailConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Username string `yaml:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	From     string `yaml:"from" envconfig:"FROM"`
}

// AlertConfig configures operator alerting
type AlertConfig struct {
	SentryDSN    string        `yaml:"sentry_dsn" envconfig:"SENTRY_DSN"`
	Environment  string        `yaml:"environment" envconfig:"ENVIRONMENT"`
	FlushTimeout time.Duration `yaml:"flush_timeout" envconfig:"FLUSH_TIMEOUT"`
}

// ProductConfig is one purchasable product
type ProductConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Amount     string `yaml:"amount"`
	MaxDevices int    `yaml:"max_devices"`
}

// ProductCatalog is the list of products. From the environment it is read as
// "id:name:amount:max_devices" entries separated by commas.
type ProductCatalog []ProductConfig

// Decode implements envconfig.Decoder
func (c *ProductCatalog) Decode(value string) error {
	var out ProductCatalog
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return fmt.Errorf("product %q: want id:name:amount:max_devices", entry)
		}
		maxDevices, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil {
			return fmt.Errorf("product %q: max_devices: %w", entry, err)
		}
		out = append(out, ProductConfig{
			ID:         strings.TrimSpace(parts[0]),
			Name:       strings.TrimSpace(parts[1]),
			Amount:     strings.TrimSpace(parts[2]),
			MaxDevices: maxDevices,
		})
	}
	*c = out
	return nil
}

// Catalog parses the configured products keyed by id
func (c ProductCatalog) Catalog() (map[string]domain.Product, error) {
	catalog := make(map[string]domain.Product, len(c))
	var result *multierror.Error
	for i, p := range c {
		if p.ID == "" {
			result = multierror.Append(result, fmt.Errorf("products[%d]: id is required", i))
			continue
		}
		if _, dup := catalog[p.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("products[%d]: duplicate id %q", i, p.ID))
			continue
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("product %s: invalid amount %q", p.ID, p.Amount))
			continue
		}
		if !amount.IsPositive() {
			result = multierror.Append(result, fmt.Errorf("product %s: amount must be positive", p.ID))
		}
		if _, exact := domain.MinorUnits(amount); !exact {
			result = multierror.Append(result, fmt.Errorf("product %s: amount %s has more than %d decimals", p.ID, p.Amount, domain.MinorUnitExponent))
		}
		if p.MaxDevices < 1 {
			result = multierror.Append(result, fmt.Errorf("product %s: max_devices must be at least 1", p.ID))
		}
		name := p.Name
		if name == "" {
			name = p.ID
		}
		catalog[p.ID] = domain.Product{ID: p.ID, Name: name, Amount: amount, MaxDevices: p.MaxDevices}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is read into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configFile, err)
		}
	}

	// Fields without a matching variable keep their current value.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		add("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		add("server write timeout must be positive")
	}
	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		add("at least one allowed origin must be specified when CORS is enabled")
	}
	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		add("rate limit rps and burst must be positive")
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		add("logging output must be console, file or both, got %q", c.Logging.Output)
	}

	if c.Payment.Key == "" {
		add("payment key is required")
	}
	if c.Payment.PID == "" {
		add("payment pid is required")
	}
	if _, err := url.ParseRequestURI(c.Payment.GatewayURL); err != nil {
		add("payment gateway_url is invalid: %v", err)
	}
	switch strings.ToUpper(c.Payment.SignType) {
	case "MD5", "HMAC-SHA256":
	default:
		add("payment sign_type must be MD5 or HMAC-SHA256, got %q", c.Payment.SignType)
	}
	switch c.Payment.AmountMismatchPolicy {
	case MismatchReject, MismatchAccept:
	default:
		add("payment amount_mismatch_policy must be reject or accept, got %q", c.Payment.AmountMismatchPolicy)
	}
	if c.Payment.SuccessToken == "" || c.Payment.FailureToken == "" {
		add("payment success and failure tokens are required")
	}

	if c.License.Secret == "" {
		add("license secret is required")
	}
	if c.License.Prefix == "" {
		add("license prefix is required")
	}
	if c.License.GroupSize < 1 || c.License.GroupCount < 1 || c.License.GroupSize*c.License.GroupCount > 64 {
		add("license layout %dx%d is invalid", c.License.GroupCount, c.License.GroupSize)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			add("store sqlite_path is required for the sqlite driver")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			add("store postgres_dsn is required for the postgres driver")
		}
	default:
		add("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.OperationTimeout <= 0 {
		add("store operation_timeout must be positive")
	}

	switch c.Notify.Backend {
	case QueueMemory:
	case QueueRedis:
		if c.Notify.RedisURL == "" {
			add("notify redis_url is required for the redis backend")
		}
	default:
		add("unknown notify backend %q", c.Notify.Backend)
	}
	if c.Notify.Workers < 1 {
		add("notify workers must be at least 1")
	}
	if c.Notify.MaxAttempts < 1 {
		add("notify max_attempts must be at least 1")
	}

	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
		add("mail host and from are required when mail is enabled")
	}

	if len(c.Products) == 0 {
		add("at least one product must be configured")
	} else if _, err := c.Products.Catalog(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// Default returns a configuration with every default applied. Secrets are
// left empty so Validate fails until they are supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			Environment:    "development",
			TracingEnabled: true,
			MetricsEnabled: true,
			SampleRate:     1.0,
		},
		Payment: PaymentConfig{
			SignType:             "MD5",
			DefaultPayType:       "alipay",
			SuccessToken:         DefaultSuccessToken,
			FailureToken:         DefaultFailureToken,
			SuccessTradeStatus:   DefaultSuccessTradeStatus,
			AmountMismatchPolicy: MismatchReject,
		},
		License: LicenseConfig{
			Prefix:     "WZS",
			GroupSize:  4,
			GroupCount: 4,
		},
		Store: StoreConfig{
			Driver:           StoreSQLite,
			SQLitePath:       "data/orders.db",
			MaxConns:         10,
			OperationTimeout: 5 * time.Second,
		},
		Notify: NotifyConfig{
			Backend:     QueueMemory,
			Workers:     2,
			QueueSize:   256,
			RedisKey:    "wzs:notify:license_email",
			MaxAttempts: 3,
			RetryDelay:  2 * time.Second,
		},
		Mail: MailConfig{
			Port: 587,
		},
		Alert: AlertConfig{
			Environment:  "development",
			FlushTimeout: 2 * time.Second,
		},
	}
}
