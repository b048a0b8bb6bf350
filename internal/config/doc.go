// Package config loads the license server configuration.
//
// # Configuration Sources
//
// Configuration is built once at startup from the following sources, later
// sources overriding earlier ones:
//
//	1. Default() values
//	2. A YAML file: WZS_CONFIG_FILE, config.yaml or configs/config.yaml
//	3. Environment variables (a .env file is loaded into the environment first)
//
// # Environment Variables
//
// Variables use the WZS prefix followed by the section and field:
//
//	WZS_SERVER_PORT=8080
//	WZS_PAYMENT_KEY=...
//	WZS_PAYMENT_AMOUNT_MISMATCH_POLICY=reject
//	WZS_LICENSE_SECRET=...
//	WZS_STORE_DRIVER=postgres
//	WZS_STORE_POSTGRES_DSN=postgres://...
//	WZS_PRODUCTS=pro:WZS Pro:19.90:3,basic:WZS Basic:9.90:1
//
// # Validation
//
// Validate collects every problem rather than stopping at the first, so a
// misconfigured deployment reports all missing secrets in one run.
//
// No other package reads the environment; the loaded *Config is passed to
// constructors explicitly.
package config
