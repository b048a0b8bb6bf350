package license

import "strings"

// NormalizeKey trims whitespace and upper-cases a user supplied key
func NormalizeKey(licenseKey string) string {
	return strings.ToUpper(strings.TrimSpace(licenseKey))
}

// MaskLicenseKey masks a license key for display and logs (WZS-PRO-****-****).
// The prefix and product tag stay visible, hex groups are hidden.
func MaskLicenseKey(key string) string {
	if len(key) < 8 {
		return "****"
	}

	if strings.Contains(key, "-") {
		parts := strings.Split(key, "-")
		masked := parts[0]
		for _, part := range parts[1:] {
			if isUpperHex(part) {
				masked += "-****"
			} else {
				masked += "-" + part
			}
		}
		return masked
	}

	return key[:4] + "****"
}
