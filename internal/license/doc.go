// Package license derives and inspects license keys.
//
// Keys are issued deterministically from the buyer's email, the product ID
// and the order number, keyed by a server secret through HKDF and HMAC-SHA256.
// Re-issuing for the same order yields the same key, which lets a repeated
// payment notification settle on the key that was already delivered.
//
// Layout:
//
//	WZS-<PRODUCT>-XXXX-XXXX-XXXX-XXXX
//
// The product tag is the upper-cased product ID with non alphanumerics
// removed. Each group is upper-case hex.
//
// Keys reaching logs always go through MaskLicenseKey, which keeps the
// prefix and product tag and hides the hex groups:
//
//	license.MaskLicenseKey("WZS-PRO-1A2B-3C4D-5E6F-7A8B") // WZS-PRO-****-****-****-****
package license
