package security

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SignType selects the digest used for gateway signatures
type SignType string

const (
	// SignTypeMD5 is the legacy gateway digest: md5(canonical + key)
	SignTypeMD5 SignType = "MD5"
	// SignTypeHMACSHA256 is HMAC-SHA256(key, canonical)
	SignTypeHMACSHA256 SignType = "HMAC-SHA256"
)

// Gateway parameter names excluded from the signed string
const (
	ParamSign     = "sign"
	ParamSignType = "sign_type"
)

// ParseSignType maps a configured sign type name to a SignType
func ParseSignType(name string) (SignType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "MD5":
		return SignTypeMD5, nil
	case "HMAC-SHA256", "HMAC_SHA256", "HMACSHA256":
		return SignTypeHMACSHA256, nil
	default:
		return "", fmt.Errorf("unsupported sign type %q", name)
	}
}

// CanonicalString builds the string that is signed: non-empty parameters other
// than sign and sign_type, sorted by name, joined as name=value pairs with '&'.
func CanonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == ParamSign || k == ParamSignType || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign computes the lowercase hex signature of params with the given secret
func Sign(params map[string]string, secret string, signType SignType) string {
	canonical := CanonicalString(params)
	switch signType {
	case SignTypeHMACSHA256:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(canonical))
		return hex.EncodeToString(mac.Sum(nil))
	default:
		sum := md5.Sum([]byte(canonical + secret))
		return hex.EncodeToString(sum[:])
	}
}

// VerifySignature checks the legacy MD5 signature carried in params["sign"].
func VerifySignature(params map[string]string, secret string) bool {
	return NewVerifier(secret, SignTypeMD5).Verify(params)
}

// Verifier validates signatures on inbound gateway notifications.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	secret   string
	signType SignType
}

// NewVerifier creates a verifier bound to a merchant secret
func NewVerifier(secret string, signType SignType) *Verifier {
	if signType == "" {
		signType = SignTypeMD5
	}
	return &Verifier{secret: secret, signType: signType}
}

// SignType returns the digest the verifier expects
func (v *Verifier) SignType() SignType {
	return v.signType
}

// Sign signs params with the verifier's secret, for building outbound requests
func (v *Verifier) Sign(params map[string]string) string {
	return Sign(params, v.secret, v.signType)
}

// Verify returns false when the secret is unset, sign is missing, or the
// recomputed digest differs from the supplied one.
func (v *Verifier) Verify(params map[string]string) bool {
	if v.secret == "" {
		return false
	}
	received, ok := params[ParamSign]
	if !ok || received == "" {
		return false
	}
	expected := Sign(params, v.secret, v.signType)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
