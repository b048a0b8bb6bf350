package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Key derivation labels. Changing either invalidates every issued key.
const (
	kdfSalt = "wzs-license-issuer"
	kdfInfo = "license-key/v1"
)

// Default key layout: WZS-<PRODUCT>-XXXX-XXXX-XXXX-XXXX
const (
	DefaultPrefix     = "WZS"
	DefaultGroupSize  = 4
	DefaultGroupCount = 4
)

// IssuerConfig configures license key derivation and layout
type IssuerConfig struct {
	Secret     string
	Prefix     string
	GroupSize  int
	GroupCount int
}

// Issuer derives license keys from order identity and a server-held secret.
// Issue is pure: identical inputs always produce the identical key.
type Issuer struct {
	key        []byte
	prefix     string
	groupSize  int
	groupCount int
}

// NewIssuer creates an issuer. The HMAC key is derived once from the secret
// with HKDF-SHA256.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("license secret is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = DefaultGroupSize
	}
	if cfg.GroupCount <= 0 {
		cfg.GroupCount = DefaultGroupCount
	}
	if cfg.GroupSize*cfg.GroupCount > sha256.Size*2 {
		return nil, fmt.Errorf("license layout needs %d hex chars, digest has %d",
			cfg.GroupSize*cfg.GroupCount, sha256.Size*2)
	}

	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(cfg.Secret), []byte(kdfSalt), []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive license key: %w", err)
	}

	return &Issuer{
		key:        key,
		prefix:     strings.ToUpper(cfg.Prefix),
		groupSize:  cfg.GroupSize,
		groupCount: cfg.GroupCount,
	}, nil
}

// Issue derives the license key for an order. orderNo is the per-order nonce.
func (i *Issuer) Issue(userEmail, productID, orderNo string) string {
	mac := hmac.New(sha256.New, i.key)
	for _, field := range []string{userEmail, productID, orderNo} {
		// Length prefix keeps ("ab","c") and ("a","bc") distinct.
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		mac.Write(n[:])
		mac.Write([]byte(field))
	}
	digest := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	parts := make([]string, 0, i.groupCount+2)
	parts = append(parts, i.prefix)
	if tag := ProductTag(productID); tag != "" {
		parts = append(parts, tag)
	}
	for g := 0; g < i.groupCount; g++ {
		parts = append(parts, digest[g*i.groupSize:(g+1)*i.groupSize])
	}
	return strings.Join(parts, "-")
}

// ValidFormat reports whether key has the shape of a key this issuer produces.
// It does not prove the key was issued.
func (i *Issuer) ValidFormat(key string) bool {
	parts := strings.Split(key, "-")
	if len(parts) < i.groupCount+1 || len(parts) > i.groupCount+2 {
		return false
	}
	if parts[0] != i.prefix {
		return false
	}
	if len(parts) == i.groupCount+2 {
		tag := parts[1]
		if tag == "" || ProductTag(tag) != tag {
			return false
		}
	}
	for _, group := range parts[len(parts)-i.groupCount:] {
		if len(group) != i.groupSize || !isUpperHex(group) {
			return false
		}
	}
	return true
}

// ProductTag upper-cases productID and drops characters outside [A-Z0-9]
func ProductTag(productID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(productID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUpperHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
