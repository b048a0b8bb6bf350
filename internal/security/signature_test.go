package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayParams() map[string]string {
	return map[string]string{
		"pid":          "1001",
		"type":         "alipay",
		"out_trade_no": "WZS20240101",
		"name":         "WZS Pro",
		"money":        "9.90",
		"trade_status": "TRADE_SUCCESS",
		"trade_no":     "",
		"sign_type":    "MD5",
	}
}

func TestCanonicalString(t *testing.T) {
	got := CanonicalString(gatewayParams())
	assert.Equal(t, "money=9.90&name=WZS Pro&out_trade_no=WZS20240101&pid=1001&trade_status=TRADE_SUCCESS&type=alipay", got)
}

func TestSign_KnownVectors(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "sign": "ignored", "sign_type": "MD5"}

	assert.Equal(t, "1c123a5dc12e90deeaa1cd94681f0d88", Sign(params, "key", SignTypeMD5))
	assert.Equal(t, "b3c18626e7ac81395c1d37966c7ee2258a6967a1b3fdefb4fa339bb19dc73b0e", Sign(params, "key", SignTypeHMACSHA256))
	assert.Equal(t, "c362bb5e1ff4c846c6c4a725a808b022", Sign(gatewayParams(), "secret123", SignTypeMD5))
}

func TestVerifier_Verify(t *testing.T) {
	const secret = "secret123"

	signed := func(mutate func(map[string]string)) map[string]string {
		p := gatewayParams()
		p[ParamSign] = Sign(p, secret, SignTypeMD5)
		if mutate != nil {
			mutate(p)
		}
		return p
	}

	tests := []struct {
		name   string
		params map[string]string
		secret string
		want   bool
	}{
		{name: "valid signature", params: signed(nil), secret: secret, want: true},
		{name: "empty values ignored", params: signed(func(p map[string]string) { p["extra"] = "" }), secret: secret, want: true},
		{name: "sign_type change ignored", params: signed(func(p map[string]string) { p[ParamSignType] = "RSA" }), secret: secret, want: true},
		{name: "tampered amount", params: signed(func(p map[string]string) { p["money"] = "0.01" }), secret: secret, want: false},
		{name: "added parameter", params: signed(func(p map[string]string) { p["param"] = "x" }), secret: secret, want: false},
		{name: "removed parameter", params: signed(func(p map[string]string) { delete(p, "name") }), secret: secret, want: false},
		{name: "uppercase digest", params: signed(func(p map[string]string) { p[ParamSign] = "C362BB5E1FF4C846C6C4A725A808B022" }), secret: secret, want: false},
		{name: "missing sign", params: signed(func(p map[string]string) { delete(p, ParamSign) }), secret: secret, want: false},
		{name: "empty sign", params: signed(func(p map[string]string) { p[ParamSign] = "" }), secret: secret, want: false},
		{name: "wrong secret", params: signed(nil), secret: "other", want: false},
		{name: "unconfigured secret", params: signed(nil), secret: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.secret, SignTypeMD5)
			assert.Equal(t, tt.want, v.Verify(tt.params))
			assert.Equal(t, tt.want, VerifySignature(tt.params, tt.secret))
		})
	}
}

func TestVerifier_ParameterOrderIrrelevant(t *testing.T) {
	v := NewVerifier("k", SignTypeHMACSHA256)
	a := map[string]string{"x": "1", "y": "2", "z": "3"}
	b := map[string]string{"z": "3", "x": "1", "y": "2"}
	a[ParamSign] = v.Sign(a)
	b[ParamSign] = a[ParamSign]

	assert.True(t, v.Verify(a))
	assert.True(t, v.Verify(b))
	assert.Equal(t, SignTypeHMACSHA256, v.SignType())
}

func TestParseSignType(t *testing.T) {
	tests := []struct {
		in      string
		want    SignType
		wantErr bool
	}{
		{in: "", want: SignTypeMD5},
		{in: "md5", want: SignTypeMD5},
		{in: "HMAC-SHA256", want: SignTypeHMACSHA256},
		{in: "hmac_sha256", want: SignTypeHMACSHA256},
		{in: "RSA", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
