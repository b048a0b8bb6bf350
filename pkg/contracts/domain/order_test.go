package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
		ok     bool
	}{
		{"19.90", 1990, true},
		{"0.01", 1, true},
		{"100", 10000, true},
		{"19.905", 0, false},
		{"92233720368547758.07", 9223372036854775807, true},
		{"92233720368547758.08", 0, false},
		{"-92233720368547758.08", -9223372036854775808, true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, ok := MinorUnits(decimal.RequireFromString(tt.amount))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountsEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"same", "19.90", "19.90", true},
		{"trailing zeros", "19.9", "19.900", true},
		{"one cent off", "19.90", "19.91", false},
		{"sub-cent", "19.90", "19.901", false},
		{"both sub-cent", "19.901", "19.901", false},
		{"wraps int64", "19.90", "184467440737095535.06", false},
		{"opposite signs at int64 edge", "92233720368547758.08", "-92233720368547758.08", false},
		{"beyond int64", "1000000000000000000000.00", "1000000000000000000000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := decimal.RequireFromString(tt.a), decimal.RequireFromString(tt.b)
			assert.Equal(t, tt.want, AmountsEqual(a, b))
			assert.Equal(t, tt.want, AmountsEqual(b, a))
		})
	}
}
