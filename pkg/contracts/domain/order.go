// Package domain contains the core domain models for the WZS license server.
// These types serve as the Single Source of Truth (SSOT) for all layers of the application.
package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the payment lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		return true
	}
	return false
}

// MinorUnitExponent is the number of decimal places kept for amounts (cents / fen).
const MinorUnitExponent = 2

// Order is the purchase record. It owns all license and device state.
type Order struct {
	OrderNo          string          `json:"order_no" db:"order_no" validate:"required"`
	Status           OrderStatus     `json:"status" db:"status" validate:"required"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	ProductID        string          `json:"product_id" db:"product_id" validate:"required"`
	ProductName      string          `json:"product_name,omitempty" db:"product_name"`
	UserEmail        string          `json:"user_email" db:"user_email" validate:"required,email"`
	MaxDevices       int             `json:"max_devices" db:"max_devices" validate:"min=1"`
	ActivatedDevices []string        `json:"activated_devices" db:"-"`
	LicenseKey       string          `json:"license_key,omitempty" db:"license_key"`
	GatewayTradeRef  string          `json:"gateway_trade_ref,omitempty" db:"gateway_trade_ref"`
	PaymentMethod    string          `json:"payment_method,omitempty" db:"payment_method"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPaid reports whether the order has completed payment
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// HasDevice reports whether deviceID is bound to the order's license
func (o *Order) HasDevice(deviceID string) bool {
	return slices.Contains(o.ActivatedDevices, deviceID)
}

// DeviceCount returns the number of bound devices
func (o *Order) DeviceCount() int {
	return len(o.ActivatedDevices)
}

// Clone returns a deep copy safe to hand out of a store
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.ActivatedDevices = slices.Clone(o.ActivatedDevices)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// PaymentUpdate carries the fields written by the pending to paid transition
type PaymentUpdate struct {
	LicenseKey      string
	GatewayTradeRef string
	PaymentMethod   string
	PaidAt          time.Time
}

// MinorUnits converts an amount to integer minor units. ok is false when the
// amount carries more precision than the currency allows or does not fit in
// an int64.
func MinorUnits(amount decimal.Decimal) (units int64, ok bool) {
	shifted := amount.Shift(MinorUnitExponent)
	if !shifted.IsInteger() {
		return 0, false
	}
	n := shifted.BigInt()
	if !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

// AmountsEqual compares two amounts in minor units with zero tolerance.
// Both must be whole minor units; magnitude is unbounded.
func AmountsEqual(a, b decimal.Decimal) bool {
	sa, sb := a.Shift(MinorUnitExponent), b.Shift(MinorUnitExponent)
	return sa.IsInteger() && sb.IsInteger() && sa.Equal(sb)
}
