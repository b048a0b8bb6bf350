package domain

import "github.com/shopspring/decimal"

// Product is a purchasable catalog entry
type Product struct {
	ID         string          `json:"id" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	MaxDevices int             `json:"max_devices" validate:"min=1"`
}
