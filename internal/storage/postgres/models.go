package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"wzslicense/pkg/contracts/domain"
)

type orderModel struct {
	OrderNo         string          `gorm:"column:order_no;primaryKey"`
	Status          string          `gorm:"column:status"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(12,2)"`
	ProductID       string          `gorm:"column:product_id"`
	ProductName     string          `gorm:"column:product_name"`
	UserEmail       string          `gorm:"column:user_email"`
	MaxDevices      int             `gorm:"column:max_devices"`
	LicenseKey      *string         `gorm:"column:license_key"`
	GatewayTradeRef string          `gorm:"column:gateway_trade_ref"`
	PaymentMethod   string          `gorm:"column:payment_method"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	PaidAt          *time.Time      `gorm:"column:paid_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

type orderDeviceModel struct {
	OrderNo  string    `gorm:"column:order_no;primaryKey"`
	DeviceID string    `gorm:"column:device_id;primaryKey"`
	BoundAt  time.Time `gorm:"column:bound_at"`
}

func (orderDeviceModel) TableName() string { return "order_devices" }

func toOrderModel(o *domain.Order) orderModel {
	m := orderModel{
		OrderNo:         o.OrderNo,
		Status:          string(o.Status),
		Amount:          o.Amount.Round(domain.MinorUnitExponent),
		ProductID:       o.ProductID,
		ProductName:     o.ProductName,
		UserEmail:       o.UserEmail,
		MaxDevices:      o.MaxDevices,
		GatewayTradeRef: o.GatewayTradeRef,
		PaymentMethod:   o.PaymentMethod,
		CreatedAt:       o.CreatedAt.UTC(),
		PaidAt:          o.PaidAt,
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
	if o.LicenseKey != "" {
		key := o.LicenseKey
		m.LicenseKey = &key
	}
	return m
}

func (m orderModel) toDomain(devices []string) *domain.Order {
	o := &domain.Order{
		OrderNo:          m.OrderNo,
		Status:           domain.OrderStatus(m.Status),
		Amount:           m.Amount,
		ProductID:        m.ProductID,
		ProductName:      m.ProductName,
		UserEmail:        m.UserEmail,
		MaxDevices:       m.MaxDevices,
		ActivatedDevices: devices,
		GatewayTradeRef:  m.GatewayTradeRef,
		PaymentMethod:    m.PaymentMethod,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	if m.LicenseKey != nil {
		o.LicenseKey = *m.LicenseKey
	}
	if m.PaidAt != nil {
		t := m.PaidAt.UTC()
		o.PaidAt = &t
	}
	return o
}
