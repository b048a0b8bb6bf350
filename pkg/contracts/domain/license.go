package domain

import (
	"time"
)

// LicenseActivationRequest represents a license activation request
type LicenseActivationRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=10"`
	DeviceID   string `json:"deviceId" validate:"required,max=256,deviceid"`
}

// LicenseActivationResponse represents a license activation response
type LicenseActivationResponse struct {
	Success          bool       `json:"success"`
	Message          string     `json:"message"`
	Reason           string     `json:"reason,omitempty"`
	AlreadyActivated bool       `json:"alreadyActivated"`
	UserEmail        string     `json:"userEmail,omitempty"`
	ProductID        string     `json:"productId,omitempty"`
	PurchaseDate     *time.Time `json:"purchaseDate,omitempty"`
	ActivationDate   time.Time  `json:"activationDate"`
	CurrentDevices   int        `json:"currentDevices"`
	MaxDevices       int        `json:"maxDevices"`
}

// DeviceListRequest identifies the license and the calling device
type DeviceListRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=10"`
	DeviceID   string `json:"deviceId" validate:"required,max=256,deviceid"`
}

// DeviceDeactivationRequest asks a bound device to remove another bound device
type DeviceDeactivationRequest struct {
	LicenseKey     string `json:"licenseKey" validate:"required,min=10"`
	DeviceID       string `json:"deviceId" validate:"required,max=256,deviceid"`
	TargetDeviceID string `json:"targetDeviceId" validate:"required,max=256,deviceid"`
}

// DeviceReleaseRequest asks a bound device to release its own slot
type DeviceReleaseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=10"`
	DeviceID   string `json:"deviceId" validate:"required,max=256,deviceid"`
}

// DeviceInfo describes one bound device in a device list
type DeviceInfo struct {
	DeviceID        string `json:"deviceId"`
	DeviceName      string `json:"deviceName"`
	IsCurrentDevice bool   `json:"isCurrentDevice"`
}

// DeviceList is the management view of a license
type DeviceList struct {
	MaskedLicenseKey string       `json:"licenseKey"`
	ProductID        string       `json:"productId"`
	Devices          []DeviceInfo `json:"devices"`
	CurrentDevices   int          `json:"currentDevices"`
	MaxDevices       int          `json:"maxDevices"`
	CurrentDeviceID  string       `json:"currentDeviceId"`
}

// DeviceListResponse wraps a device list, or the reason it was refused
type DeviceListResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	*DeviceList
}

// DeviceMutationResponse is returned by deactivate and release
type DeviceMutationResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Reason         string `json:"reason,omitempty"`
	CurrentDevices int    `json:"currentDevices"`
	MaxDevices     int    `json:"maxDevices"`
}

// Reason codes returned to clients. They separate outcomes that need no action
// from ones the user can fix and ones that need support.
const (
	ReasonAlreadyActivated   = "already_activated"
	ReasonDuplicate          = "duplicate"
	ReasonLicenseNotFound    = "license_not_found"
	ReasonLicenseNotActive   = "license_not_active"
	ReasonDeviceLimitReached = "device_limit_reached"
	ReasonUnauthorizedDevice = "unauthorized_device"
	ReasonCannotTargetSelf   = "cannot_target_self"
	ReasonDeviceNotBound     = "device_not_bound"
	ReasonOrderNotFound      = "order_not_found"
	ReasonInvalidState       = "invalid_state"
	ReasonAmountMismatch     = "amount_mismatch"
	ReasonInvalidSignature   = "invalid_signature"
)

// CreateOrderRequest starts a purchase
type CreateOrderRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Email     string `json:"email" validate:"required,email"`
}

// CreateOrderResponse carries the payment redirect for a new order
type CreateOrderResponse struct {
	OrderNo    string `json:"orderNo"`
	ProductID  string `json:"productId"`
	Amount     string `json:"amount"`
	MaxDevices int    `json:"maxDevices"`
	PayURL     string `json:"payUrl"`
}

// OrderStatusResponse reports payment progress for an order
type OrderStatusResponse struct {
	OrderNo   string `json:"orderNo"`
	Status    string `json:"status"`
	Paid      bool   `json:"paid"`
	ProductID string `json:"productId"`
	Amount    string `json:"amount"`
	// MaskedLicenseKey shows that a key was issued without revealing it;
	// the key itself only travels in the license email.
	MaskedLicenseKey string     `json:"maskedLicenseKey,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
}
