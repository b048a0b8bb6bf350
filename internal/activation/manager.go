// Package activation binds devices to paid licenses under the per-license
// device cap. All set mutations go through the store's atomic primitives.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apierrors "wzslicense/internal/errors"
	"wzslicense/internal/infrastructure"
	"wzslicense/internal/license"
	"wzslicense/internal/orders"
	"wzslicense/pkg/contracts/domain"
)

// KeyValidator checks the shape of a license key before any lookup
type KeyValidator interface {
	ValidFormat(key string) bool
}

// ActivationResult is the definitive outcome of Activate. Reason is empty
// when the device is bound after the call.
type ActivationResult struct {
	Activated        bool
	AlreadyActivated bool
	Reason           string
	Order            *domain.Order
	ActivatedAt      time.Time
	CurrentDevices   int
	MaxDevices       int
}

// DeactivationResult is the definitive outcome of Deactivate and Release
type DeactivationResult struct {
	Removed        bool
	Reason         string
	CurrentDevices int
	MaxDevices     int
}

// DeviceListResult carries either a device list or the reason it was refused
type DeviceListResult struct {
	Reason string
	List   *domain.DeviceList
}

// Manager implements device activation, listing and revocation
type Manager struct {
	store     orders.Store
	validator KeyValidator
	metrics   *infrastructure.BusinessMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a manager. validator may be nil to skip the shape check.
func NewManager(store orders.Store, validator KeyValidator, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		validator: validator,
		metrics:   metrics,
		logger:    infrastructure.WithComponent(logger, "activation_manager"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Activate binds deviceID to the license. Binding an already bound device is
// a no-op success.
func (m *Manager) Activate(ctx context.Context, licenseKey, deviceID string) (ActivationResult, error) {
	key, deviceID, err := m.normalize(licenseKey, deviceID)
	if err != nil {
		return ActivationResult{}, err
	}
	log := m.logger.With(slog.String("license", license.MaskLicenseKey(key)))

	order, reason, err := m.lookup(ctx, key)
	if err != nil {
		return ActivationResult{}, err
	}
	if reason != "" {
		m.recordActivation(ctx, reason)
		return ActivationResult{Reason: reason}, nil
	}
	if !order.IsPaid() {
		m.recordActivation(ctx, domain.ReasonLicenseNotActive)
		return ActivationResult{Reason: domain.ReasonLicenseNotActive, Order: order}, nil
	}

	result := ActivationResult{Order: order, ActivatedAt: m.now(), MaxDevices: order.MaxDevices}

	if order.HasDevice(deviceID) {
		result.Activated = true
		result.AlreadyActivated = true
		result.CurrentDevices = order.DeviceCount()
		m.recordActivation(ctx, domain.ReasonAlreadyActivated)
		return result, nil
	}

	set, err := m.store.AddDevice(ctx, order.OrderNo, deviceID)
	if err != nil {
		return ActivationResult{}, fmt.Errorf("add device to order %s: %w", order.OrderNo, err)
	}
	result.CurrentDevices = set.Count
	result.MaxDevices = set.Limit

	switch {
	case set.Changed:
		result.Activated = true
		log.InfoContext(ctx, "device activated",
			slog.Int("current_devices", set.Count),
			slog.Int("max_devices", set.Limit))
		m.recordActivation(ctx, "activated")
	case set.Member:
		// a concurrent request for the same device won
		result.Activated = true
		result.AlreadyActivated = true
		m.recordActivation(ctx, domain.ReasonAlreadyActivated)
	default:
		result.Reason = domain.ReasonDeviceLimitReached
		log.WarnContext(ctx, "device limit reached",
			slog.Int("current_devices", set.Count),
			slog.Int("max_devices", set.Limit))
		m.recordActivation(ctx, domain.ReasonDeviceLimitReached)
	}
	return result, nil
}

// Deactivate lets a bound device remove another bound device
func (m *Manager) Deactivate(ctx context.Context, licenseKey, requestingDeviceID, targetDeviceID string) (DeactivationResult, error) {
	key, requestingDeviceID, err := m.normalize(licenseKey, requestingDeviceID)
	if err != nil {
		return DeactivationResult{}, err
	}
	targetDeviceID = strings.TrimSpace(targetDeviceID)
	if targetDeviceID == "" {
		return DeactivationResult{}, apierrors.NewAppValidationError("targetDeviceId is required")
	}

	if requestingDeviceID == targetDeviceID {
		m.recordDeactivation(ctx, "deactivate", domain.ReasonCannotTargetSelf)
		return DeactivationResult{Reason: domain.ReasonCannotTargetSelf}, nil
	}

	order, reason, err := m.lookup(ctx, key)
	if err != nil {
		return DeactivationResult{}, err
	}
	if reason != "" {
		m.recordDeactivation(ctx, "deactivate", reason)
		return DeactivationResult{Reason: reason}, nil
	}

	result := DeactivationResult{CurrentDevices: order.DeviceCount(), MaxDevices: order.MaxDevices}
	if !order.HasDevice(requestingDeviceID) {
		m.logger.WarnContext(ctx, "deactivation from unbound device",
			slog.String("license", license.MaskLicenseKey(key)))
		result.Reason = domain.ReasonUnauthorizedDevice
		m.recordDeactivation(ctx, "deactivate", result.Reason)
		return result, nil
	}
	if !order.HasDevice(targetDeviceID) {
		result.Reason = domain.ReasonDeviceNotBound
		m.recordDeactivation(ctx, "deactivate", result.Reason)
		return result, nil
	}

	return m.remove(ctx, "deactivate", order, targetDeviceID, requestingDeviceID)
}

// Release lets a bound device give up its own slot
func (m *Manager) Release(ctx context.Context, licenseKey, deviceID string) (DeactivationResult, error) {
	key, deviceID, err := m.normalize(licenseKey, deviceID)
	if err != nil {
		return DeactivationResult{}, err
	}

	order, reason, err := m.lookup(ctx, key)
	if err != nil {
		return DeactivationResult{}, err
	}
	if reason != "" {
		m.recordDeactivation(ctx, "release", reason)
		return DeactivationResult{Reason: reason}, nil
	}
	if !order.HasDevice(deviceID) {
		m.recordDeactivation(ctx, "release", domain.ReasonDeviceNotBound)
		return DeactivationResult{
			Reason:         domain.ReasonDeviceNotBound,
			CurrentDevices: order.DeviceCount(),
			MaxDevices:     order.MaxDevices,
		}, nil
	}

	return m.remove(ctx, "release", order, deviceID, "")
}

// remove deletes deviceID. A non-empty requester must still be bound when the
// store applies the removal, not only when the order was read.
func (m *Manager) remove(ctx context.Context, op string, order *domain.Order, deviceID, requester string) (DeactivationResult, error) {
	set, err := m.store.RemoveDevice(ctx, order.OrderNo, deviceID, requester)
	if err != nil {
		return DeactivationResult{}, fmt.Errorf("remove device from order %s: %w", order.OrderNo, err)
	}

	result := DeactivationResult{CurrentDevices: set.Count, MaxDevices: set.Limit}
	if set.Denied {
		m.logger.WarnContext(ctx, "requesting device unbound before removal applied",
			slog.String("op", op),
			slog.String("license", license.MaskLicenseKey(order.LicenseKey)))
		result.Reason = domain.ReasonUnauthorizedDevice
		m.recordDeactivation(ctx, op, result.Reason)
		return result, nil
	}
	if !set.Changed {
		// removed concurrently between the read and the write
		result.Reason = domain.ReasonDeviceNotBound
		m.recordDeactivation(ctx, op, result.Reason)
		return result, nil
	}

	result.Removed = true
	m.logger.InfoContext(ctx, "device removed",
		slog.String("op", op),
		slog.String("license", license.MaskLicenseKey(order.LicenseKey)),
		slog.Int("current_devices", set.Count))
	m.recordDeactivation(ctx, op, "removed")
	return result, nil
}

// ListDevices returns the device list to a device bound to the license
func (m *Manager) ListDevices(ctx context.Context, licenseKey, deviceID string) (DeviceListResult, error) {
	key, deviceID, err := m.normalize(licenseKey, deviceID)
	if err != nil {
		return DeviceListResult{}, err
	}

	order, reason, err := m.lookup(ctx, key)
	if err != nil {
		return DeviceListResult{}, err
	}
	if reason != "" {
		return DeviceListResult{Reason: reason}, nil
	}
	if !order.HasDevice(deviceID) {
		return DeviceListResult{Reason: domain.ReasonUnauthorizedDevice}, nil
	}

	devices := make([]domain.DeviceInfo, 0, len(order.ActivatedDevices))
	for i, id := range order.ActivatedDevices {
		devices = append(devices, domain.DeviceInfo{
			DeviceID:        id,
			DeviceName:      fmt.Sprintf("device %d", i+1),
			IsCurrentDevice: id == deviceID,
		})
	}

	return DeviceListResult{List: &domain.DeviceList{
		MaskedLicenseKey: license.MaskLicenseKey(order.LicenseKey),
		ProductID:        order.ProductID,
		Devices:          devices,
		CurrentDevices:   len(devices),
		MaxDevices:       order.MaxDevices,
		CurrentDeviceID:  deviceID,
	}}, nil
}

func (m *Manager) normalize(licenseKey, deviceID string) (string, string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", "", apierrors.NewAppValidationError("deviceId is required")
	}
	key := license.NormalizeKey(licenseKey)
	if key == "" {
		return "", "", apierrors.NewAppValidationError("licenseKey is required")
	}
	return key, deviceID, nil
}

// lookup resolves the order for key. A definitive miss is returned as a
// reason; a key that could never have been issued is simply not found.
func (m *Manager) lookup(ctx context.Context, key string) (*domain.Order, string, error) {
	if m.validator != nil && !m.validator.ValidFormat(key) {
		return nil, domain.ReasonLicenseNotFound, nil
	}
	order, err := m.store.GetByLicenseKey(ctx, key)
	if err != nil {
		if errors.Is(err, apierrors.ErrNotFound) {
			return nil, domain.ReasonLicenseNotFound, nil
		}
		return nil, "", fmt.Errorf("lookup license: %w", err)
	}
	return order, "", nil
}

func (m *Manager) recordActivation(ctx context.Context, result string) {
	infrastructure.RecordDeviceActivation(ctx, m.metrics, result)
}

func (m *Manager) recordDeactivation(ctx context.Context, op, result string) {
	infrastructure.RecordDeviceDeactivation(ctx, m.metrics, op, result)
}
