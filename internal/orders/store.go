package orders

import (
	"context"

	"wzslicense/pkg/contracts/domain"
)

// Store is the persistence contract for orders. Implementations must make
// MarkPaid, AddDevice and RemoveDevice single atomic conditional writes; the
// core never locks in process across a store call.
//
// Lookups return an error matching apperrors.ErrNotFound when nothing matches.
type Store interface {
	// Create inserts a new pending order.
	Create(ctx context.Context, order *domain.Order) error

	GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error)
	GetByLicenseKey(ctx context.Context, licenseKey string) (*domain.Order, error)

	// MarkPaid moves the order from pending to paid and stores the license
	// key in the same write. It reports false when the stored status was not
	// pending at write time.
	MarkPaid(ctx context.Context, orderNo string, update domain.PaymentUpdate) (bool, error)

	// AddDevice adds deviceID to the order's device set unless it is already
	// present or the set already holds max_devices entries.
	AddDevice(ctx context.Context, orderNo, deviceID string) (DeviceSetResult, error)

	// RemoveDevice removes deviceID from the order's device set if present.
	// When requiredMember is not empty the removal only happens while
	// requiredMember is still in the set; otherwise Denied is reported and
	// nothing changes.
	RemoveDevice(ctx context.Context, orderNo, deviceID, requiredMember string) (DeviceSetResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// DeviceSetResult reports the outcome of an atomic device set mutation
type DeviceSetResult struct {
	// Changed is true when the set was modified by this call.
	Changed bool
	// Denied is true when RemoveDevice's requiredMember was not in the set.
	Denied bool
	// Member reports whether the device is in the set after the call.
	Member bool
	// Count is the set size after the call.
	Count int
	// Limit is the order's max_devices.
	Limit int
}
