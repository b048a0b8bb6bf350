package services

import (
	"context"
	"log/slog"

	"wzslicense/internal/activation"
	"wzslicense/pkg/contracts/domain"
)

// DeviceManager is the activation core used by LicenseService
type DeviceManager interface {
	Activate(ctx context.Context, licenseKey, deviceID string) (activation.ActivationResult, error)
	Deactivate(ctx context.Context, licenseKey, requestingDeviceID, targetDeviceID string) (activation.DeactivationResult, error)
	Release(ctx context.Context, licenseKey, deviceID string) (activation.DeactivationResult, error)
	ListDevices(ctx context.Context, licenseKey, deviceID string) (activation.DeviceListResult, error)
}

// LicenseService exposes license activation and device management to clients.
// Refusals come back as responses with Success false and a reason code;
// errors are reserved for invalid input and faults.
type LicenseService interface {
	Activate(ctx context.Context, req domain.LicenseActivationRequest) (*domain.LicenseActivationResponse, error)
	ListDevices(ctx context.Context, req domain.DeviceListRequest) (*domain.DeviceListResponse, error)
	Deactivate(ctx context.Context, req domain.DeviceDeactivationRequest) (*domain.DeviceMutationResponse, error)
	Release(ctx context.Context, req domain.DeviceReleaseRequest) (*domain.DeviceMutationResponse, error)
}

type licenseService struct {
	manager DeviceManager
	logger  *slog.Logger
}

// NewLicenseService creates a license service over manager
func NewLicenseService(manager DeviceManager, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager: manager,
		logger:  logger.With(slog.String("service", "license")),
	}
}

// Activate binds the device and reports purchase metadata
func (s *licenseService) Activate(ctx context.Context, req domain.LicenseActivationRequest) (*domain.LicenseActivationResponse, error) {
	res, err := s.manager.Activate(ctx, req.LicenseKey, req.DeviceID)
	if err != nil {
		return nil, err
	}

	resp := &domain.LicenseActivationResponse{
		Success:          res.Reason == "",
		Reason:           res.Reason,
		AlreadyActivated: res.AlreadyActivated,
		ActivationDate:   res.ActivatedAt,
		CurrentDevices:   res.CurrentDevices,
		MaxDevices:       res.MaxDevices,
	}
	switch {
	case res.AlreadyActivated:
		resp.Message = ReasonMessage(domain.ReasonAlreadyActivated)
	case res.Activated:
		resp.Message = "License activated"
	default:
		resp.Message = ReasonMessage(res.Reason)
	}

	// purchase metadata only for devices that hold the license
	if res.Activated && res.Order != nil {
		resp.UserEmail = res.Order.UserEmail
		resp.ProductID = res.Order.ProductID
		resp.PurchaseDate = res.Order.PaidAt
	}
	return resp, nil
}

// ListDevices returns the device list for a bound device
func (s *licenseService) ListDevices(ctx context.Context, req domain.DeviceListRequest) (*domain.DeviceListResponse, error) {
	res, err := s.manager.ListDevices(ctx, req.LicenseKey, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if res.Reason != "" {
		return &domain.DeviceListResponse{Reason: res.Reason, Message: ReasonMessage(res.Reason)}, nil
	}
	return &domain.DeviceListResponse{Success: true, DeviceList: res.List}, nil
}

// Deactivate removes another device from the license
func (s *licenseService) Deactivate(ctx context.Context, req domain.DeviceDeactivationRequest) (*domain.DeviceMutationResponse, error) {
	res, err := s.manager.Deactivate(ctx, req.LicenseKey, req.DeviceID, req.TargetDeviceID)
	if err != nil {
		return nil, err
	}
	return mutationResponse(res, "Device deactivated"), nil
}

// Release removes the calling device from the license
func (s *licenseService) Release(ctx context.Context, req domain.DeviceReleaseRequest) (*domain.DeviceMutationResponse, error) {
	res, err := s.manager.Release(ctx, req.LicenseKey, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return mutationResponse(res, "Device released"), nil
}

func mutationResponse(res activation.DeactivationResult, okMessage string) *domain.DeviceMutationResponse {
	resp := &domain.DeviceMutationResponse{
		Success:        res.Removed,
		Reason:         res.Reason,
		CurrentDevices: res.CurrentDevices,
		MaxDevices:     res.MaxDevices,
	}
	if res.Removed {
		resp.Message = okMessage
	} else {
		resp.Message = ReasonMessage(res.Reason)
	}
	return resp
}
