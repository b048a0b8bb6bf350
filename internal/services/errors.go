package services

import (
	"net/http"

	"wzslicense/pkg/contracts/domain"
)

// reasonMessages are the user facing texts for each reason code
var reasonMessages = map[string]string{
	domain.ReasonAlreadyActivated:   "This device is already activated",
	domain.ReasonDuplicate:          "Already processed",
	domain.ReasonLicenseNotFound:    "License key not found",
	domain.ReasonLicenseNotActive:   "License is not active yet. Complete payment first.",
	domain.ReasonDeviceLimitReached: "Device limit reached. Deactivate another device first.",
	domain.ReasonUnauthorizedDevice: "This device is not activated for the license",
	domain.ReasonCannotTargetSelf:   "Use release to remove the current device",
	domain.ReasonDeviceNotBound:     "Device is not activated for the license",
	domain.ReasonOrderNotFound:      "Order not found",
	domain.ReasonInvalidState:       "Order is not in a payable state",
	domain.ReasonAmountMismatch:     "Payment amount does not match the order. Please contact support.",
	domain.ReasonInvalidSignature:   "Invalid signature. Please contact support.",
}

// ReasonMessage returns the user facing text for a reason code
func ReasonMessage(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return "Request could not be completed"
}

// ReasonStatus maps a reason code to the HTTP status of a refused request
func ReasonStatus(reason string) int {
	switch reason {
	case "", domain.ReasonAlreadyActivated, domain.ReasonDuplicate:
		return http.StatusOK
	case domain.ReasonLicenseNotFound, domain.ReasonOrderNotFound:
		return http.StatusNotFound
	case domain.ReasonUnauthorizedDevice:
		return http.StatusForbidden
	case domain.ReasonAmountMismatch:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
