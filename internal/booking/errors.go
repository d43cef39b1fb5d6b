package booking

import (
	"errors"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// Error codes reported to API callers.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyBooked      = "ALREADY_BOOKED"
	CodeOutcomeUnknown     = "OUTCOME_UNKNOWN"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeUnsupportedCarrier = "UNSUPPORTED_CARRIER"
	CodeNotConfigured      = "NOT_CONFIGURED"
	CodeSyncFailed         = "SYNC_FAILED"
	CodeCarrierTimeout     = "CARRIER_TIMEOUT"
	CodeCarrierUnreachable = "CARRIER_UNREACHABLE"
	CodeCarrierError       = "CARRIER_ERROR"
	CodeAuthentication     = "AUTHENTICATION_FAILED"
	CodeInvalidResponse    = "CARRIER_RESPONSE_INVALID"
	CodeInternal           = "INTERNAL"
)

// ErrorCode classifies err for API callers. Orchestrator states are checked
// before carrier errors because a booking error may wrap both.
func ErrorCode(err error) string {
	var apiErr *shipper.CarrierAPIError
	switch {
	case errors.Is(err, shipper.ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyBooked):
		return CodeAlreadyBooked
	case errors.Is(err, ErrOutcomeUnknown):
		return CodeOutcomeUnknown
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrSyncFailed):
		return CodeSyncFailed
	case errors.Is(err, ErrNoShipmentSource):
		return CodeNotConfigured
	case errors.Is(err, shipper.ErrCarrierNotFound):
		return CodeUnsupportedCarrier
	case errors.Is(err, shipper.ErrAuthenticationFailed):
		return CodeAuthentication
	case errors.Is(err, shipper.ErrResponseParse):
		return CodeInvalidResponse
	case errors.As(err, &apiErr) && apiErr.Kind == shipper.KindTimeout:
		return CodeCarrierTimeout
	case shipper.IsOutcomeUnknown(err):
		return CodeOutcomeUnknown
	case errors.As(err, &apiErr) && apiErr.Kind == shipper.KindUnreachable:
		return CodeCarrierUnreachable
	case errors.Is(err, shipper.ErrCarrierAPI):
		return CodeCarrierError
	}
	return CodeInternal
}
