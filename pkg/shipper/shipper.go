// Package shipper provides an abstraction layer for shipping carriers.
package shipper

import (
	"context"
)

// Carrier names known to the bridge.
const (
	CarrierDHL   = "dhl"
	CarrierFedEx = "fedex"
)

// Shipper defines the interface that all shipping carriers must implement.
type Shipper interface {
	// Name returns the carrier identifier (e.g., "dhl", "fedex").
	Name() string

	// GetRates returns priced service options for a shipment.
	GetRates(ctx context.Context, req *ShipmentRequest) ([]RateQuote, error)

	// BookShipment books the shipment with the carrier.
	BookShipment(ctx context.Context, req *ShipmentRequest) (*BookingResult, error)
}

// Transformer converts between the canonical model and a carrier's wire
// forms. RQ/RS are the rate request/response and BQ/BS the booking
// request/response wire types.
type Transformer[RQ, RS, BQ, BS any] interface {
	ToRateRequest(req *ShipmentRequest) (RQ, error)
	FromRateResponse(resp RS) ([]RateQuote, error)
	ToBookingRequest(req *ShipmentRequest) (BQ, error)
	FromBookingResponse(resp BS) (*BookingResult, error)
}
