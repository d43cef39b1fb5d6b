package dhl

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	// RejectCredentials answers that many calls with a 401 rejection.
	RejectCredentials int32

	OnGetRates       func(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error)
	OnCreateShipment func(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error)

	rejected atomic.Int32
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// GetRates returns mock DHL products.
func (m *MockAPIClient) GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error) {
	if err := m.simulate(ctx, shipper.KindRateUnavailable); err != nil {
		return nil, err
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, cred, req)
	}

	now := time.Now()
	return &RateResponse{
		Products: []Product{
			{
				ProductName: "EXPRESS WORLDWIDE",
				ProductCode: "P",
				TotalPrice:  []Price{{CurrencyType: "BILLC", PriceCurrency: "USD", Price: 142.37}},
				DeliveryCapabilities: DeliveryCapabilities{
					EstimatedDeliveryDateAndTime: now.AddDate(0, 0, 3).Format(deliveryLayout),
					TotalTransitDays:             3,
				},
			},
			{
				ProductName: "EXPRESS 12:00",
				ProductCode: "Y",
				TotalPrice:  []Price{{CurrencyType: "BILLC", PriceCurrency: "USD", Price: 171.05}},
				DeliveryCapabilities: DeliveryCapabilities{
					EstimatedDeliveryDateAndTime: now.AddDate(0, 0, 2).Format(deliveryLayout),
					TotalTransitDays:             2,
				},
			},
		},
	}, nil
}

// CreateShipment creates a mock shipment with one tracking number per package.
func (m *MockAPIClient) CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx, shipper.KindBookingRejected); err != nil {
		return nil, err
	}

	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, cred, req)
	}

	trackingNumber := fmt.Sprintf("%010d", time.Now().UnixNano()%10000000000)
	resp := &ShipmentResponse{
		ShipmentTrackingNumber:     trackingNumber,
		TrackingURL:                fmt.Sprintf(trackingURLFormat, trackingNumber),
		DispatchConfirmationNumber: "PRG" + uuid.New().String()[:8],
		Documents: []Document{{
			ImageFormat: "PDF",
			Content:     base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock label")),
			TypeCode:    "label",
		}},
	}
	for i := range req.Content.Packages {
		resp.Packages = append(resp.Packages, ShipmentPackage{
			ReferenceNumber: i + 1,
			TrackingNumber:  fmt.Sprintf("JD%018d", time.Now().UnixNano()%1000000000+int64(i)),
		})
	}
	return resp, nil
}

func (m *MockAPIClient) simulate(ctx context.Context, kind shipper.ErrorKind) error {
	if m.SimulateLatency > 0 {
		select {
		case <-ctx.Done():
			return shipper.NewCarrierAPIError(carrierName, shipper.KindTimeout, "mock call cancelled").
				WithCause(ctx.Err()).
				WithOutcomeUnknown(true)
		case <-time.After(m.SimulateLatency):
		}
	}

	if m.rejected.Load() < m.RejectCredentials {
		m.rejected.Add(1)
		return shipper.NewAuthError(carrierName, "Unauthorized").
			WithRejected(true).
			WithStatusCode(http.StatusUnauthorized)
	}

	if m.SimulateErrors {
		return shipper.NewCarrierAPIError(carrierName, kind, "Simulated API error").
			WithStatusCode(http.StatusBadRequest)
	}
	return nil
}

// Ensure MockAPIClient implements APIClient.
var _ APIClient = (*MockAPIClient)(nil)
