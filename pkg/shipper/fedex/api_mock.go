package fedex

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

// GetRates returns mock FedEx rate reply details.
func (m *MockAPIClient) GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error) {
	if err := m.simulate(ctx, shipper.KindRateUnavailable); err != nil {
		return nil, err
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, cred, req)
	}

	now := time.Now()
	return &RateResponse{
		TransactionID: uuid.New().String(),
		Output: &RateOutput{RateReplyDetails: []RateReplyDetail{
			{
				ServiceType:          "INTERNATIONAL_PRIORITY",
				ServiceName:          "FedEx International Priority",
				RatedShipmentDetails: []RatedShipmentDetail{{RateType: "ACCOUNT", TotalNetCharge: 156.42, Currency: "USD"}},
				Commit: &Commit{
					DateDetail:  &DateDetail{DayFormat: now.AddDate(0, 0, 3).Format(commitLayout)},
					TransitDays: &TransitDays{MinimumTransitTime: "THREE_DAYS"},
				},
			},
			{
				ServiceType:          "INTERNATIONAL_ECONOMY",
				ServiceName:          "FedEx International Economy",
				RatedShipmentDetails: []RatedShipmentDetail{{RateType: "ACCOUNT", TotalNetCharge: 98.10, Currency: "USD"}},
				Commit: &Commit{
					DateDetail:  &DateDetail{DayFormat: now.AddDate(0, 0, 6).Format(commitLayout)},
					TransitDays: &TransitDays{MinimumTransitTime: "SIX_DAYS"},
				},
			},
		}},
	}, nil
}

// CreateShipment creates a mock shipment with one piece per line item.
func (m *MockAPIClient) CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx, shipper.KindBookingRejected); err != nil {
		return nil, err
	}

	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, cred, req)
	}

	master := fmt.Sprintf("7%011d", time.Now().UnixNano()%100000000000)
	label := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock label"))

	shipment := TransactionShipment{
		MasterTrackingNumber: master,
		ServiceType:          req.RequestedShipment.ServiceType,
		ShipDatestamp:        req.RequestedShipment.ShipDatestamp,
	}
	for i, item := range req.RequestedShipment.RequestedPackageLineItems {
		tracking := master
		if i > 0 {
			tracking = fmt.Sprintf("%s%02d", master[:10], i)
		}
		shipment.PieceResponses = append(shipment.PieceResponses, PieceResponse{
			MasterTrackingNumber:  master,
			TrackingNumber:        tracking,
			PackageSequenceNumber: item.SequenceNumber,
			PackageDocuments:      []PackageDocument{{ContentType: "LABEL", DocType: "PDF", EncodedLabel: label}},
		})
	}

	return &ShipmentResponse{
		TransactionID: uuid.New().String(),
		Output:        ShipmentOutput{TransactionShipments: []TransactionShipment{shipment}},
	}, nil
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
		return shipper.NewAuthError(carrierName, "NOT.AUTHORIZED.ERROR").
			WithRejected(true).
			WithStatusCode(http.StatusUnauthorized)
	}

	if m.SimulateErrors {
		return shipper.NewCarrierAPIError(carrierName, kind, "Simulated API error").
			WithCode("MOCK.ERROR").
			WithStatusCode(http.StatusBadRequest)
	}
	return nil
}

// Ensure MockAPIClient implements APIClient.
var _ APIClient = (*MockAPIClient)(nil)
