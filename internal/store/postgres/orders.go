package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// OrderSource resolves reviewed orders to shipment requests.
type OrderSource struct {
	db DBTX
}

// NewOrderSource creates a shipment source reading order_shipments.
func NewOrderSource(db DBTX) *OrderSource {
	return &OrderSource{db: db}
}

// ShipmentRequest returns the shipment recorded for orderID. The order id
// is used as the reference when the stored request carries none.
func (s *OrderSource) ShipmentRequest(ctx context.Context, orderID string) (*shipper.ShipmentRequest, error) {
	var requestJSON []byte
	err := s.db.QueryRow(ctx, `SELECT request FROM order_shipments WHERE order_id = $1`, orderID).Scan(&requestJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", booking.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("get order shipment: %w", err)
	}

	var req shipper.ShipmentRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return nil, fmt.Errorf("unmarshal order shipment %s: %w", orderID, err)
	}
	req.OrderID = orderID
	if req.Reference == "" {
		req.Reference = orderID
	}
	return &req, nil
}

var _ booking.ShipmentSource = (*OrderSource)(nil)
