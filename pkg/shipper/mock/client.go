// Package mock provides a mock shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// Client is a mock shipper for testing.
type Client struct {
	name string

	// RatesErr and BookErr, when set, are returned instead of a result.
	RatesErr error
	BookErr  error

	// OnBook overrides the default booking result.
	OnBook func(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error)

	rateCalls atomic.Int64
	bookCalls atomic.Int64
}

// New creates a new mock shipper.
func New(name string) *Client {
	return &Client{name: name}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return c.name
}

// RateCalls returns how many times GetRates was called.
func (c *Client) RateCalls() int64 {
	return c.rateCalls.Load()
}

// BookCalls returns how many times BookShipment was called.
func (c *Client) BookCalls() int64 {
	return c.bookCalls.Load()
}

// GetRates returns mock shipping rates.
func (c *Client) GetRates(ctx context.Context, req *shipper.ShipmentRequest) ([]shipper.RateQuote, error) {
	c.rateCalls.Add(1)
	if c.RatesErr != nil {
		return nil, c.RatesErr
	}

	standard := req.PlannedShipAt.AddDate(0, 0, 5)
	express := req.PlannedShipAt.AddDate(0, 0, 2)

	return []shipper.RateQuote{
		{
			Carrier:           c.name,
			ServiceCode:       "EXPRESS",
			ServiceName:       fmt.Sprintf("%s Express", c.name),
			TotalPrice:        shipper.Money{Amount: 29.95, Currency: "USD"},
			EstimatedDelivery: &express,
			TransitDays:       2,
		},
		{
			Carrier:           c.name,
			ServiceCode:       "STANDARD",
			ServiceName:       fmt.Sprintf("%s Standard", c.name),
			TotalPrice:        shipper.Money{Amount: 15.82, Currency: "USD"},
			EstimatedDelivery: &standard,
			TransitDays:       5,
		},
	}, nil
}

// BookShipment creates a mock booking with one tracking number per unit package.
func (c *Client) BookShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error) {
	c.bookCalls.Add(1)
	if c.OnBook != nil {
		return c.OnBook(ctx, req)
	}
	if c.BookErr != nil {
		return nil, c.BookErr
	}

	now := time.Now().UnixNano()
	master := fmt.Sprintf("%s%d", c.name, now%1000000000)

	packages := make([]string, req.PackageCount())
	for i := range packages {
		packages[i] = fmt.Sprintf("%s-%d", master, i+1)
	}

	return &shipper.BookingResult{
		Carrier:                c.name,
		TrackingNumber:         master,
		DispatchReference:      fmt.Sprintf("DSP-%d", now%1000000),
		TrackingURL:            fmt.Sprintf("https://track.%s.mock/track/%s", c.name, master),
		PackageTrackingNumbers: packages,
		Documents: []shipper.Document{
			{Format: "PDF", Content: []byte("%PDF-1.4 mock label"), Type: shipper.DocumentLabel},
		},
	}, nil
}

var _ shipper.Shipper = (*Client)(nil)
