// Package erpsync forwards booked shipments to the downstream order system.
package erpsync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/carrierbridge/internal/booking"
)

// Event types published downstream.
const (
	EventBooked = "shipment.booked"
	EventManual = "shipment.manual_required"
)

const source = "carrierbridge"

// Event is the envelope of every downstream message.
type Event struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Version     int             `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	Data        json.RawMessage `json:"data"`
}

// Shipment is the payload of a booking event. Label and document content
// stays in the archive.
type Shipment struct {
	BookingID              string    `json:"booking_id"`
	Reference              string    `json:"reference"`
	OrderID                string    `json:"order_id,omitempty"`
	Carrier                string    `json:"carrier"`
	ServiceCode            string    `json:"service_code,omitempty"`
	TrackingNumber         string    `json:"tracking_number,omitempty"`
	PackageTrackingNumbers []string  `json:"package_tracking_numbers,omitempty"`
	TrackingURL            string    `json:"tracking_url,omitempty"`
	DispatchReference      string    `json:"dispatch_reference,omitempty"`
	DocumentCount          int       `json:"document_count"`
	Manual                 bool      `json:"manual"`
	BookedAt               time.Time `json:"booked_at"`
}

// NewEvent builds the event announcing b. Bookings without a carrier
// confirmation are announced as requiring manual processing.
func NewEvent(b *booking.Booking) (*Event, error) {
	payload := Shipment{
		BookingID: b.ID,
		Reference: b.Reference,
		OrderID:   b.OrderID,
		Carrier:   b.Carrier,
		Manual:    b.Manual(),
		BookedAt:  b.UpdatedAt.UTC(),
	}
	if b.Request != nil {
		payload.ServiceCode = b.Request.ServiceCode
	}
	if r := b.Result; r != nil {
		payload.TrackingNumber = r.TrackingNumber
		payload.PackageTrackingNumbers = r.PackageTrackingNumbers
		payload.TrackingURL = r.TrackingURL
		payload.DispatchReference = r.DispatchReference
		payload.DocumentCount = len(r.Documents)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	eventType := EventBooked
	if payload.Manual {
		eventType = EventManual
	}

	return &Event{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: b.Reference,
		Version:     1,
		Timestamp:   time.Now().UTC(),
		Source:      source,
		Data:        data,
	}, nil
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Shipment decodes the event payload.
func (e *Event) Shipment() (*Shipment, error) {
	var s Shipment
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
