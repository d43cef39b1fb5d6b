// Package booking runs shipments through the carrier booking lifecycle and
// forwards booked shipments downstream.
package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// Transition is one entry of a booking's history.
type Transition struct {
	From   State     `json:"from,omitempty"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Booking is the lifecycle record of one shipment booking attempt.
type Booking struct {
	ID        string                   `json:"id"`
	Reference string                   `json:"reference"`
	Carrier   string                   `json:"carrier"`
	OrderID   string                   `json:"orderId,omitempty"`
	State     State                    `json:"state"`
	Request   *shipper.ShipmentRequest `json:"request"`
	Result    *shipper.BookingResult   `json:"result,omitempty"`
	LastError string                   `json:"lastError,omitempty"`
	History   []Transition             `json:"history"`
	CreatedAt time.Time                `json:"createdAt"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

func newBooking(req *shipper.ShipmentRequest, now time.Time) *Booking {
	return &Booking{
		ID:        uuid.NewString(),
		Reference: req.Reference,
		Carrier:   req.Carrier,
		OrderID:   req.OrderID,
		State:     StateReviewCompleted,
		Request:   req,
		History:   []Transition{{To: StateReviewCompleted, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the booking to state and appends the move to its history.
func (b *Booking) Transition(to State, at time.Time, reason string) error {
	if !b.State.CanTransition(to) {
		return &TransitionError{From: b.State, To: to}
	}
	b.History = append(b.History, Transition{From: b.State, To: to, At: at, Reason: reason})
	b.State = to
	b.UpdatedAt = at
	return nil
}

// Manual reports whether the booking bypassed the carrier API and needs
// offline processing.
func (b *Booking) Manual() bool {
	return b.Result.IsEmpty()
}

// Clone returns a deep copy of the mutable parts of b.
func (b *Booking) Clone() *Booking {
	c := *b
	c.History = append([]Transition(nil), b.History...)
	if b.Result != nil {
		r := *b.Result
		c.Result = &r
	}
	return &c
}
