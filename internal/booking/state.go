package booking

import (
	"errors"
	"fmt"
)

// State is a booking lifecycle state.
type State string

const (
	StateReviewCompleted   State = "REVIEW_COMPLETED"
	StateBookingInProgress State = "BOOKING_IN_PROGRESS"
	StateBooked            State = "BOOKED"
	StateSyncingDownstream State = "SYNCING_DOWNSTREAM"
	StateComplete          State = "COMPLETE"
	StateBookingFailed     State = "BOOKING_FAILED"
	StateSyncFailed        State = "SYNC_FAILED"
)

// ErrInvalidTransition is returned for a move the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid booking state transition")

// transitions lists the allowed moves. REVIEW_COMPLETED goes straight to
// SYNCING_DOWNSTREAM when the carrier is not integrated and the booking is
// handled manually. BOOKED goes to SYNC_FAILED when the sync cannot start.
var transitions = map[State][]State{
	StateReviewCompleted:   {StateBookingInProgress, StateSyncingDownstream},
	StateBookingInProgress: {StateBooked, StateBookingFailed},
	StateBooked:            {StateSyncingDownstream, StateSyncFailed},
	StateSyncingDownstream: {StateComplete, StateSyncFailed},
	StateSyncFailed:        {StateSyncingDownstream},
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateReviewCompleted, StateBookingInProgress, StateBooked, StateSyncingDownstream,
		StateComplete, StateBookingFailed, StateSyncFailed:
		return true
	}
	return false
}

// TransitionError describes a rejected move.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

// Is implements errors.Is for TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
