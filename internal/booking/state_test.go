package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/booking"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to booking.State
		allowed  bool
	}{
		{booking.StateReviewCompleted, booking.StateBookingInProgress, true},
		{booking.StateReviewCompleted, booking.StateSyncingDownstream, true},
		{booking.StateReviewCompleted, booking.StateBooked, false},
		{booking.StateBookingInProgress, booking.StateBooked, true},
		{booking.StateBookingInProgress, booking.StateBookingFailed, true},
		{booking.StateBookingInProgress, booking.StateSyncingDownstream, false},
		{booking.StateBooked, booking.StateSyncingDownstream, true},
		{booking.StateBooked, booking.StateSyncFailed, true},
		{booking.StateBooked, booking.StateBookingInProgress, false},
		{booking.StateSyncingDownstream, booking.StateComplete, true},
		{booking.StateSyncingDownstream, booking.StateSyncFailed, true},
		{booking.StateSyncFailed, booking.StateSyncingDownstream, true},
		{booking.StateSyncFailed, booking.StateBookingInProgress, false},
		{booking.StateComplete, booking.StateSyncingDownstream, false},
		{booking.StateBookingFailed, booking.StateBookingInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, booking.StateComplete.Terminal())
	assert.True(t, booking.StateBookingFailed.Terminal())
	assert.False(t, booking.StateSyncFailed.Terminal())
	assert.False(t, booking.StateBookingInProgress.Terminal())
}

func TestState_Valid(t *testing.T) {
	assert.True(t, booking.StateSyncFailed.Valid())
	assert.False(t, booking.State("CANCELLED").Valid())
}

func TestBooking_TransitionRecordsHistory(t *testing.T) {
	b := &booking.Booking{State: booking.StateReviewCompleted}
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, b.Transition(booking.StateBookingInProgress, at, ""))
	err := b.Transition(booking.StateComplete, at, "")

	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	assert.Equal(t, booking.StateBookingInProgress, b.State)
	require.Len(t, b.History, 1)
	assert.Equal(t, booking.StateReviewCompleted, b.History[0].From)
	assert.Equal(t, at, b.UpdatedAt)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := booking.NewMemoryStore()

	first := &booking.Booking{ID: "b-1", Reference: "ORD-1", State: booking.StateBookingFailed}
	second := &booking.Booking{ID: "b-2", Reference: "ORD-1", State: booking.StateReviewCompleted}
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	latest, err := store.FindByReference(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "b-2", latest.ID)

	latest.State = booking.StateBookingInProgress
	stored, err := store.Get(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, booking.StateReviewCompleted, stored.State, "store hands out copies")

	require.NoError(t, store.Update(ctx, latest))
	stored, err = store.Get(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, booking.StateBookingInProgress, stored.State)

	assert.ErrorIs(t, store.Update(ctx, &booking.Booking{ID: "b-3"}), booking.ErrNotFound)
	_, err = store.Get(ctx, "b-3")
	assert.ErrorIs(t, err, booking.ErrNotFound)
	_, err = store.FindByReference(ctx, "ORD-2")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}
