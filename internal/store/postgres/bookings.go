package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tournevent/carrierbridge/internal/booking"
)

const bookingColumns = `id, reference, carrier, order_id, state, request, result, last_error, history, created_at, updated_at`

// BookingRepository implements booking.Store on PostgreSQL.
type BookingRepository struct {
	db DBTX
}

// NewBookingRepository creates a PostgreSQL-backed booking store.
func NewBookingRepository(db DBTX) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	requestJSON, resultJSON, historyJSON, err := marshalBooking(b)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		b.ID,
		b.Reference,
		b.Carrier,
		nullableString(b.OrderID),
		string(b.State),
		requestJSON,
		resultJSON,
		nullableString(b.LastError),
		historyJSON,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Update writes the mutable fields of b.
func (r *BookingRepository) Update(ctx context.Context, b *booking.Booking) error {
	_, resultJSON, historyJSON, err := marshalBooking(b)
	if err != nil {
		return err
	}

	query := `
		UPDATE bookings
		SET state = $1, result = $2, last_error = $3, history = $4, updated_at = $5
		WHERE id = $6`

	ct, err := r.db.Exec(ctx, query,
		string(b.State),
		resultJSON,
		nullableString(b.LastError),
		historyJSON,
		b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// Get retrieves a booking by id.
func (r *BookingRepository) Get(ctx context.Context, id string) (*booking.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.scanBooking(ctx, query, id)
}

// FindByReference retrieves the most recent booking for reference.
func (r *BookingRepository) FindByReference(ctx context.Context, reference string) (*booking.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE reference = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanBooking(ctx, query, reference)
}

func (r *BookingRepository) scanBooking(ctx context.Context, query string, args ...any) (*booking.Booking, error) {
	b, err := scanRow(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func scanRow(row pgx.Row) (*booking.Booking, error) {
	var (
		b           booking.Booking
		state       string
		orderID     *string
		lastError   *string
		requestJSON []byte
		resultJSON  []byte
		historyJSON []byte
	)

	err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.Carrier,
		&orderID,
		&state,
		&requestJSON,
		&resultJSON,
		&lastError,
		&historyJSON,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.State = booking.State(state)
	b.OrderID = derefString(orderID)
	b.LastError = derefString(lastError)

	if err := json.Unmarshal(requestJSON, &b.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &b.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if err := json.Unmarshal(historyJSON, &b.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &b, nil
}

func marshalBooking(b *booking.Booking) (request, result, history []byte, err error) {
	if request, err = json.Marshal(b.Request); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	if b.Result != nil {
		if result, err = json.Marshal(b.Result); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if history, err = json.Marshal(b.History); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal history: %w", err)
	}
	return request, result, history, nil
}

var _ booking.Store = (*BookingRepository)(nil)
