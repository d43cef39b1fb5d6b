package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// Service is the booking surface the resolver exposes.
type Service interface {
	Carriers() []string
	Rates(ctx context.Context, req *shipper.ShipmentRequest) (*booking.RatesOutcome, error)
	Book(ctx context.Context, req *shipper.ShipmentRequest) (*booking.Booking, error)
	Get(ctx context.Context, id string) (*booking.Booking, error)
}

// Resolver is the root resolver for the GraphQL schema.
// It holds dependencies needed by all resolvers.
type Resolver struct {
	Service Service
	Logger  *otelzap.Logger
}

// NewResolver creates a new resolver with the given dependencies.
func NewResolver(service Service, logger *otelzap.Logger) *Resolver {
	return &Resolver{
		Service: service,
		Logger:  logger,
	}
}

// resolveFunc resolves one root field from its coerced arguments.
type resolveFunc func(ctx context.Context, args map[string]any) (any, error)

func (r *Resolver) queryFields() map[string]resolveFunc {
	return map[string]resolveFunc{
		"carriers": r.carriers,
		"rates":    r.rates,
		"booking":  r.booking,
	}
}

func (r *Resolver) mutationFields() map[string]resolveFunc {
	return map[string]resolveFunc{
		"bookShipment": r.bookShipment,
	}
}

func (r *Resolver) carriers(ctx context.Context, args map[string]any) (any, error) {
	carriers := r.Service.Carriers()
	if carriers == nil {
		carriers = []string{}
	}
	return carriers, nil
}

func (r *Resolver) rates(ctx context.Context, args map[string]any) (any, error) {
	req, err := shipmentInputToModel(args["input"])
	if err != nil {
		return nil, err
	}
	return r.Service.Rates(ctx, req)
}

func (r *Resolver) booking(ctx context.Context, args map[string]any) (any, error) {
	id, _ := args["id"].(string)
	b, err := r.Service.Get(ctx, id)
	if errors.Is(err, booking.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bookingToMap(b)
}

func (r *Resolver) bookShipment(ctx context.Context, args map[string]any) (any, error) {
	req, err := shipmentInputToModel(args["input"])
	if err != nil {
		return nil, err
	}
	b, err := r.Service.Book(ctx, req)
	if err != nil {
		if b != nil {
			return nil, &bookingError{booking: b, err: err}
		}
		return nil, err
	}
	return bookingToMap(b)
}

// bookingError keeps the booking a failed call left behind so the caller
// can follow up on it.
type bookingError struct {
	booking *booking.Booking
	err     error
}

func (e *bookingError) Error() string {
	return fmt.Sprintf("booking %s: %v", e.booking.ID, e.err)
}

func (e *bookingError) Unwrap() error {
	return e.err
}
