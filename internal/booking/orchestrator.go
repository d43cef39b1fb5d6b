package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/carrierbridge/internal/idempotency"
	"github.com/tournevent/carrierbridge/internal/telemetry"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyBooked is returned when the reference already has a booking
	// that did not fail.
	ErrAlreadyBooked = errors.New("reference already booked")

	// ErrOutcomeUnknown is returned when an earlier attempt for the reference
	// may have been booked by the carrier and must be reconciled first.
	ErrOutcomeUnknown = errors.New("booking outcome unknown")

	// ErrSyncFailed marks a booking that was booked with the carrier but not
	// synchronized downstream.
	ErrSyncFailed = errors.New("downstream sync failed")

	// ErrNoShipmentSource is returned by BookOrder when no source is configured.
	ErrNoShipmentSource = errors.New("no shipment source configured")

	// ErrOrderNotFound is returned by shipment sources for an unknown order.
	ErrOrderNotFound = errors.New("order not found")
)

// Validator checks a shipment request before any carrier call.
type Validator interface {
	Validate(req *shipper.ShipmentRequest) error
}

// Syncer forwards a booking to the downstream system.
type Syncer interface {
	Sync(ctx context.Context, b *Booking) error
}

// ShipmentSource resolves an order id to a shipment request.
type ShipmentSource interface {
	ShipmentRequest(ctx context.Context, orderID string) (*shipper.ShipmentRequest, error)
}

// Archiver keeps a copy of the documents returned by a booking.
type Archiver interface {
	Archive(ctx context.Context, b *Booking) error
}

// RatesStatus summarizes a rate lookup.
type RatesStatus string

const (
	RatesAvailable          RatesStatus = "AVAILABLE"
	RatesNoneAvailable      RatesStatus = "NO_RATES_AVAILABLE"
	RatesCarrierUnreachable RatesStatus = "CARRIER_UNREACHABLE"
)

// RatesOutcome is the result of Rates.
type RatesOutcome struct {
	Carrier string              `json:"carrier"`
	Status  RatesStatus         `json:"status"`
	Quotes  []shipper.RateQuote `json:"quotes"`
	Message string              `json:"message,omitempty"`
}

// Orchestrator books shipments with carriers and drives each booking
// through its lifecycle. A failed booking never falls back to another carrier.
type Orchestrator struct {
	registry  *shipper.Registry
	store     Store
	syncer    Syncer
	validator Validator
	locker    idempotency.Locker
	source    ShipmentSource
	archive   Archiver
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *otelzap.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithValidator sets the request validator.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithLocker replaces the in-process idempotency locker.
func WithLocker(l idempotency.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithShipmentSource enables BookOrder.
func WithShipmentSource(s ShipmentSource) Option {
	return func(o *Orchestrator) { o.source = s }
}

// WithArchiver archives booking documents.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithMetrics records transitions and carrier calls.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(registry *shipper.Registry, store Store, syncer Syncer, logger *otelzap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    store,
		syncer:   syncer,
		locker:   idempotency.NewMemoryLocker(),
		tracer:   noop.NewTracerProvider().Tracer("booking"),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Book validates req and books it with req.Carrier. The returned booking
// reflects the state reached even when an error is returned.
func (o *Orchestrator) Book(ctx context.Context, req *shipper.ShipmentRequest) (*Booking, error) {
	ctx, span := o.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("carrier", req.Carrier),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	if err := o.validate(req); err != nil {
		return nil, o.fail(span, err)
	}

	unlock, err := o.locker.Lock(ctx, req.Reference)
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("locking reference %s: %w", req.Reference, err))
	}
	defer unlock()

	if existing, err := o.store.FindByReference(ctx, req.Reference); err == nil {
		switch existing.State {
		case StateBookingFailed:
		case StateBookingInProgress:
			return existing, o.fail(span, fmt.Errorf("%w: reference %s", ErrOutcomeUnknown, req.Reference))
		default:
			return existing, o.fail(span, fmt.Errorf("%w: reference %s is %s", ErrAlreadyBooked, req.Reference, existing.State))
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, o.fail(span, fmt.Errorf("looking up reference %s: %w", req.Reference, err))
	}

	carrier, err := o.registry.Resolve(req.Carrier)
	if err != nil && !errors.Is(err, shipper.ErrCarrierNotFound) {
		return nil, o.fail(span, err)
	}

	b := newBooking(req, o.now())
	if err := o.store.Create(ctx, b); err != nil {
		return nil, o.fail(span, fmt.Errorf("creating booking: %w", err))
	}
	span.SetAttributes(attribute.String("booking_id", b.ID))

	if carrier == nil {
		o.logger.Info("Carrier not integrated, routing booking to manual processing",
			zap.String("booking_id", b.ID),
			zap.String("carrier", req.Carrier),
			zap.String("reference", req.Reference),
		)
		b.Result = &shipper.BookingResult{Carrier: req.Carrier}
		if err := o.move(ctx, b, StateSyncingDownstream, "carrier not integrated"); err != nil {
			return b, o.fail(span, err)
		}
		return o.sync(ctx, span, b)
	}

	if err := o.move(ctx, b, StateBookingInProgress, ""); err != nil {
		return b, o.fail(span, err)
	}

	start := o.now()
	result, err := carrier.BookShipment(ctx, req)
	o.recordCall("book", req.Carrier, start, err)

	switch {
	case err != nil && shipper.IsOutcomeUnknown(err):
		b.LastError = err.Error()
		o.logger.Error("Booking outcome unknown, reconcile with carrier before retrying",
			zap.String("booking_id", b.ID),
			zap.String("carrier", req.Carrier),
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		if saveErr := o.save(ctx, b); saveErr != nil {
			o.logger.Error("Failed to persist booking", zap.String("booking_id", b.ID), zap.Error(saveErr))
		}
		return b, o.fail(span, err)
	case err != nil:
		return b, o.fail(span, o.bookingFailed(ctx, b, err))
	case result.IsEmpty():
		err := shipper.NewResponseParseError(req.Carrier, "booking returned no tracking number")
		return b, o.fail(span, o.bookingFailed(ctx, b, err))
	}

	b.Result = result
	b.LastError = ""
	if err := o.move(ctx, b, StateBooked, ""); err != nil {
		return b, o.fail(span, err)
	}
	o.logger.Info("Shipment booked",
		zap.String("booking_id", b.ID),
		zap.String("carrier", req.Carrier),
		zap.String("reference", req.Reference),
		zap.String("tracking_number", result.TrackingNumber),
	)
	span.SetAttributes(attribute.String("tracking_number", result.TrackingNumber))

	o.archiveDocuments(ctx, b)

	if err := o.move(ctx, b, StateSyncingDownstream, ""); err != nil {
		return b, o.fail(span, o.syncNotStarted(ctx, b, err))
	}
	return o.sync(ctx, span, b)
}

// BookOrder resolves orderID through the shipment source and books it.
func (o *Orchestrator) BookOrder(ctx context.Context, orderID string) (*Booking, error) {
	if o.source == nil {
		return nil, ErrNoShipmentSource
	}
	req, err := o.source.ShipmentRequest(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("resolving order %s: %w", orderID, err)
	}
	req.OrderID = orderID
	return o.Book(ctx, req)
}

// Rates returns quotes from req.Carrier. A carrier with nothing to offer
// and an unreachable carrier are reported in the outcome, not as errors.
func (o *Orchestrator) Rates(ctx context.Context, req *shipper.ShipmentRequest) (*RatesOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "booking.Rates", trace.WithAttributes(
		attribute.String("carrier", req.Carrier),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	if err := o.validate(req); err != nil {
		return nil, o.fail(span, err)
	}

	unlock, err := o.locker.Lock(ctx, req.Reference)
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("locking reference %s: %w", req.Reference, err))
	}
	defer unlock()

	carrier, err := o.registry.Resolve(req.Carrier)
	if err != nil {
		return nil, o.fail(span, err)
	}

	start := o.now()
	quotes, err := carrier.GetRates(ctx, req)
	o.recordCall("rate", req.Carrier, start, err)

	outcome := &RatesOutcome{Carrier: req.Carrier, Quotes: quotes, Status: RatesAvailable}
	var apiErr *shipper.CarrierAPIError
	switch {
	case err == nil && len(quotes) == 0:
		outcome.Status = RatesNoneAvailable
		outcome.Quotes = []shipper.RateQuote{}
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Kind == shipper.KindRateUnavailable:
		outcome.Status = RatesNoneAvailable
		outcome.Quotes = []shipper.RateQuote{}
		outcome.Message = apiErr.Message
	case errors.As(err, &apiErr) && (apiErr.Kind == shipper.KindTimeout || apiErr.Kind == shipper.KindUnreachable):
		outcome.Status = RatesCarrierUnreachable
		outcome.Quotes = []shipper.RateQuote{}
		outcome.Message = apiErr.Message
	default:
		return nil, o.fail(span, err)
	}

	o.logger.Info("Rates fetched",
		zap.String("carrier", req.Carrier),
		zap.String("reference", req.Reference),
		zap.String("status", string(outcome.Status)),
		zap.Int("quote_count", len(outcome.Quotes)),
	)
	return outcome, nil
}

// ShopRates fetches quotes from every named carrier, or every registered
// carrier when carriers is empty. Carriers whose limits the request breaks
// are reported as errors and not called.
func (o *Orchestrator) ShopRates(ctx context.Context, req *shipper.ShipmentRequest, carriers []string) ([]shipper.RateQuote, []error) {
	if len(carriers) == 0 {
		carriers = o.registry.ListSupported()
	}

	var (
		eligible []string
		errs     []error
	)
	for _, name := range carriers {
		carrierReq := *req
		carrierReq.Carrier = name
		if err := o.validate(&carrierReq); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		eligible = append(eligible, name)
	}
	if len(eligible) == 0 {
		return nil, errs
	}

	quotes, shopErrs := o.registry.ShopRates(ctx, req, eligible)
	return quotes, append(errs, shopErrs...)
}

// Resync re-runs the downstream sync for a booking in SYNC_FAILED, or one
// left in BOOKED by an earlier attempt. The carrier is never called again.
func (o *Orchestrator) Resync(ctx context.Context, id string) (*Booking, error) {
	ctx, span := o.tracer.Start(ctx, "booking.Resync", trace.WithAttributes(attribute.String("booking_id", id)))
	defer span.End()

	b, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, o.fail(span, err)
	}

	unlock, err := o.locker.Lock(ctx, b.Reference)
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("locking reference %s: %w", b.Reference, err))
	}
	defer unlock()

	// Re-read under the lock; a concurrent resync may have completed.
	if b, err = o.store.Get(ctx, id); err != nil {
		return nil, o.fail(span, err)
	}
	if b.State != StateSyncFailed && b.State != StateBooked {
		return b, o.fail(span, fmt.Errorf("%w: booking %s is %s, resync requires %s or %s",
			ErrInvalidTransition, b.ID, b.State, StateSyncFailed, StateBooked))
	}

	if err := o.move(ctx, b, StateSyncingDownstream, "resync requested"); err != nil {
		return b, o.fail(span, err)
	}
	return o.sync(ctx, span, b)
}

// Get returns the booking with id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Booking, error) {
	return o.store.Get(ctx, id)
}

// Carriers returns the registered carrier names.
func (o *Orchestrator) Carriers() []string {
	return o.registry.ListSupported()
}

func (o *Orchestrator) validate(req *shipper.ShipmentRequest) error {
	if o.validator == nil {
		return nil
	}
	return o.validator.Validate(req)
}

func (o *Orchestrator) sync(ctx context.Context, span trace.Span, b *Booking) (*Booking, error) {
	if err := o.syncer.Sync(ctx, b); err != nil {
		b.LastError = err.Error()
		if moveErr := o.move(ctx, b, StateSyncFailed, "downstream sync failed"); moveErr != nil {
			return b, o.fail(span, moveErr)
		}
		o.logger.Error("Downstream sync failed, manual intervention required",
			zap.String("booking_id", b.ID),
			zap.String("reference", b.Reference),
			zap.String("tracking_number", b.Result.TrackingNumber),
			zap.Error(err),
		)
		return b, o.fail(span, fmt.Errorf("%w: booking %s: %w", ErrSyncFailed, b.ID, err))
	}

	b.LastError = ""
	if err := o.move(ctx, b, StateComplete, ""); err != nil {
		return b, o.fail(span, err)
	}
	return b, nil
}

// syncNotStarted records SYNC_FAILED for a booked shipment whose move to
// SYNCING_DOWNSTREAM could not be stored. If that write fails as well the
// booking stays BOOKED, which Resync also accepts.
func (o *Orchestrator) syncNotStarted(ctx context.Context, b *Booking, cause error) error {
	b.LastError = cause.Error()
	if err := o.move(ctx, b, StateSyncFailed, "downstream sync not started"); err != nil {
		o.logger.Error("Failed to record sync failure, booking left in BOOKED",
			zap.String("booking_id", b.ID),
			zap.String("tracking_number", b.Result.TrackingNumber),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w: booking %s: %w", ErrSyncFailed, b.ID, cause)
}

func (o *Orchestrator) bookingFailed(ctx context.Context, b *Booking, cause error) error {
	b.LastError = cause.Error()
	if err := o.move(ctx, b, StateBookingFailed, shipper.KindOf(cause)); err != nil {
		return errors.Join(cause, err)
	}
	o.logger.Warn("Booking failed",
		zap.String("booking_id", b.ID),
		zap.String("carrier", b.Carrier),
		zap.String("reference", b.Reference),
		zap.Error(cause),
	)
	return cause
}

func (o *Orchestrator) archiveDocuments(ctx context.Context, b *Booking) {
	if o.archive == nil || len(b.Result.Documents) == 0 {
		return
	}
	if err := o.archive.Archive(ctx, b); err != nil {
		o.logger.Warn("Failed to archive booking documents",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

// move applies a transition and persists it. Persistence ignores caller
// cancellation so a booked shipment is never lost to a closed request. When
// the write fails b is restored to its stored state.
func (o *Orchestrator) move(ctx context.Context, b *Booking, to State, reason string) error {
	from, history, updated := b.State, len(b.History), b.UpdatedAt
	if err := b.Transition(to, o.now(), reason); err != nil {
		return err
	}
	if err := o.save(ctx, b); err != nil {
		b.State, b.History, b.UpdatedAt = from, b.History[:history], updated
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordTransition(b.Carrier, string(to))
	}
	o.logger.Debug("Booking transition",
		zap.String("booking_id", b.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func (o *Orchestrator) save(ctx context.Context, b *Booking) error {
	if err := o.store.Update(context.WithoutCancel(ctx), b); err != nil {
		return fmt.Errorf("saving booking %s: %w", b.ID, err)
	}
	return nil
}

func (o *Orchestrator) recordCall(operation, carrier string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		o.metrics.RecordError(carrier, shipper.KindOf(err))
	}
	o.metrics.RecordRequest(operation, carrier, status, o.now().Sub(start).Seconds())
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
