package booking_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/telemetry"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/credential"
	"github.com/tournevent/carrierbridge/pkg/shipper/dhl"
	"github.com/tournevent/carrierbridge/pkg/shipper/mock"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakeSyncer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (s *fakeSyncer) Sync(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, b.ID)
	return s.err
}

func (s *fakeSyncer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeArchive struct {
	err      error
	archived []string
}

func (a *fakeArchive) Archive(ctx context.Context, b *booking.Booking) error {
	a.archived = append(a.archived, b.ID)
	return a.err
}

type fakeSource map[string]*shipper.ShipmentRequest

func (s fakeSource) ShipmentRequest(ctx context.Context, orderID string) (*shipper.ShipmentRequest, error) {
	req, ok := s[orderID]
	if !ok {
		return nil, booking.ErrOrderNotFound
	}
	return req, nil
}

func testRequest() *shipper.ShipmentRequest {
	return &shipper.ShipmentRequest{
		Carrier:   shipper.CarrierDHL,
		Reference: "ORD-1001",
		Shipper: shipper.ShipmentParty{
			Address: shipper.Address{StreetLines: []string{"Warehouse 7"}, City: "Dubai", CountryCode: "AE"},
			Contact: shipper.Contact{Name: "Ops Desk", Phone: "+97148800000"},
		},
		Receiver: shipper.ShipmentParty{
			Address: shipper.Address{StreetLines: []string{"350 5th Ave"}, City: "New York", RegionCode: "NY", PostalCode: "10118", CountryCode: "US"},
			Contact: shipper.Contact{Name: "Jane Doe", Phone: "+12125550100"},
		},
		Packages: []shipper.PackageSpec{{
			Weight:     shipper.Weight{Value: 2.5, Unit: shipper.WeightKG},
			Dimensions: shipper.Dimensions{Length: 30, Width: 20, Height: 10, Unit: shipper.DimensionCM},
			Count:      3,
		}},
		PlannedShipAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.FixedZone("GST", 4*60*60)),
		Customs: shipper.NewCustomsDeclaration(
			[]shipper.CommodityLine{{
				Description:        "Cotton shirts",
				Quantity:           12,
				UnitPrice:          shipper.Money{Amount: 15, Currency: "USD"},
				NetWeight:          shipper.Weight{Value: 6, Unit: shipper.WeightKG},
				GrossWeight:        shipper.Weight{Value: 7.5, Unit: shipper.WeightKG},
				ManufactureCountry: "AE",
			}},
			shipper.Invoice{Number: "INV-1001"},
			shipper.Money{Amount: 180, Currency: "USD"},
			shipper.DutiesRecipient,
			shipper.PurposeSold,
		),
	}
}

type fixture struct {
	orch    *booking.Orchestrator
	carrier *mock.Client
	syncer  *fakeSyncer
	store   *booking.MemoryStore
}

func newFixture(opts ...booking.Option) *fixture {
	carrier := mock.New(shipper.CarrierDHL)
	registry := shipper.NewRegistry()
	registry.Register(carrier)

	f := &fixture{carrier: carrier, syncer: &fakeSyncer{}, store: booking.NewMemoryStore()}
	opts = append([]booking.Option{booking.WithValidator(validation.New(validation.DefaultMetadata()))}, opts...)
	f.orch = booking.New(registry, f.store, f.syncer, otelzap.New(zap.NewNop()), opts...)
	return f
}

func states(b *booking.Booking) []booking.State {
	out := make([]booking.State, len(b.History))
	for i, t := range b.History {
		out[i] = t.To
	}
	return out
}

func TestOrchestrator_Book_Complete(t *testing.T) {
	f := newFixture()

	b, err := f.orch.Book(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, b.State)
	assert.Equal(t, []booking.State{
		booking.StateReviewCompleted,
		booking.StateBookingInProgress,
		booking.StateBooked,
		booking.StateSyncingDownstream,
		booking.StateComplete,
	}, states(b))
	assert.NotEmpty(t, b.Result.TrackingNumber)
	assert.Len(t, b.Result.PackageTrackingNumbers, 3)
	assert.False(t, b.Manual())
	assert.Equal(t, 1, f.syncer.count())

	stored, err := f.orch.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, stored.State)
}

func TestOrchestrator_Book_SyncFailedNeverRebooks(t *testing.T) {
	f := newFixture()
	f.syncer.setErr(errors.New("erp unavailable"))

	b, err := f.orch.Book(context.Background(), testRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrSyncFailed)
	assert.Equal(t, booking.StateSyncFailed, b.State)
	assert.NotEmpty(t, b.Result.TrackingNumber)
	assert.Equal(t, "erp unavailable", b.LastError)

	again, err := f.orch.Book(context.Background(), testRequest())
	assert.ErrorIs(t, err, booking.ErrAlreadyBooked)
	assert.Equal(t, b.ID, again.ID)
	assert.Equal(t, int64(1), f.carrier.BookCalls())

	f.syncer.setErr(nil)
	resynced, err := f.orch.Resync(context.Background(), b.ID)

	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, resynced.State)
	assert.Equal(t, b.Result.TrackingNumber, resynced.Result.TrackingNumber)
	assert.Equal(t, int64(1), f.carrier.BookCalls())
	assert.Equal(t, 2, f.syncer.count())
}

func TestOrchestrator_Resync_RejectsCompleted(t *testing.T) {
	f := newFixture()
	b, err := f.orch.Book(context.Background(), testRequest())
	require.NoError(t, err)

	_, err = f.orch.Resync(context.Background(), b.ID)

	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	assert.ErrorContains(t, err, "is COMPLETE, resync requires SYNC_FAILED or BOOKED")
	assert.Equal(t, 1, f.syncer.count())
}

// failingStore fails Update for the listed target states, once per entry.
type failingStore struct {
	*booking.MemoryStore
	mu     sync.Mutex
	failOn map[booking.State]int
}

func (s *failingStore) Update(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	if s.failOn[b.State] > 0 {
		s.failOn[b.State]--
		s.mu.Unlock()
		return errors.New("db blip")
	}
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, b)
}

func newFailingStoreFixture(failOn map[booking.State]int) (*fixture, *failingStore) {
	store := &failingStore{MemoryStore: booking.NewMemoryStore(), failOn: failOn}
	carrier := mock.New(shipper.CarrierDHL)
	registry := shipper.NewRegistry()
	registry.Register(carrier)
	f := &fixture{carrier: carrier, syncer: &fakeSyncer{}, store: store.MemoryStore}
	f.orch = booking.New(registry, store, f.syncer, otelzap.New(zap.NewNop()))
	return f, store
}

func TestOrchestrator_Book_SyncStartNotStored(t *testing.T) {
	f, _ := newFailingStoreFixture(map[booking.State]int{booking.StateSyncingDownstream: 1})

	b, err := f.orch.Book(context.Background(), testRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrSyncFailed)
	assert.Equal(t, booking.CodeSyncFailed, booking.ErrorCode(err))
	assert.Equal(t, booking.StateSyncFailed, b.State)
	assert.Equal(t, 0, f.syncer.count())

	stored, err := f.orch.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateSyncFailed, stored.State)
	assert.Equal(t, []booking.State{
		booking.StateReviewCompleted,
		booking.StateBookingInProgress,
		booking.StateBooked,
		booking.StateSyncFailed,
	}, states(stored))

	resynced, err := f.orch.Resync(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, resynced.State)
	assert.Equal(t, b.Result.TrackingNumber, resynced.Result.TrackingNumber)
	assert.Equal(t, int64(1), f.carrier.BookCalls())
}

func TestOrchestrator_Book_LeftBookedCanResync(t *testing.T) {
	f, _ := newFailingStoreFixture(map[booking.State]int{
		booking.StateSyncingDownstream: 1,
		booking.StateSyncFailed:        1,
	})

	b, err := f.orch.Book(context.Background(), testRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrSyncFailed)
	assert.Equal(t, booking.StateBooked, b.State)
	assert.Equal(t, booking.StateBooked, b.History[len(b.History)-1].To)

	stored, err := f.orch.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateBooked, stored.State)
	assert.Equal(t, states(stored), states(b))

	_, err = f.orch.Book(context.Background(), testRequest())
	assert.ErrorIs(t, err, booking.ErrAlreadyBooked)

	resynced, err := f.orch.Resync(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, resynced.State)
	assert.Equal(t, 1, f.syncer.count())
	assert.Equal(t, int64(1), f.carrier.BookCalls())
}

func TestOrchestrator_Resync_UnknownBooking(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Resync(context.Background(), "missing")

	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestOrchestrator_Book_UnsupportedCarrierGoesManual(t *testing.T) {
	f := newFixture()
	req := testRequest()
	req.Carrier = "aramex"

	b, err := f.orch.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, []booking.State{
		booking.StateReviewCompleted,
		booking.StateSyncingDownstream,
		booking.StateComplete,
	}, states(b))
	assert.True(t, b.Manual())
	assert.Equal(t, "aramex", b.Result.Carrier)
	assert.Equal(t, int64(0), f.carrier.BookCalls())
	assert.Equal(t, 1, f.syncer.count())
}

func TestOrchestrator_Book_RejectedCanBeRetried(t *testing.T) {
	f := newFixture()
	f.carrier.BookErr = shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindBookingRejected, "invalid postal code").
		WithStatusCode(http.StatusBadRequest)

	failed, err := f.orch.Book(context.Background(), testRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, shipper.ErrCarrierAPI)
	assert.Equal(t, booking.StateBookingFailed, failed.State)
	assert.Equal(t, 0, f.syncer.count())

	f.carrier.BookErr = nil
	retried, err := f.orch.Book(context.Background(), testRequest())

	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retried.ID)
	assert.Equal(t, booking.StateComplete, retried.State)
	assert.Equal(t, int64(2), f.carrier.BookCalls())
}

func TestOrchestrator_Book_AuthFailureFails(t *testing.T) {
	f := newFixture()
	f.carrier.BookErr = shipper.NewAuthError(shipper.CarrierDHL, "credential rejected").WithRejected(true)

	b, err := f.orch.Book(context.Background(), testRequest())

	assert.ErrorIs(t, err, shipper.ErrAuthenticationFailed)
	assert.Equal(t, booking.StateBookingFailed, b.State)
}

func TestOrchestrator_Book_EmptyTrackingNumberFails(t *testing.T) {
	f := newFixture()
	f.carrier.OnBook = func(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error) {
		return &shipper.BookingResult{Carrier: shipper.CarrierDHL}, nil
	}

	b, err := f.orch.Book(context.Background(), testRequest())

	assert.ErrorIs(t, err, shipper.ErrResponseParse)
	assert.Equal(t, booking.StateBookingFailed, b.State)
	assert.Equal(t, 0, f.syncer.count())
}

func TestOrchestrator_Book_OutcomeUnknownStaysInProgress(t *testing.T) {
	f := newFixture()
	f.carrier.BookErr = shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindTimeout, "deadline exceeded").
		WithOutcomeUnknown(true)

	b, err := f.orch.Book(context.Background(), testRequest())

	require.Error(t, err)
	assert.True(t, shipper.IsOutcomeUnknown(err))
	assert.Equal(t, booking.StateBookingInProgress, b.State)

	stored, err := f.orch.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateBookingInProgress, stored.State)
	assert.NotEmpty(t, stored.LastError)

	f.carrier.BookErr = nil
	_, err = f.orch.Book(context.Background(), testRequest())
	assert.ErrorIs(t, err, booking.ErrOutcomeUnknown)
	assert.Equal(t, int64(1), f.carrier.BookCalls())
}

func TestOrchestrator_Book_CarrierTimeoutStaysInProgress(t *testing.T) {
	api := dhl.NewMockAPIClient()
	api.SimulateLatency = time.Second
	carrier := dhl.NewWithAPIClient(dhl.Config{AccountNumber: "123456789"}, api,
		credential.NewStaticProvider().SetBasic(shipper.CarrierDHL, "user", "secret"),
		otelzap.New(zap.NewNop()), nil)

	registry := shipper.NewRegistry()
	registry.Register(carrier)
	store := booking.NewMemoryStore()
	orch := booking.New(registry, store, &fakeSyncer{}, otelzap.New(zap.NewNop()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	b, err := orch.Book(ctx, testRequest())

	require.Error(t, err)
	var apiErr *shipper.CarrierAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, shipper.KindTimeout, apiErr.Kind)

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StateBookingInProgress, stored.State)
}

func TestOrchestrator_Book_ValidationFailsBeforeCarrier(t *testing.T) {
	f := newFixture()
	req := testRequest()
	req.Receiver.Address.RegionCode = ""
	req.Customs = nil

	_, err := f.orch.Book(context.Background(), req)

	var valErr *shipper.ValidationError
	require.True(t, errors.As(err, &valErr))
	fields := valErr.Fields()
	assert.Contains(t, fields, "customs")
	assert.Contains(t, fields, "receiver.address.regionCode")
	assert.Equal(t, int64(0), f.carrier.BookCalls())

	_, err = f.store.FindByReference(context.Background(), req.Reference)
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestOrchestrator_Book_ConcurrentSameReference(t *testing.T) {
	f := newFixture()
	f.carrier.OnBook = func(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error) {
		time.Sleep(10 * time.Millisecond)
		return &shipper.BookingResult{Carrier: shipper.CarrierDHL, TrackingNumber: "1234567890"}, nil
	}

	var wg sync.WaitGroup
	var booked, refused atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Book(context.Background(), testRequest())
			switch {
			case err == nil:
				booked.Add(1)
			case errors.Is(err, booking.ErrAlreadyBooked):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), booked.Load())
	assert.Equal(t, int32(4), refused.Load())
	assert.Equal(t, int64(1), f.carrier.BookCalls())
}

func TestOrchestrator_Book_ArchivesDocuments(t *testing.T) {
	archive := &fakeArchive{}
	f := newFixture(booking.WithArchiver(archive))

	b, err := f.orch.Book(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, archive.archived)
}

func TestOrchestrator_Book_ArchiveFailureIsNotFatal(t *testing.T) {
	archive := &fakeArchive{err: errors.New("bucket unavailable")}
	f := newFixture(booking.WithArchiver(archive))

	b, err := f.orch.Book(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, booking.StateComplete, b.State)
}

func TestOrchestrator_Book_RecordsMetrics(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	f := newFixture(booking.WithMetrics(metrics))

	_, err := f.orch.Book(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BookingTransitions.WithLabelValues("dhl", "COMPLETE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("book", "dhl", "success")))
}

func TestOrchestrator_BookOrder(t *testing.T) {
	f := newFixture(booking.WithShipmentSource(fakeSource{"order-7": testRequest()}))

	b, err := f.orch.BookOrder(context.Background(), "order-7")

	require.NoError(t, err)
	assert.Equal(t, "order-7", b.OrderID)
	assert.Equal(t, booking.StateComplete, b.State)

	_, err = f.orch.BookOrder(context.Background(), "order-8")
	assert.ErrorIs(t, err, booking.ErrOrderNotFound)
}

func TestOrchestrator_BookOrder_NoSource(t *testing.T) {
	_, err := newFixture().orch.BookOrder(context.Background(), "order-7")

	assert.ErrorIs(t, err, booking.ErrNoShipmentSource)
}

func TestOrchestrator_Rates(t *testing.T) {
	f := newFixture()

	outcome, err := f.orch.Rates(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, booking.RatesAvailable, outcome.Status)
	assert.Len(t, outcome.Quotes, 2)
}

func TestOrchestrator_Rates_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected booking.RatesStatus
	}{
		{
			name:     "rate unavailable",
			err:      shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindRateUnavailable, "no products").WithStatusCode(http.StatusBadRequest),
			expected: booking.RatesNoneAvailable,
		},
		{
			name:     "unreachable",
			err:      shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindUnreachable, "connection refused"),
			expected: booking.RatesCarrierUnreachable,
		},
		{
			name:     "timeout",
			err:      shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindTimeout, "deadline exceeded"),
			expected: booking.RatesCarrierUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.carrier.RatesErr = tt.err

			outcome, err := f.orch.Rates(context.Background(), testRequest())

			require.NoError(t, err)
			assert.Equal(t, tt.expected, outcome.Status)
			assert.Empty(t, outcome.Quotes)
			assert.NotEmpty(t, outcome.Message)
		})
	}
}

func TestOrchestrator_Rates_ParseErrorIsNotNoRates(t *testing.T) {
	f := newFixture()
	f.carrier.RatesErr = shipper.NewResponseParseError(shipper.CarrierDHL, "missing products")

	_, err := f.orch.Rates(context.Background(), testRequest())

	assert.ErrorIs(t, err, shipper.ErrResponseParse)
}

func TestOrchestrator_Rates_UnsupportedCarrier(t *testing.T) {
	f := newFixture()
	req := testRequest()
	req.Carrier = "aramex"

	_, err := f.orch.Rates(context.Background(), req)

	assert.ErrorIs(t, err, shipper.ErrCarrierNotFound)
}

func TestOrchestrator_ShopRates(t *testing.T) {
	registry := shipper.NewRegistry()
	registry.Register(mock.New("dhl"))
	registry.Register(mock.New("fedex"))
	v := validation.New(validation.DefaultMetadata()).
		SetConstraints("fedex", validation.Constraints{MaxPackages: 2})
	orch := booking.New(registry, booking.NewMemoryStore(), &fakeSyncer{}, otelzap.New(zap.NewNop()),
		booking.WithValidator(v))

	quotes, errs := orch.ShopRates(context.Background(), testRequest(), nil)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], shipper.ErrValidation)
	require.Len(t, quotes, 2)
	for _, q := range quotes {
		assert.Equal(t, "dhl", q.Carrier)
	}
	assert.LessOrEqual(t, quotes[0].TotalPrice.Amount, quotes[1].TotalPrice.Amount)
}
