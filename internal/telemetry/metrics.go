package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CarrierErrors      *prometheus.CounterVec
	BookingTransitions *prometheus.CounterVec
	TokenExchanges     *prometheus.CounterVec
	TokenDuration      *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
}

// NewMetrics creates the metrics and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry() so constructions do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierbridge_requests_total",
				Help: "Total number of requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carrierbridge_request_duration_seconds",
				Help:    "Request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierbridge_carrier_errors_total",
				Help: "Total carrier API errors by carrier and error kind",
			},
			[]string{"carrier", "error_type"},
		),
		BookingTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierbridge_booking_transitions_total",
				Help: "Booking state transitions by carrier and target state",
			},
			[]string{"carrier", "state"},
		),
		TokenExchanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierbridge_token_exchanges_total",
				Help: "OAuth token exchanges by carrier and outcome",
			},
			[]string{"carrier", "status"},
		),
		TokenDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carrierbridge_token_exchange_duration_seconds",
				Help:    "OAuth token exchange duration in seconds by carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"carrier"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "carrierbridge_circuit_breaker_state",
				Help: "Carrier circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"carrier"},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordTransition counts a booking entering state.
func (m *Metrics) RecordTransition(carrier, state string) {
	m.BookingTransitions.WithLabelValues(carrier, state).Inc()
}

// RecordTokenExchange matches credential.ExchangeObserver.
func (m *Metrics) RecordTokenExchange(carrier string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TokenExchanges.WithLabelValues(carrier, status).Inc()
	m.TokenDuration.WithLabelValues(carrier).Observe(duration.Seconds())
}

// RecordBreakerState matches carrierhttp.StateObserver.
func (m *Metrics) RecordBreakerState(carrier string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(carrier).Set(v)
}
