package telemetry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/telemetry"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "ERROR", "bogus"} {
		logger, err := telemetry.NewLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.NewMetrics(prometheus.NewRegistry())
		telemetry.NewMetrics(prometheus.NewRegistry())
	})
}

func TestMetrics_Record(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())

	m.RecordRequest("book", "dhl", "success", 0.2)
	m.RecordError("fedex", "timeout")
	m.RecordTransition("dhl", "BOOKED")
	m.RecordTransition("dhl", "BOOKED")
	m.RecordTokenExchange("fedex", 30*time.Millisecond, nil)
	m.RecordTokenExchange("fedex", 30*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("book", "dhl", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierErrors.WithLabelValues("fedex", "timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BookingTransitions.WithLabelValues("dhl", "BOOKED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchanges.WithLabelValues("fedex", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenExchanges.WithLabelValues("fedex", "error")))
}

func TestMetrics_BreakerState(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())

	m.RecordBreakerState("fedex", gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("fedex")))

	m.RecordBreakerState("fedex", gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("fedex")))

	m.RecordBreakerState("fedex", gobreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("fedex")))
}
