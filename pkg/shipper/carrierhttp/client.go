// Package carrierhttp is the HTTP transport shared by carrier API clients.
// It bounds each call by a per-operation deadline, fails fast through a
// circuit breaker and classifies transport failures into carrier errors.
package carrierhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Operation identifies the kind of carrier call.
type Operation string

const (
	OpRate Operation = "rate"
	OpBook Operation = "book"
)

// Timeouts bounds each operation.
type Timeouts struct {
	Rate time.Duration
	Book time.Duration
}

// DefaultTimeouts returns the rate and booking deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Rate: 20 * time.Second,
		Book: 60 * time.Second,
	}
}

// BreakerConfig holds configuration for the circuit breaker.
type BreakerConfig struct {
	Disabled bool

	// MaxRequests is the maximum number of requests allowed in the half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing internal counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio is the ratio of failures to total requests that trips the breaker.
	FailureRatio float64

	// MinRequests is the minimum number of requests needed before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Config holds transport configuration for one carrier.
type Config struct {
	Carrier  string
	Timeouts Timeouts
	Breaker  BreakerConfig
}

// StateObserver is notified when a carrier's breaker changes state.
type StateObserver func(carrier string, state gobreaker.State)

// Response is a fully read carrier response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

var errServerStatus = errors.New("carrier server error")

// Client executes carrier HTTP requests.
type Client struct {
	carrier    string
	timeouts   Timeouts
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Response]
	logger     *otelzap.Logger
}

// Option configures a Client.
type Option func(*Client, *gobreaker.Settings)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client, _ *gobreaker.Settings) { cl.httpClient = c }
}

// WithStateObserver registers a breaker state observer.
func WithStateObserver(o StateObserver) Option {
	return func(cl *Client, s *gobreaker.Settings) {
		prev := s.OnStateChange
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			if prev != nil {
				prev(name, from, to)
			}
			o(cl.carrier, to)
		}
	}
}

// New creates a transport for cfg.Carrier.
func New(cfg Config, logger *otelzap.Logger, opts ...Option) *Client {
	timeouts := cfg.Timeouts
	if timeouts.Rate == 0 {
		timeouts.Rate = DefaultTimeouts().Rate
	}
	if timeouts.Book == 0 {
		timeouts.Book = DefaultTimeouts().Book
	}

	c := &Client{
		carrier:    cfg.Carrier,
		timeouts:   timeouts,
		httpClient: &http.Client{},
		logger:     logger,
	}

	bc := cfg.Breaker
	settings := gobreaker.Settings{
		Name:        cfg.Carrier,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.Disabled || counts.Requests < bc.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= bc.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation does not count against the carrier.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	for _, opt := range opts {
		opt(c, &settings)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*Response](settings)
	return c
}

// Carrier returns the carrier this transport serves.
func (c *Client) Carrier() string {
	return c.carrier
}

// State returns the current state of the circuit breaker.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Do sends req under op's deadline and returns the fully read response.
// Non-2xx responses are returned without error; 5xx count as breaker
// failures. Transport failures are returned as *shipper.CarrierAPIError.
func (c *Client) Do(ctx context.Context, op Operation, req *http.Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout(op))
	defer cancel()

	resp, err := c.breaker.Execute(func() (*Response, error) {
		httpResp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		return nil, c.classify(ctx, op, err)
	}
	return resp, nil
}

func (c *Client) timeout(op Operation) time.Duration {
	if op == OpBook {
		return c.timeouts.Book
	}
	return c.timeouts.Rate
}

// classify maps a transport failure to a CarrierAPIError. A request that
// may have reached the carrier is marked outcome-unknown.
func (c *Client) classify(ctx context.Context, op Operation, err error) error {
	var (
		netErr net.Error
		opErr  *net.OpError
		dnsErr *net.DNSError
	)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return shipper.NewCarrierAPIError(c.carrier, shipper.KindUnreachable, "circuit breaker open").
			WithCause(err)

	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return shipper.NewCarrierAPIError(c.carrier, shipper.KindTimeout, fmt.Sprintf("%s call exceeded %s", op, c.timeout(op))).
			WithCause(err).
			WithOutcomeUnknown(true)

	case errors.Is(err, context.Canceled):
		return shipper.NewCarrierAPIError(c.carrier, shipper.KindTimeout, fmt.Sprintf("%s call cancelled", op)).
			WithCause(err).
			WithOutcomeUnknown(true)

	case errors.As(err, &dnsErr), errors.As(err, &opErr) && opErr.Op == "dial":
		return shipper.NewCarrierAPIError(c.carrier, shipper.KindUnreachable, "could not connect").
			WithCause(err)

	default:
		return shipper.NewCarrierAPIError(c.carrier, shipper.KindUnreachable, "transport failure").
			WithCause(err).
			WithOutcomeUnknown(op == OpBook)
	}
}
