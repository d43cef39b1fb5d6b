// Package dhl provides integration with the DHL Express (MyDHL) API.
// Requests are authenticated with static Basic credentials.
package dhl

import (
	"context"

	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/carrierhttp"
	"github.com/tournevent/carrierbridge/pkg/shipper/credential"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const carrierName = shipper.CarrierDHL

// Config holds DHL Express configuration.
type Config struct {
	BaseURL       string
	Username      string
	Password      string
	AccountNumber string
	UseMock       bool // When true, uses mock API client
	Timeouts      carrierhttp.Timeouts
	Breaker       carrierhttp.BreakerConfig
}

// Client is the DHL Express shipper client.
// It implements the shipper.Shipper interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config      Config
	apiClient   APIClient
	provider    credential.Provider
	transformer *Transformer
	logger      *otelzap.Logger
	tracer      trace.Tracer
}

// New creates a new DHL client authenticating with cfg's Basic credentials.
// If cfg.UseMock is true, it uses a mock API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer, opts ...carrierhttp.Option) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		transport := carrierhttp.New(carrierhttp.Config{
			Carrier:  carrierName,
			Timeouts: cfg.Timeouts,
			Breaker:  cfg.Breaker,
		}, logger, opts...)
		apiClient = NewHTTPAPIClient(cfg.BaseURL, transport)
	}

	provider := credential.NewStaticProvider().SetBasic(carrierName, cfg.Username, cfg.Password)
	return NewWithAPIClient(cfg, apiClient, provider, logger, tracer)
}

// NewWithAPIClient creates a new DHL client with a custom API client and
// credential provider. This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, provider credential.Provider, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(carrierName)
	}
	return &Client{
		config:      cfg,
		apiClient:   apiClient,
		provider:    provider,
		transformer: NewTransformer(cfg.AccountNumber, logger),
		logger:      logger,
		tracer:      tracer,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// GetRates returns DHL product offers for a shipment.
func (c *Client) GetRates(ctx context.Context, req *shipper.ShipmentRequest) ([]shipper.RateQuote, error) {
	ctx, span := c.tracer.Start(ctx, "dhl.GetRates", trace.WithAttributes(
		attribute.String("carrier", carrierName),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	c.logger.Info("Getting DHL rates",
		zap.String("reference", req.Reference),
		zap.String("origin_country", req.Shipper.Address.CountryCode),
		zap.String("destination_country", req.Receiver.Address.CountryCode),
		zap.Int("package_count", req.PackageCount()),
	)

	apiReq, err := c.transformer.ToRateRequest(req)
	if err != nil {
		return nil, c.fail(span, err)
	}

	var apiResp *RateResponse
	err = credential.Do(ctx, c.provider, carrierName, func(ctx context.Context, cred shipper.Credential) error {
		var err error
		apiResp, err = c.apiClient.GetRates(ctx, cred, apiReq)
		return err
	})
	if err != nil {
		c.logger.Error("DHL API error", zap.String("reference", req.Reference), zap.Error(err))
		return nil, c.fail(span, err)
	}

	quotes, err := c.transformer.FromRateResponseIn(apiResp, req.PlannedShipAt.Location())
	if err != nil {
		return nil, c.fail(span, err)
	}
	span.SetAttributes(attribute.Int("quote_count", len(quotes)))
	return quotes, nil
}

// BookShipment books a shipment with DHL Express.
func (c *Client) BookShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error) {
	ctx, span := c.tracer.Start(ctx, "dhl.BookShipment", trace.WithAttributes(
		attribute.String("carrier", carrierName),
		attribute.String("reference", req.Reference),
	))
	defer span.End()

	c.logger.Info("Booking DHL shipment",
		zap.String("reference", req.Reference),
		zap.String("service_code", req.ServiceCode),
		zap.Int("package_count", req.PackageCount()),
	)

	apiReq, err := c.transformer.ToBookingRequest(req)
	if err != nil {
		return nil, c.fail(span, err)
	}

	var apiResp *ShipmentResponse
	err = credential.Do(ctx, c.provider, carrierName, func(ctx context.Context, cred shipper.Credential) error {
		var err error
		apiResp, err = c.apiClient.CreateShipment(ctx, cred, apiReq)
		return err
	})
	if err != nil {
		c.logger.Error("DHL API error",
			zap.String("reference", req.Reference),
			zap.Bool("outcome_unknown", shipper.IsOutcomeUnknown(err)),
			zap.Error(err),
		)
		return nil, c.fail(span, err)
	}

	result, err := c.transformer.FromBookingResponse(apiResp)
	if err != nil {
		return nil, c.fail(span, err)
	}

	c.logger.Info("DHL shipment booked",
		zap.String("reference", req.Reference),
		zap.String("tracking_number", result.TrackingNumber),
		zap.Int("document_count", len(result.Documents)),
	)
	span.SetAttributes(attribute.String("tracking_number", result.TrackingNumber))
	return result, nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, shipper.KindOf(err))
	return err
}

// Ensure Client implements shipper.Shipper.
var _ shipper.Shipper = (*Client)(nil)
