package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/config"
	"github.com/tournevent/carrierbridge/internal/documents"
	"github.com/tournevent/carrierbridge/internal/erpsync"
	"github.com/tournevent/carrierbridge/internal/idempotency"
	"github.com/tournevent/carrierbridge/internal/store/postgres"
	"github.com/tournevent/carrierbridge/internal/telemetry"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/carrierhttp"
	"github.com/tournevent/carrierbridge/pkg/shipper/credential"
	"github.com/tournevent/carrierbridge/pkg/shipper/dhl"
	"github.com/tournevent/carrierbridge/pkg/shipper/fedex"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel,
		zap.String("service", cfg.ServiceName),
		zap.String("version", cfg.Version),
	)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.Attributes()...)
	return shutdown, err
}

func initMetrics() (*prometheus.Registry, *telemetry.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, telemetry.NewMetrics(reg)
}

func initValidator() *validation.Validator {
	return validation.New(validation.DefaultMetadata()).
		SetConstraints(shipper.CarrierDHL, dhl.Limits).
		SetConstraints(shipper.CarrierFedEx, fedex.Limits)
}

// initShipperRegistry registers the enabled carriers. Clients are built on
// first use so that a misconfigured carrier does not block startup.
func initShipperRegistry(cfg *config.Config, metrics *telemetry.Metrics, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Registry {
	registry := shipper.NewRegistry()
	observer := carrierhttp.WithStateObserver(metrics.RecordBreakerState)

	if cfg.DHLEnabled {
		registry.RegisterFactory(shipper.CarrierDHL, func() (shipper.Shipper, error) {
			if !cfg.DHLUseMock && (cfg.DHLUsername == "" || cfg.DHLPassword == "") {
				return nil, errors.New("dhl: DHL_USERNAME and DHL_PASSWORD are required")
			}
			return dhl.New(dhl.Config{
				BaseURL:       cfg.DHLBaseURL,
				Username:      cfg.DHLUsername,
				Password:      cfg.DHLPassword,
				AccountNumber: cfg.DHLAccountNumber,
				UseMock:       cfg.DHLUseMock,
				Timeouts:      cfg.Timeouts(),
				Breaker:       cfg.Breaker(),
			}, logger, tracer, observer), nil
		})
	}

	if cfg.FedExEnabled {
		provider := credential.NewOAuthProvider(logger,
			credential.WithRefreshBuffer(cfg.TokenRefreshBuffer),
			credential.WithTokenTimeout(cfg.TokenTimeout),
			credential.WithExchangeObserver(metrics.RecordTokenExchange),
		)
		registry.RegisterFactory(shipper.CarrierFedEx, func() (shipper.Shipper, error) {
			if !cfg.FedExUseMock && (cfg.FedExClientID == "" || cfg.FedExClientSecret == "") {
				return nil, errors.New("fedex: FEDEX_CLIENT_ID and FEDEX_CLIENT_SECRET are required")
			}
			return fedex.New(fedex.Config{
				BaseURL:       cfg.FedExBaseURL,
				ClientID:      cfg.FedExClientID,
				ClientSecret:  cfg.FedExClientSecret,
				AccountNumber: cfg.FedExAccountNumber,
				UseMock:       cfg.FedExUseMock,
				Timeouts:      cfg.Timeouts(),
				Breaker:       cfg.Breaker(),
			}, provider, logger, tracer, observer), nil
		})
	}

	return registry
}

type dependencies struct {
	store   booking.Store
	source  booking.ShipmentSource
	locker  idempotency.Locker
	syncer  booking.Syncer
	archive booking.Archiver
	closers []func() error
}

func (d *dependencies) close(logger *otelzap.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("Failed to close dependency", zap.Error(err))
		}
	}
}

// initDependencies connects the configured infrastructure. Unset
// connection settings fall back to in-process implementations.
func initDependencies(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (*dependencies, error) {
	deps := &dependencies{
		store:  booking.NewMemoryStore(),
		locker: idempotency.NewMemoryLocker(),
	}
	fail := func(err error) (*dependencies, error) {
		deps.close(logger)
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		deps.closers = append(deps.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fail(err)
		}
		deps.store = postgres.NewBookingRepository(pool)
		deps.source = postgres.NewOrderSource(pool)
	} else {
		logger.Warn("DATABASE_URL not set, bookings are kept in memory")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		deps.closers = append(deps.closers, client.Close)
		deps.locker = idempotency.NewRedisLocker(client, logger, idempotency.WithTTL(cfg.LockTTL))
	}

	switch cfg.SyncBackend {
	case config.SyncKafka:
		syncer := erpsync.NewKafkaSyncer(erpsync.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		deps.closers = append(deps.closers, syncer.Close)
		deps.syncer = syncer
	case config.SyncAMQP:
		syncer, err := erpsync.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			return fail(err)
		}
		deps.closers = append(deps.closers, syncer.Close)
		deps.syncer = syncer
	default:
		deps.syncer = erpsync.NewLogSyncer(logger)
	}

	if cfg.DocumentsBucket != "" {
		archive, err := documents.NewS3Archive(ctx, documents.Config{
			Bucket:         cfg.DocumentsBucket,
			Region:         cfg.DocumentsRegion,
			Endpoint:       cfg.DocumentsEndpoint,
			Prefix:         cfg.DocumentsPrefix,
			ForcePathStyle: cfg.DocumentsEndpoint != "",
		}, logger)
		if err != nil {
			return fail(err)
		}
		deps.archive = archive
	}

	return deps, nil
}
