package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/carrierbridge/pkg/shipper/carrierhttp"
	"go.opentelemetry.io/otel/attribute"
)

// Sync backends.
const (
	SyncKafka = "kafka"
	SyncAMQP  = "amqp"
	SyncLog   = "log"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// DHL Express
	DHLEnabled       bool   `envconfig:"DHL_ENABLED" default:"true"`
	DHLUseMock       bool   `envconfig:"DHL_USE_MOCK" default:"false"`
	DHLBaseURL       string `envconfig:"DHL_BASE_URL" default:"https://express.api.dhl.com/mydhlapi"`
	DHLUsername      string `envconfig:"DHL_USERNAME"`
	DHLPassword      string `envconfig:"DHL_PASSWORD"`
	DHLAccountNumber string `envconfig:"DHL_ACCOUNT_NUMBER"`

	// FedEx
	FedExEnabled       bool   `envconfig:"FEDEX_ENABLED" default:"true"`
	FedExUseMock       bool   `envconfig:"FEDEX_USE_MOCK" default:"false"`
	FedExBaseURL       string `envconfig:"FEDEX_BASE_URL" default:"https://apis.fedex.com"`
	FedExClientID      string `envconfig:"FEDEX_CLIENT_ID"`
	FedExClientSecret  string `envconfig:"FEDEX_CLIENT_SECRET"`
	FedExAccountNumber string `envconfig:"FEDEX_ACCOUNT_NUMBER"`

	// Carrier transport
	RateTimeout        time.Duration `envconfig:"RATE_TIMEOUT" default:"20s"`
	BookingTimeout     time.Duration `envconfig:"BOOKING_TIMEOUT" default:"60s"`
	TokenTimeout       time.Duration `envconfig:"TOKEN_TIMEOUT" default:"15s"`
	TokenRefreshBuffer time.Duration `envconfig:"TOKEN_REFRESH_BUFFER" default:"300s"`

	BreakerDisabled     bool          `envconfig:"BREAKER_DISABLED" default:"false"`
	BreakerMaxRequests  uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval     time.Duration `envconfig:"BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout      time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	BreakerFailureRatio float64       `envconfig:"BREAKER_FAILURE_RATIO" default:"0.5"`
	BreakerMinRequests  uint32        `envconfig:"BREAKER_MIN_REQUESTS" default:"5"`

	// Persistence and locking. Empty values select in-process implementations.
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"2m"`

	// Downstream sync
	SyncBackend  string   `envconfig:"SYNC_BACKEND" default:"log"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"shipments.booked"`
	AMQPURL      string   `envconfig:"AMQP_URL"`
	AMQPQueue    string   `envconfig:"AMQP_QUEUE" default:"erp.shipments"`

	// Document archive. Disabled when no bucket is set.
	DocumentsBucket   string `envconfig:"DOCUMENTS_BUCKET"`
	DocumentsRegion   string `envconfig:"DOCUMENTS_REGION" default:"us-east-1"`
	DocumentsEndpoint string `envconfig:"DOCUMENTS_ENDPOINT"`
	DocumentsPrefix   string `envconfig:"DOCUMENTS_PREFIX"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"carrierbridge"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.SyncBackend {
	case SyncLog:
	case SyncKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for sync backend %q", c.SyncBackend)
		}
	case SyncAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for sync backend %q", c.SyncBackend)
		}
	default:
		return fmt.Errorf("unknown sync backend %q", c.SyncBackend)
	}
	return nil
}

// Timeouts returns the carrier call deadlines.
func (c *Config) Timeouts() carrierhttp.Timeouts {
	return carrierhttp.Timeouts{Rate: c.RateTimeout, Book: c.BookingTimeout}
}

// Breaker returns the carrier circuit breaker settings.
func (c *Config) Breaker() carrierhttp.BreakerConfig {
	return carrierhttp.BreakerConfig{
		Disabled:     c.BreakerDisabled,
		MaxRequests:  c.BreakerMaxRequests,
		Interval:     c.BreakerInterval,
		Timeout:      c.BreakerTimeout,
		FailureRatio: c.BreakerFailureRatio,
		MinRequests:  c.BreakerMinRequests,
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("dhl.enabled", c.DHLEnabled),
		attribute.Bool("fedex.enabled", c.FedExEnabled),
		attribute.String("sync.backend", c.SyncBackend),
	}
}
