package erpsync

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Writer is the subset of *kafka.Writer the syncer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaSyncer publishes booking events to a Kafka topic keyed by reference.
type KafkaSyncer struct {
	writer Writer
	logger *otelzap.Logger
}

// NewKafkaSyncer creates a syncer writing to cfg.Topic with acks from all replicas.
func NewKafkaSyncer(cfg KafkaConfig, logger *otelzap.Logger) *KafkaSyncer {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaSyncerWithWriter(w, logger)
}

// NewKafkaSyncerWithWriter creates a syncer on an existing writer.
func NewKafkaSyncerWithWriter(w Writer, logger *otelzap.Logger) *KafkaSyncer {
	return &KafkaSyncer{writer: w, logger: logger}
}

// Sync publishes the booking event and waits for the broker acknowledgement.
func (s *KafkaSyncer) Sync(ctx context.Context, b *booking.Booking) error {
	event, err := NewEvent(b)
	if err != nil {
		return fmt.Errorf("building event: %w", err)
	}
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
			{Key: "booking_id", Value: []byte(b.ID)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Ctx(ctx).Error("Failed to publish booking event",
			zap.String("booking_id", b.ID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return fmt.Errorf("publish booking event: %w", err)
	}

	s.logger.Ctx(ctx).Debug("Booking event published",
		zap.String("booking_id", b.ID),
		zap.String("event_type", event.EventType),
		zap.String("reference", event.AggregateID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSyncer) Close() error {
	return s.writer.Close()
}

// headerCarrier adapts Kafka headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(*c.headers))
	for i, h := range *c.headers {
		keys[i] = h.Key
	}
	return keys
}

var _ booking.Syncer = (*KafkaSyncer)(nil)
