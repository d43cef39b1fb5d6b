package erpsync

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the syncer uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSyncer publishes booking events to a durable queue.
type AMQPSyncer struct {
	conn   *amqp.Connection
	ch     Channel
	queue  string
	logger *otelzap.Logger
}

// DialAMQP connects to url, declares queue and returns a syncer publishing to it.
func DialAMQP(url, queue string, logger *otelzap.Logger) (*AMQPSyncer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	s := NewAMQPSyncer(ch, queue, logger)
	s.conn = conn
	return s, nil
}

// NewAMQPSyncer creates a syncer on an open channel. The queue must exist.
func NewAMQPSyncer(ch Channel, queue string, logger *otelzap.Logger) *AMQPSyncer {
	return &AMQPSyncer{ch: ch, queue: queue, logger: logger}
}

// Sync publishes the booking event as a persistent message.
func (s *AMQPSyncer) Sync(ctx context.Context, b *booking.Booking) error {
	event, err := NewEvent(b)
	if err != nil {
		return fmt.Errorf("building event: %w", err)
	}
	body, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Type:         event.EventType,
		Timestamp:    event.Timestamp,
		AppId:        event.Source,
		Headers:      amqp.Table{"booking_id": b.ID, "reference": b.Reference},
		Body:         body,
	}

	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		s.logger.Ctx(ctx).Error("Failed to publish booking event",
			zap.String("booking_id", b.ID),
			zap.String("queue", s.queue),
			zap.Error(err),
		)
		return fmt.Errorf("publish to %s: %w", s.queue, err)
	}

	s.logger.Ctx(ctx).Debug("Booking event published",
		zap.String("booking_id", b.ID),
		zap.String("queue", s.queue),
		zap.String("event_type", event.EventType),
	)
	return nil
}

// Close closes the channel and, when dialled, the connection.
func (s *AMQPSyncer) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

var _ booking.Syncer = (*AMQPSyncer)(nil)
