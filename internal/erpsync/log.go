package erpsync

import (
	"context"
	"fmt"

	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// LogSyncer writes booking events to the log. Used when no downstream
// system is configured.
type LogSyncer struct {
	logger *otelzap.Logger
}

// NewLogSyncer creates a log-only syncer.
func NewLogSyncer(logger *otelzap.Logger) *LogSyncer {
	return &LogSyncer{logger: logger}
}

// Sync logs the booking event.
func (s *LogSyncer) Sync(ctx context.Context, b *booking.Booking) error {
	event, err := NewEvent(b)
	if err != nil {
		return fmt.Errorf("building event: %w", err)
	}
	s.logger.Ctx(ctx).Info("Booking ready for downstream",
		zap.String("event_type", event.EventType),
		zap.String("booking_id", b.ID),
		zap.String("reference", b.Reference),
		zap.String("carrier", b.Carrier),
		zap.ByteString("data", event.Data),
	)
	return nil
}

// Close is a no-op.
func (s *LogSyncer) Close() error {
	return nil
}

var _ booking.Syncer = (*LogSyncer)(nil)
