// Package events announces committed booking transitions.
package events

import (
	"context"
	"fmt"
	"time"

	"bonzai/pkg/kafka"
	"bonzai/pkg/logger"
	"bonzai/pkg/model"
)

const (
	TypeBookingCreated   = "booking.created"
	TypeBookingModified  = "booking.modified"
	TypeBookingCancelled = "booking.cancelled"

	SchemaVersion = "1"
	Source        = "bookings"
)

// BookingEvent is the payload of every booking event.
type BookingEvent struct {
	Type       string         `json:"type"`
	BookingID  string         `json:"booking_id"`
	Booking    *model.Booking `json:"booking"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher is called after a transition has committed. Implementations
// report failures but callers treat them as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, eventType string, booking *model.Booking) error
}

type MessagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

type KafkaPublisher struct {
	producer MessagePublisher
	now      func() time.Time
}

func NewKafkaPublisher(producer MessagePublisher) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, booking *model.Booking) error {
	at := p.now().UTC()
	msg, err := kafka.NewMessage().
		WithKey(booking.BookingID).
		WithValue(BookingEvent{
			Type:       eventType,
			BookingID:  booking.BookingID,
			Booking:    booking,
			OccurredAt: at,
		}).
		WithEventType(eventType).
		WithCorrelationID(logger.RequestID(ctx)).
		WithSchemaVersion(SchemaVersion).
		WithSource(Source).
		WithTimestamp(at).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, *model.Booking) error { return nil }
