package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"bonzai/pkg/kafka"
	"bonzai/pkg/logger"
	"bonzai/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	PublishFunc func(ctx context.Context, msg kafka.Message) error
	sent        []kafka.Message
}

func (m *mockProducer) Publish(ctx context.Context, msg kafka.Message) error {
	m.sent = append(m.sent, msg)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, msg)
	}
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &mockProducer{}
	p := NewKafkaPublisher(producer)
	fixed := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ctx := logger.WithRequestID(context.Background(), "req-42")
	booking := &model.Booking{BookingID: "b-1", Status: model.BookingStatusConfirmed, ReservedRooms: []int{101}}

	require.NoError(t, p.Publish(ctx, TypeBookingCreated, booking))
	require.Len(t, producer.sent, 1)

	msg := producer.sent[0]
	assert.Equal(t, "b-1", msg.Key)
	assert.Equal(t, TypeBookingCreated, msg.GetEventType())
	assert.Equal(t, "req-42", msg.GetCorrelationID())
	assert.Equal(t, Source, msg.Headers[kafka.HeaderSource])
	assert.Equal(t, fixed, msg.Timestamp)

	var event BookingEvent
	require.NoError(t, msg.DecodeValue(&event))
	assert.Equal(t, "b-1", event.BookingID)
	assert.Equal(t, []int{101}, event.Booking.ReservedRooms)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	brokerDown := errors.New("broker down")
	p := NewKafkaPublisher(&mockProducer{PublishFunc: func(context.Context, kafka.Message) error { return brokerDown }})

	err := p.Publish(context.Background(), TypeBookingCancelled, &model.Booking{BookingID: "b-1"})
	assert.ErrorIs(t, err, brokerDown)
}
