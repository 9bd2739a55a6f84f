package kafka_middleware

import (
	"context"
	"time"

	"bonzai/pkg/kafka"
	"bonzai/pkg/metrics"
)

// MetricsProducerMiddleware records publish outcomes and latency.
func MetricsProducerMiddleware(m *metrics.KafkaMetrics) kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		start := time.Now()
		err := next(ctx, msg)
		m.Published(msg.Topic, err, time.Since(start))
		return err
	}
}
