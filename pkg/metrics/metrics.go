// Package metrics exposes the Prometheus collectors used across the service.
// Every constructor takes a Registerer so tests can use a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bonzai"

// Booking operation results.
const (
	ResultSuccess  = "success"
	ResultConflict = "conflict"
	ResultRejected = "rejected"
	ResultError    = "error"
)

type BookingMetrics struct {
	operations    *prometheus.CounterVec
	txDuration    *prometheus.HistogramVec
	locksAcquired prometheus.Counter
	locksReleased prometheus.Counter
	compensations *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	f := promauto.With(reg)
	return &BookingMetrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "operations_total",
			Help:      "Booking lifecycle operations by operation and result.",
		}, []string{"operation", "result"}),
		txDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "transaction_duration_seconds",
			Help:      "Latency of atomic booking transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		locksAcquired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "night_locks_acquired_total",
			Help:      "Night locks written by committed transactions.",
		}),
		locksReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "night_locks_released_total",
			Help:      "Night locks deleted by committed transactions.",
		}),
		compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "modify_compensations_total",
			Help:      "Lock releases run after a rejected modification swap, by result.",
		}, []string{"result"}),
	}
}

// The methods below accept a nil receiver so callers can run without metrics.

func (m *BookingMetrics) Operation(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *BookingMetrics) Transaction(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *BookingMetrics) LocksAcquired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.locksAcquired.Add(float64(n))
}

func (m *BookingMetrics) LocksReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.locksReleased.Add(float64(n))
}

func (m *BookingMetrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *HTTPMetrics) Observe(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

type KafkaMetrics struct {
	published *prometheus.CounterVec
	duration  prometheus.Histogram
}

func NewKafkaMetrics(reg prometheus.Registerer) *KafkaMetrics {
	f := promauto.With(reg)
	return &KafkaMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Messages handed to Kafka by topic and result.",
		}, []string{"topic", "result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing a message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *KafkaMetrics) Published(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.published.WithLabelValues(topic, result).Inc()
	m.duration.Observe(d.Seconds())
}

// Handler serves the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
