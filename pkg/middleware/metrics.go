package middleware

import (
	"net/http"
	"time"

	"bonzai/pkg/metrics"
)

func HTTPMetrics(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			m.Observe(r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
