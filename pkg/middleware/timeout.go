package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
)

// timeoutWriter wraps http.ResponseWriter to prevent writes after timeout.
// Handlers write headers into a private map that is copied out on
// WriteHeader, so the timeout path never races with the handler.
type timeoutWriter struct {
	http.ResponseWriter
	mu         sync.Mutex
	header     http.Header
	timedOut   bool
	written    bool
	statusCode int
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	if tw.timedOut || tw.written {
		return
	}

	dst := tw.ResponseWriter.Header()
	for key, values := range tw.header {
		dst[key] = values
	}
	tw.statusCode = code
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}

	if !tw.written {
		tw.writeHeaderLocked(http.StatusOK)
	}

	return tw.ResponseWriter.Write(b)
}

func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)

			tw := &timeoutWriter{
				ResponseWriter: w,
				header:         make(http.Header),
			}

			done := make(chan struct{})
			panicCh := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicCh <- p
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case p := <-panicCh:
				panic(p)
			case <-done:
				return
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				wasWritten := tw.written
				tw.timedOut = true
				if !wasWritten && errors.Is(ctx.Err(), context.DeadlineExceeded) {
					_ = httputil.WriteError(w, apperrors.Timeout("Request timeout"))
				}
			}
		})
	}
}
