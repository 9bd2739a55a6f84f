package middleware

import (
	"net/http"

	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
)

// MaxRequestSize rejects bodies that declare a length above limit and caps
// the rest with http.MaxBytesReader, so a lying client fails at decode time.
func MaxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				_ = httputil.WriteError(w, apperrors.TooLarge(int(limit)))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
