package middleware

import (
	"mime"
	"net/http"

	apperrors "bonzai/pkg/errors"
	httputil "bonzai/pkg/http"
	"bonzai/pkg/logger"
)

func ContentTypeValidation(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiresContentType(r) {
				contentType := extractContentType(r.Header.Get("Content-Type"))

				if contentType != "application/json" {
					log.FromContext(r.Context()).Warn("Invalid Content-Type header",
						"content_type", contentType,
						"path", r.URL.Path,
						"method", r.Method,
					)
					_ = httputil.WriteError(w, apperrors.Unsupported("Content-Type must be application/json"))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Body-less POSTs such as /cancel carry no content type.
func requiresContentType(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return r.ContentLength != 0
	}
	return false
}

func extractContentType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mediaType
}
