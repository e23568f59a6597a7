package middleware

import (
	"net/http"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// Body size limits.
const (
	// MaxWebhookBodySize covers the largest Cloud API batch; media arrive
	// as ids, never inline.
	MaxWebhookBodySize = 1 << 20
	// MaxJSONBodySize covers the staff API request bodies.
	MaxJSONBodySize = 64 << 10
)

// BodySizeLimiter rejects bodies larger than maxBytes. A declared length
// over the limit is refused up front; chunked bodies fail on read.
func BodySizeLimiter(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				writeError(w, apperrors.New(apperrors.CodeTooLarge, "request body too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
