package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// AdminTokenHeader carries the staff API token when a bearer header is not
// convenient.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken guards the staff API with a static token. An empty token
// disables the API entirely.
func AdminToken(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, apperrors.New(apperrors.CodeForbidden, "admin API is disabled"))
				return
			}
			got := r.Header.Get(AdminTokenHeader)
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				LoggerWithCorrelation(r.Context(), logger).Warn("rejected admin request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, apperrors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
