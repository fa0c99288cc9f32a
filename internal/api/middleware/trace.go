package middleware

import (
	"net/http"

	"github.com/mediafetch/fetch-api/internal/api/shared"
)

// Trace attaches a random trace ID to every request context and echoes it in
// the X-Trace-ID response header.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		w.Header().Set("X-Trace-ID", shared.GetTraceID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
