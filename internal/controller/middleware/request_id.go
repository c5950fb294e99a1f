package middleware

import (
	"net/http"

	"docflow/internal/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestContext copies the chi request ID into the logger context so
// request-scoped loggers carry it. It must run after chi's RequestID.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			w.Header().Set(chimw.RequestIDHeader, id)
			r = r.WithContext(logger.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
