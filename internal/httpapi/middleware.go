package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

const correlationIDHeader = "X-Correlation-Id"

// withCorrelationID attaches a correlation id to every request: the
// caller's own X-Correlation-Id header if present, otherwise a fresh one,
// so every log line and error response for a request can be traced
// end to end.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}
