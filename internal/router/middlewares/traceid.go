package middlewares

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TraceID creates a trace id for tracing. Every log goes with a trace id and it is also returned as a HTTP header.
// A trace id provided by the caller in the Trace-ID header is reused.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("Trace-ID")
		if _, err := uuid.Parse(traceID); err != nil {
			id, err := uuid.NewRandom()
			if err != nil {
				log.Warn().Err(err).Msg("failed to generate a trace id")
				next.ServeHTTP(w, r)
				return
			}
			traceID = id.String()
		}

		ctx := r.Context()
		logger := log.With().Str("traceId", traceID).Logger()
		ctx = logger.WithContext(ctx)
		if ip, err := extractClientIP(r); err == nil {
			ctx = context.WithValue(ctx, ContextIPAddress, ip)
		}
		r = r.WithContext(ctx)
		w.Header().Set("Trace-ID", traceID)

		next.ServeHTTP(w, r)
	})
}
