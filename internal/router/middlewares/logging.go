package middlewares

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WithLogging logs every request along with its status code and duration.
// Non-2xx responses are logged as warnings.
func WithLogging(h http.Handler) http.Handler {
	handler := func(rw http.ResponseWriter, req *http.Request) {
		start := time.Now()
		loggedRW := &responseWriterLogger{
			ResponseWriter: rw,
			statusCode:     http.StatusOK,
		}
		h.ServeHTTP(loggedRW, req)

		ev := log.Ctx(req.Context()).Debug()
		if loggedRW.statusCode < 200 || loggedRW.statusCode >= 300 {
			ev = log.Ctx(req.Context()).Warn()
		}
		ev.Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("statusCode", loggedRW.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request served")
	}
	return http.HandlerFunc(handler)
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseWriterLogger) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.statusCode = statusCode
}
