package middlewares

import (
	"net/http"

	"github.com/textileio/go-tonconnect/pkg/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// OtelHTTP records request metrics for the API operation, labeled with the
// matched route template so /v1/events/{id} stays a single series.
func OtelHTTP(operation string) func(h http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		labeled := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			labeler, _ := otelhttp.LabelerFromContext(r.Context())
			labeler.Add(metrics.BaseAttrs...)
			labeler.Add(attribute.String("route", routeOf(r)))
			next.ServeHTTP(rw, r)
		})
		return otelhttp.NewHandler(labeled, operation)
	}
}
