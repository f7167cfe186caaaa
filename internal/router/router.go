package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/textileio/go-tonconnect/internal/router/controllers"
	"github.com/textileio/go-tonconnect/internal/router/middlewares"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/requestprocessor"
	"github.com/textileio/go-tonconnect/pkg/session"
)

// Config configures the API surface.
type Config struct {
	MaxRPI          uint64
	RateLimInterval time.Duration
	// RouteLimits overrides the default rate limit of particular routes.
	RouteLimits     map[string]middlewares.RateLimiterRouteConfig
	// APIKeys are the accepted bearer tokens. Authentication is disabled
	// when empty.
	APIKeys         []string
}

// Services are the components the API exposes.
type Services struct {
	Ingress   controllers.EventIngress
	Store     eventstore.EventStore
	Sessions  session.Manager
	Pending   controllers.PendingRequests
	Processor requestprocessor.RequestProcessor
}

// ConfiguredRouter returns a fully configured Router that can be used as an http handler.
func ConfiguredRouter(cfg Config, svcs Services) (*Router, error) {
	eventsController := controllers.NewEventsController(svcs.Ingress, svcs.Store)
	sessionsController := controllers.NewSessionsController(svcs.Sessions, svcs.Processor)
	requestsController := controllers.NewRequestsController(svcs.Pending, svcs.Processor)
	infraController := controllers.NewInfraController(svcs.Store)

	// General router configuration.
	router := NewRouter()
	router.Use(middlewares.CORS, middlewares.TraceID)

	rateLim, err := middlewares.RateLimitController(middlewares.RateLimiterConfig{
		Default: middlewares.RateLimiterRouteConfig{
			MaxRPI:   cfg.MaxRPI,
			Interval: cfg.RateLimInterval,
		},
		RouteLimits: cfg.RouteLimits,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rate limit controller middleware: %s", err)
	}
	auth := middlewares.Authentication(cfg.APIKeys)
	api := func(operation string) []mux.MiddlewareFunc {
		return []mux.MiddlewareFunc{middlewares.WithLogging, middlewares.OtelHTTP(operation), auth, rateLim}
	}

	// Events.
	router.Post("/v1/events", eventsController.PostEvent, api("PostEvent")...)
	router.Get("/v1/events", eventsController.ListEvents, api("ListEvents")...)
	router.Get("/v1/events/stats", eventsController.GetStats, api("GetStats")...)
	router.Get("/v1/events/{id}", eventsController.GetEvent, api("GetEvent")...)

	// Sessions.
	router.Get("/v1/sessions", sessionsController.ListSessions, api("ListSessions")...)
	router.Get("/v1/sessions/{id}", sessionsController.GetSession, api("GetSession")...)
	router.Delete("/v1/sessions/{id}", sessionsController.DeleteSession, api("DeleteSession")...)

	// Pending requests.
	router.Get("/v1/requests", requestsController.ListRequests, api("ListRequests")...)
	router.Get("/v1/requests/{id}", requestsController.GetRequest, api("GetRequest")...)
	router.Post("/v1/requests/{id}/approve", requestsController.ApproveRequest, api("ApproveRequest")...)
	router.Post("/v1/requests/{id}/reject", requestsController.RejectRequest, api("RejectRequest")...)

	router.Get("/version", infraController.Version, middlewares.WithLogging, middlewares.OtelHTTP("Version"), rateLim)

	// Health endpoint configuration.
	router.Get("/healthz", infraController.Healthz)
	router.Get("/health", infraController.Healthz)

	return router, nil
}

// Router provides a nice api around mux.Router.
type Router struct {
	r *mux.Router
}

// NewRouter is a Mux HTTP router constructor.
func NewRouter() *Router {
	r := mux.NewRouter()
	r.PathPrefix("/").Methods(http.MethodOptions) // accept OPTIONS on all routes and do nothing
	return &Router{r: r}
}

// Get creates a subroute on the specified URI that only accepts GET. You can provide specific middlewares.
func (r *Router) Get(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodGet)
	sub.Use(mid...)
}

// Post creates a subroute on the specified URI that only accepts POST. You can provide specific middlewares.
func (r *Router) Post(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodPost)
	sub.Use(mid...)
}

// Delete creates a subroute on the specified URI that only accepts DELETE. You can provide specific middlewares.
func (r *Router) Delete(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodDelete)
	sub.Use(mid...)
}

// Use adds middlewares to all routes. Should be used when a middleware should be execute all all routes (e.g. CORS).
func (r *Router) Use(mid ...mux.MiddlewareFunc) {
	r.r.Use(mid...)
}

// Handler returns the configured router http handler.
func (r *Router) Handler() http.Handler {
	return r.r
}
