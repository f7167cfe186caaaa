package middlewares

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/textileio/go-tonconnect/pkg/errors"
)

// RateLimiterConfig specifies a default rate limiting configuration, and optional custom rate limiting
// rules for particular routes. Routes are identified by their path template, e.g. /v1/events/{id}.
type RateLimiterConfig struct {
	Default RateLimiterRouteConfig

	RouteLimits map[string]RateLimiterRouteConfig
}

// RateLimiterRouteConfig specifies the maximum request per interval, and
// interval length for a rate limiting rule.
type RateLimiterRouteConfig struct {
	MaxRPI   uint64
	Interval time.Duration
}

// RateLimitController creates a new middleware to rate limit requests.
// It applies a priority based rate limiting key for the rate limiting:
// 1. An authenticated API client was detected.
// 2. If 1. isn't present, it will use an existing X-Forwarded-For IP included by a load-balancer in the infrastructure.
// 3. If 2. isn't present, it will use the connection remote address.
func RateLimitController(cfg RateLimiterConfig) (mux.MiddlewareFunc, error) {
	keyFunc := func(r *http.Request) (string, error) {
		client, ok := r.Context().Value(ContextKeyClient).(string)
		if ok && client != "" {
			return client, nil
		}

		ip, err := extractClientIP(r)
		if err != nil {
			return "", fmt.Errorf("extract client ip: %s", err)
		}
		return ip, nil
	}

	defaultRL, err := createRateLimiter(cfg.Default, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("creating default rate limiter: %s", err)
	}
	customRLs := make(map[string]*httplimit.Middleware, len(cfg.RouteLimits))
	for route, routeCfg := range cfg.RouteLimits {
		customRLs[route], err = createRateLimiter(routeCfg, keyFunc)
		if err != nil {
			return nil, fmt.Errorf("creating custom rate limiter for route %s: %s", route, err)
		}
	}

	return func(next http.Handler) http.Handler {
		defaultRLHandler := defaultRL.Handle(next)
		customRLHandlers := make(map[string]http.Handler, len(customRLs))
		for route := range customRLs {
			customRLHandlers[route] = customRLs[route].Handle(next)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := keyFunc(r); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(errors.ServiceError{Message: "can't identify the client"})
				return
			}
			m := defaultRLHandler
			if custom, ok := customRLHandlers[routeOf(r)]; ok {
				m = custom
			}
			m.ServeHTTP(w, r)
		})
	}, nil
}

// routeOf returns the path template of the matched route, or the raw path
// when the request wasn't routed by mux.
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func createRateLimiter(cfg RateLimiterRouteConfig, kf httplimit.KeyFunc) (*httplimit.Middleware, error) {
	defaultStore, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.MaxRPI,
		Interval: cfg.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating default memory: %s", err)
	}
	m, err := httplimit.NewMiddleware(defaultStore, kf)
	if err != nil {
		return nil, fmt.Errorf("creating default httplimiter: %s", err)
	}
	return m, nil
}

func extractClientIP(r *http.Request) (string, error) {
	// Use X-Forwarded-For IP if present.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		return ip, nil
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", fmt.Errorf("getting ip from remote addr: %s", err)
	}
	return ip, nil
}
