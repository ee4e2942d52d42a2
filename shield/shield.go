// Package shield provides the HTTP middleware stack placed in front of the
// contentvis endpoints: security headers, body limits, request tracing,
// CORS for the cross-origin detection script, and the per-client storage lock
// on URL metric submissions.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(cfg.AllowedOrigins, cfg.MaxBody) {
//	    r.Use(mw)
//	}
//	r.With(shield.NewStoreLock(time.Minute).Middleware).Post("/url-metrics:store", h)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxBody bounds request bodies (pages posted for optimization and
// URL metric payloads).
const DefaultMaxBody = 4 << 20

// DefaultAPIStack returns the middleware stack for the contentvis HTTP API,
// ordered HeadToGet → SecurityHeaders → CORS → MaxBody → TraceID. maxBody <= 0
// uses DefaultMaxBody.
func DefaultAPIStack(allowedOrigins []string, maxBody int64) []func(http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		CORS(allowedOrigins),
		MaxBody(maxBody),
		TraceID,
	}
}
