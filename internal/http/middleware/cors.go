package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/rs/cors"

	"github.com/davidbz/heyboss/internal/config"
	"github.com/davidbz/heyboss/internal/observability"
)

// CORS creates the relay's cross-origin policy using github.com/rs/cors.
//
// An empty origin list denies every cross-origin request, and credentials are
// never combined with a wildcard origin.
func CORS(cfg *config.CORSConfig) Middleware {
	if cfg == nil {
		// Return no-op middleware if config is nil.
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	opts := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	if len(cfg.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return false }
	}

	if opts.AllowCredentials && slices.Contains(cfg.AllowedOrigins, "*") {
		observability.FromContext(context.Background()).Warn(
			"ignoring CORS_ALLOW_CREDENTIALS with a wildcard origin",
		)
		opts.AllowCredentials = false
	}

	c := cors.New(opts)

	return func(next http.Handler) http.Handler {
		return c.Handler(next)
	}
}
