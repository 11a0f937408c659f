// Package shield provides the HTTP middleware in front of the domsig API:
// security headers, body limits, request IDs and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger, 10<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAPIStack returns the standard middleware stack for the JSON API.
// It must be mounted with chi's Use: GetHead routes HEAD through the GET
// handlers using the chi routing context.
func DefaultAPIStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.GetHead,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID(logger),
	}
}
