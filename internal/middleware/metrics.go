package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nightstudio/paywall/internal/app/metrics"
)

// MetricsMiddleware records request counts and latency by route template.
func MetricsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next)
	}
}
