package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const serviceName = "M91-License-Service"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

// logHTTPOperationError records a rejected request with the route pattern
// and, when the request was authenticated, the calling wallet.
func logHTTPOperationError(r *http.Request, operation string, statusCode int, code, message string, err error) {
	ctx := r.Context()
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"method", r.Method,
		"route", routePattern(r),
		"status_code", statusCode,
		"error_code", code,
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if claims, ok := claimsFromContext(ctx); ok {
		fields = append(fields, "caller_wallet", claims.Wallet.String())
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= 500 {
		httpLogger().ErrorContext(ctx, "license request failed", fields...)
		return
	}
	httpLogger().WarnContext(ctx, "license request rejected", fields...)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
