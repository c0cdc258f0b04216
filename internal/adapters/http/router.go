package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type Dependencies struct {
	Service  *application.Service
	Verifier ports.IdentityVerifier
	Metrics  *metrics.Metrics
	// Ready reports storage reachability for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler is the HTTP adapter entrypoint for license use-cases.
type Handler struct {
	service  *application.Service
	verifier ports.IdentityVerifier
	metrics  *metrics.Metrics
	ready    func(ctx context.Context) error
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		service:  deps.Service,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
		ready:    deps.Ready,
	}
}

// NewRouter registers the license routes and middleware stack. Mutations
// require a bearer token; the active check accepts one optionally.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	if handler.metrics != nil {
		r.Use(handler.metricsMiddleware)
		r.Handle("/metrics", handler.metrics.Handler())
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/licenses/{license_id}", handler.getLicense)
		r.Post("/licenses/lookup", handler.lookupLicense)
		r.Post("/licenses/exists", handler.licenseExists)
		r.Get("/guards/{asset_hash}", handler.getGuard)

		r.Group(func(r chi.Router) {
			r.Use(handler.optionalAuthMiddleware)
			r.Post("/licenses/active", handler.checkActive)
		})

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/licenses", handler.createLicense)
			r.Post("/licenses/{license_id}/revoke", handler.revokeLicense)
		})
	})

	return r
}
