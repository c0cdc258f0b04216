package ports

import (
	"context"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// CallerClaims is what transports learn from a verified bearer token.
type CallerClaims struct {
	Wallet    domain.Identity
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IdentityVerifier turns a raw credential into a verified caller identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (CallerClaims, error)
}

// RateLimiter answers whether key may spend one unit from bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// Metrics receives domain outcomes. A nil Metrics is never passed to the
// application; NopMetrics covers the unwired case.
type Metrics interface {
	LicenseCreated(licenseType domain.LicenseType)
	LicenseRevoked(licenseType domain.LicenseType)
	OperationRejected(operation, reason string)
}

type NopMetrics struct{}

func (NopMetrics) LicenseCreated(domain.LicenseType) {}
func (NopMetrics) LicenseRevoked(domain.LicenseType) {}
func (NopMetrics) OperationRejected(string, string) {}
