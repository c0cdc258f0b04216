package application

import (
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const (
	rateLimitBucketCreate = "license_create"
	rateLimitBucketRevoke = "license_revoke"
)

type Config struct {
	ServiceName string
}

// Actor is the verified caller of a use-case. Transports build it from the
// identity collaborator; the application trusts Wallet as given.
type Actor struct {
	Wallet    domain.Identity
	RequestID string
}

type CreateLicenseInput struct {
	AssetHash      domain.AssetHash
	Licensee       domain.Identity
	AssetReference string
	LicenseType    domain.LicenseType
	TermsRef       string
	Territory      string
	ValidUntil     int64
}

// CheckActiveInput selects the license to evaluate. Licensee falls back to
// the caller; AssetScoped selects the license that has no licensee.
type CheckActiveInput struct {
	AssetHash   domain.AssetHash
	Licensee    domain.Identity
	AssetScoped bool
	Territory   string
}

type ActiveStatus struct {
	LicenseID   domain.RecordID
	Active      bool
	Reason      string
	LicenseType domain.LicenseType
	ValidUntil  int64
	Territory   string
}

type GuardStatus struct {
	GuardID         domain.RecordID
	AssetHash       domain.AssetHash
	Exists          bool
	ExclusiveActive bool
}

type Service struct {
	cfg     Config
	ledger  ports.Ledger
	limiter ports.RateLimiter
	metrics ports.Metrics
	guard   Guard
	nowFn   func() time.Time
}

type Dependencies struct {
	Config  Config
	Ledger  ports.Ledger
	Limiter ports.RateLimiter
	Metrics ports.Metrics
	Clock   func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M91-License-Service"
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Service{
		cfg:     cfg,
		ledger:  deps.Ledger,
		limiter: deps.Limiter,
		metrics: metrics,
		guard:   Guard{nowFn: nowFn},
		nowFn:   nowFn,
	}
}
