package contracts

import (
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

type CreateLicenseRequest struct {
	AssetHash      string `json:"asset_hash" validate:"required,asset_hash"`
	Licensee       string `json:"licensee,omitempty" validate:"omitempty,wallet"`
	AssetReference string `json:"asset_reference,omitempty"`
	LicenseType    string `json:"license_type" validate:"required,license_type"`
	TermsRef       string `json:"terms_ref"`
	Territory      string `json:"territory"`
	// ValidUntil is a signed unix timestamp passed through unchanged; only
	// its presence is checked.
	ValidUntil *int64 `json:"valid_until" validate:"required"`
}

// Input validates the request and converts it. Byte limits on terms_ref,
// territory and asset_reference are enforced by the registry itself.
func (r CreateLicenseRequest) Input() (application.CreateLicenseInput, error) {
	if err := Validate(r); err != nil {
		return application.CreateLicenseInput{}, err
	}
	asset, err := domain.ParseAssetHash(r.AssetHash)
	if err != nil {
		return application.CreateLicenseInput{}, err
	}
	licensee, err := optionalIdentity(r.Licensee)
	if err != nil {
		return application.CreateLicenseInput{}, err
	}
	licenseType, err := domain.ParseLicenseType(r.LicenseType)
	if err != nil {
		return application.CreateLicenseInput{}, err
	}
	return application.CreateLicenseInput{
		AssetHash:      asset,
		Licensee:       licensee,
		AssetReference: r.AssetReference,
		LicenseType:    licenseType,
		TermsRef:       r.TermsRef,
		Territory:      r.Territory,
		ValidUntil:     *r.ValidUntil,
	}, nil
}

// LicenseQuery addresses a license by its derived key. An empty licensee
// selects the asset-scoped license.
type LicenseQuery struct {
	AssetHash string `json:"asset_hash" validate:"required,asset_hash"`
	Licensee  string `json:"licensee,omitempty" validate:"omitempty,wallet"`
}

func (q LicenseQuery) Parse() (domain.AssetHash, domain.Identity, error) {
	if err := Validate(q); err != nil {
		return domain.AssetHash{}, domain.Identity{}, err
	}
	asset, err := domain.ParseAssetHash(q.AssetHash)
	if err != nil {
		return domain.AssetHash{}, domain.Identity{}, err
	}
	licensee, err := optionalIdentity(q.Licensee)
	return asset, licensee, err
}

type ActiveQuery struct {
	AssetHash   string `json:"asset_hash" validate:"required,asset_hash"`
	Licensee    string `json:"licensee,omitempty" validate:"omitempty,wallet"`
	AssetScoped bool   `json:"asset_scoped,omitempty"`
	Territory   string `json:"territory,omitempty"`
}

func (q ActiveQuery) Input() (application.CheckActiveInput, error) {
	if err := Validate(q); err != nil {
		return application.CheckActiveInput{}, err
	}
	asset, err := domain.ParseAssetHash(q.AssetHash)
	if err != nil {
		return application.CheckActiveInput{}, err
	}
	licensee, err := optionalIdentity(q.Licensee)
	if err != nil {
		return application.CheckActiveInput{}, err
	}
	return application.CheckActiveInput{
		AssetHash:   asset,
		Licensee:    licensee,
		AssetScoped: q.AssetScoped,
		Territory:   q.Territory,
	}, nil
}

type LicenseResponse struct {
	LicenseID      string     `json:"license_id"`
	Issuer         string     `json:"issuer"`
	Licensee       string     `json:"licensee,omitempty"`
	AssetHash      string     `json:"asset_hash"`
	AssetReference string     `json:"asset_reference,omitempty"`
	TermsRef       string     `json:"terms_ref"`
	LicenseType    string     `json:"license_type"`
	Territory      string     `json:"territory"`
	ValidUntil     int64      `json:"valid_until"`
	Revoked        bool       `json:"revoked"`
	CreatedAt      time.Time  `json:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

func NewLicenseResponse(l domain.License) LicenseResponse {
	return LicenseResponse{
		LicenseID:      l.ID.String(),
		Issuer:         l.Issuer.String(),
		Licensee:       l.Licensee.String(),
		AssetHash:      l.AssetHash.String(),
		AssetReference: l.AssetReference,
		TermsRef:       l.TermsRef,
		LicenseType:    l.LicenseType.String(),
		Territory:      l.Territory,
		ValidUntil:     l.ValidUntil,
		Revoked:        l.Revoked,
		CreatedAt:      l.CreatedAt,
		RevokedAt:      l.RevokedAt,
	}
}

type ActiveResponse struct {
	LicenseID   string `json:"license_id"`
	Active      bool   `json:"active"`
	Reason      string `json:"reason,omitempty"`
	LicenseType string `json:"license_type,omitempty"`
	ValidUntil  *int64 `json:"valid_until,omitempty"`
	Territory   string `json:"territory,omitempty"`
}

func NewActiveResponse(s application.ActiveStatus) ActiveResponse {
	out := ActiveResponse{
		LicenseID: s.LicenseID.String(),
		Active:    s.Active,
		Reason:    s.Reason,
	}
	if s.Reason != domain.InactiveReasonNotFound {
		out.LicenseType = s.LicenseType.String()
		validUntil := s.ValidUntil
		out.ValidUntil = &validUntil
		out.Territory = s.Territory
	}
	return out
}

type ExistsResponse struct {
	LicenseID string `json:"license_id"`
	Exists    bool   `json:"exists"`
}

type GuardResponse struct {
	GuardID         string `json:"guard_id"`
	AssetHash       string `json:"asset_hash"`
	Exists          bool   `json:"exists"`
	ExclusiveActive bool   `json:"exclusive_active"`
}

func NewGuardResponse(g application.GuardStatus) GuardResponse {
	return GuardResponse{
		GuardID:         g.GuardID.String(),
		AssetHash:       g.AssetHash.String(),
		Exists:          g.Exists,
		ExclusiveActive: g.ExclusiveActive,
	}
}

func optionalIdentity(raw string) (domain.Identity, error) {
	if raw == "" {
		return domain.Identity{}, nil
	}
	return domain.ParseIdentity(raw)
}
