package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxTermsRefBytes       = 200
	MaxTerritoryBytes      = 50
	MaxAssetReferenceBytes = 64
)

// LicenseType is a closed enumeration. The numeric values are the on-record
// encoding and must not be reordered.
type LicenseType uint8

const (
	LicenseTypeExclusive    LicenseType = 0
	LicenseTypeNonExclusive LicenseType = 1
)

func ParseLicenseType(raw string) (LicenseType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "exclusive":
		return LicenseTypeExclusive, nil
	case "nonexclusive", "non_exclusive", "non-exclusive":
		return LicenseTypeNonExclusive, nil
	default:
		return 0, fmt.Errorf("%w: unknown license type %q", ErrInvalidInput, raw)
	}
}

func LicenseTypeFromByte(b byte) (LicenseType, error) {
	t := LicenseType(b)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: license type byte %d", ErrCorruptRecord, b)
	}
	return t, nil
}

func (t LicenseType) Valid() bool {
	return t == LicenseTypeExclusive || t == LicenseTypeNonExclusive
}

func (t LicenseType) String() string {
	switch t {
	case LicenseTypeExclusive:
		return "Exclusive"
	case LicenseTypeNonExclusive:
		return "NonExclusive"
	default:
		return fmt.Sprintf("LicenseType(%d)", uint8(t))
	}
}

func (t LicenseType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: license type %d", ErrInvalidInput, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *LicenseType) UnmarshalText(text []byte) error {
	parsed, err := ParseLicenseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// License grants a licensee usage rights to one beat. Only Revoked and
// RevokedAt ever change after creation.
type License struct {
	ID             RecordID
	Issuer         Identity
	Licensee       Identity
	AssetHash      AssetHash
	AssetReference string
	TermsRef       string
	LicenseType    LicenseType
	Territory      string
	ValidUntil     int64
	Revoked        bool
	CreatedAt      time.Time
	RevokedAt      *time.Time
}

func (l License) IsExclusive() bool {
	return l.LicenseType == LicenseTypeExclusive
}

// ExclusivityGuard records whether a non-revoked exclusive license exists for an asset.
type ExclusivityGuard struct {
	ID              RecordID
	AssetHash       AssetHash
	ExclusiveActive bool
	UpdatedAt       time.Time
}

// ValidateLicenseFields enforces the encoded size bounds of the variable fields.
func ValidateLicenseFields(termsRef, territory, assetReference string) error {
	if len(termsRef) > MaxTermsRefBytes {
		return fmt.Errorf("%w: terms_ref is %d bytes, max %d", ErrFieldTooLong, len(termsRef), MaxTermsRefBytes)
	}
	if len(territory) > MaxTerritoryBytes {
		return fmt.Errorf("%w: territory is %d bytes, max %d", ErrFieldTooLong, len(territory), MaxTerritoryBytes)
	}
	if len(assetReference) > MaxAssetReferenceBytes {
		return fmt.Errorf("%w: asset_reference is %d bytes, max %d", ErrFieldTooLong, len(assetReference), MaxAssetReferenceBytes)
	}
	return nil
}

const (
	InactiveReasonNotFound          = "not_found"
	InactiveReasonRevoked           = "revoked"
	InactiveReasonExpired           = "expired"
	InactiveReasonTerritoryMismatch = "territory_mismatch"
)

// ActiveReason evaluates a license against a point in time and an optional
// territory. It returns "" when the license is active.
func (l License) ActiveReason(now time.Time, territory string) string {
	if l.Revoked {
		return InactiveReasonRevoked
	}
	if l.ValidUntil < now.Unix() {
		return InactiveReasonExpired
	}
	if territory != "" && territory != l.Territory {
		return InactiveReasonTerritoryMismatch
	}
	return ""
}
