package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"gorm.io/gorm"
)

func toGuardModel(g domain.ExclusivityGuard) licenseGuardModel {
	return licenseGuardModel{
		GuardID:         g.ID.String(),
		AssetHash:       g.AssetHash.String(),
		ExclusiveActive: g.ExclusiveActive,
		CreatedAt:       g.UpdatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func toGuardDomain(m licenseGuardModel) (domain.ExclusivityGuard, error) {
	id, err := domain.ParseRecordID(m.GuardID)
	if err != nil {
		return domain.ExclusivityGuard{}, corruptRow("license_guards", m.GuardID, err)
	}
	asset, err := domain.ParseAssetHash(m.AssetHash)
	if err != nil {
		return domain.ExclusivityGuard{}, corruptRow("license_guards", m.GuardID, err)
	}
	return domain.ExclusivityGuard{
		ID:              id,
		AssetHash:       asset,
		ExclusiveActive: m.ExclusiveActive,
		UpdatedAt:       m.UpdatedAt.UTC(),
	}, nil
}

func toLicenseModel(l domain.License) licenseModel {
	m := licenseModel{
		LicenseID:      l.ID.String(),
		Issuer:         l.Issuer.String(),
		AssetHash:      l.AssetHash.String(),
		AssetReference: l.AssetReference,
		TermsRef:       l.TermsRef,
		LicenseType:    int16(l.LicenseType),
		Territory:      l.Territory,
		ValidUntil:     l.ValidUntil,
		Revoked:        l.Revoked,
		CreatedAt:      l.CreatedAt,
		RevokedAt:      l.RevokedAt,
	}
	if !l.Licensee.IsZero() {
		licensee := l.Licensee.String()
		m.Licensee = &licensee
	}
	return m
}

func toLicenseDomain(m licenseModel) (domain.License, error) {
	id, err := domain.ParseRecordID(m.LicenseID)
	if err != nil {
		return domain.License{}, corruptRow("licenses", m.LicenseID, err)
	}
	issuer, err := domain.ParseIdentity(m.Issuer)
	if err != nil {
		return domain.License{}, corruptRow("licenses", m.LicenseID, err)
	}
	var licensee domain.Identity
	if m.Licensee != nil {
		licensee, err = domain.ParseIdentity(*m.Licensee)
		if err != nil {
			return domain.License{}, corruptRow("licenses", m.LicenseID, err)
		}
	}
	asset, err := domain.ParseAssetHash(m.AssetHash)
	if err != nil {
		return domain.License{}, corruptRow("licenses", m.LicenseID, err)
	}
	if m.LicenseType < 0 || m.LicenseType > 255 {
		return domain.License{}, corruptRow("licenses", m.LicenseID, fmt.Errorf("license type %d", m.LicenseType))
	}
	licenseType, err := domain.LicenseTypeFromByte(byte(m.LicenseType))
	if err != nil {
		return domain.License{}, corruptRow("licenses", m.LicenseID, err)
	}
	l := domain.License{
		ID:             id,
		Issuer:         issuer,
		Licensee:       licensee,
		AssetHash:      asset,
		AssetReference: m.AssetReference,
		TermsRef:       m.TermsRef,
		LicenseType:    licenseType,
		Territory:      m.Territory,
		ValidUntil:     m.ValidUntil,
		Revoked:        m.Revoked,
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if m.RevokedAt != nil {
		at := m.RevokedAt.UTC()
		l.RevokedAt = &at
	}
	return l, nil
}

func corruptRow(table, id string, err error) error {
	return fmt.Errorf("%w: %s row %s: %v", domain.ErrCorruptRecord, table, id, err)
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// isRetryable reports serialization failures and deadlocks, which Postgres
// resolves by aborting one of the transactions involved.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
