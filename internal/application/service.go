package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// CreateLicense issues a license from actor for in.AssetHash. Guard
// initialization, exclusivity acquisition, the license write and the
// license.initialized outbox record commit together or not at all.
func (s *Service) CreateLicense(ctx context.Context, actor Actor, in CreateLicenseInput) (domain.License, error) {
	const operation = "create_license"
	if actor.Wallet.IsZero() {
		return domain.License{}, domain.ErrUnauthorized
	}
	if !in.LicenseType.Valid() {
		return domain.License{}, fmt.Errorf("%w: unknown license type", domain.ErrInvalidInput)
	}
	if err := s.enforceRateLimit(ctx, rateLimitBucketCreate, actor.Wallet); err != nil {
		s.reject(ctx, operation, err)
		return domain.License{}, err
	}

	var created domain.License
	err := s.ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		guard, err := s.guard.EnsureInitialized(ctx, tx, in.AssetHash)
		if err != nil {
			return err
		}
		if in.LicenseType == domain.LicenseTypeExclusive {
			if _, err := s.guard.AcquireExclusive(ctx, tx, guard); err != nil {
				return err
			}
		}
		if err := domain.ValidateLicenseFields(in.TermsRef, in.Territory, in.AssetReference); err != nil {
			return err
		}

		now := s.nowFn().Truncate(time.Second)
		license := domain.License{
			ID:             domain.LicenseKey(in.AssetHash, in.Licensee),
			Issuer:         actor.Wallet,
			Licensee:       in.Licensee,
			AssetHash:      in.AssetHash,
			AssetReference: in.AssetReference,
			TermsRef:       in.TermsRef,
			LicenseType:    in.LicenseType,
			Territory:      in.Territory,
			ValidUntil:     in.ValidUntil,
			CreatedAt:      now,
		}
		if err := tx.InsertLicense(ctx, license); err != nil {
			return err
		}

		event, err := s.newOutboxEvent(domain.EventLicenseInitialized, license.ID.String(), domain.NewLicenseInitialized(license))
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("append outbox event: %w", err)
		}
		created = license
		return nil
	})
	if err != nil {
		s.reject(ctx, operation, err)
		return domain.License{}, err
	}

	s.metrics.LicenseCreated(created.LicenseType)
	s.logger().InfoContext(ctx, "license created",
		"operation", operation,
		"outcome", "success",
		"request_id", actor.RequestID,
		"license_id", created.ID.String(),
		"asset_hash", created.AssetHash.String(),
		"license_type", created.LicenseType.String(),
	)
	return created, nil
}

// RevokeLicense marks a license revoked. Only the issuer may revoke, and a
// revoked license cannot be revoked again. Revoking an exclusive license
// frees its asset for a new exclusive grant.
func (s *Service) RevokeLicense(ctx context.Context, actor Actor, licenseID domain.RecordID) (domain.License, error) {
	const operation = "revoke_license"
	if actor.Wallet.IsZero() {
		return domain.License{}, domain.ErrUnauthorized
	}
	if err := s.enforceRateLimit(ctx, rateLimitBucketRevoke, actor.Wallet); err != nil {
		s.reject(ctx, operation, err)
		return domain.License{}, err
	}

	var revoked domain.License
	err := s.ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		license, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		if license.Issuer != actor.Wallet {
			return domain.ErrUnauthorizedRevoker
		}
		if license.Revoked {
			return domain.ErrAlreadyRevoked
		}

		now := s.nowFn().Truncate(time.Second)
		license.Revoked = true
		license.RevokedAt = &now
		if err := tx.SaveLicense(ctx, license); err != nil {
			return err
		}
		if license.IsExclusive() {
			if err := s.guard.Release(ctx, tx, license.AssetHash); err != nil {
				return err
			}
		}

		event, err := s.newOutboxEvent(domain.EventLicenseRevoked, license.ID.String(), domain.NewLicenseRevoked(license, actor.Wallet))
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("append outbox event: %w", err)
		}
		revoked = license
		return nil
	})
	if err != nil {
		s.reject(ctx, operation, err)
		return domain.License{}, err
	}

	s.metrics.LicenseRevoked(revoked.LicenseType)
	s.logger().InfoContext(ctx, "license revoked",
		"operation", operation,
		"outcome", "success",
		"request_id", actor.RequestID,
		"license_id", revoked.ID.String(),
		"asset_hash", revoked.AssetHash.String(),
		"license_type", revoked.LicenseType.String(),
	)
	return revoked, nil
}

func (s *Service) GetLicense(ctx context.Context, licenseID domain.RecordID) (domain.License, error) {
	var out domain.License
	err := s.ledger.View(ctx, func(ctx context.Context, tx ports.LedgerReader) error {
		license, err := tx.GetLicense(ctx, licenseID)
		if err != nil {
			return err
		}
		out = license
		return nil
	})
	return out, err
}

// LookupLicense finds a license by the pair it was created for.
func (s *Service) LookupLicense(ctx context.Context, asset domain.AssetHash, licensee domain.Identity) (domain.License, error) {
	return s.GetLicense(ctx, domain.LicenseKey(asset, licensee))
}

func (s *Service) LicenseExists(ctx context.Context, asset domain.AssetHash, licensee domain.Identity) (bool, error) {
	_, err := s.LookupLicense(ctx, asset, licensee)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckActive reports whether a license is usable right now. An explicit
// licensee that differs from a known caller is refused.
func (s *Service) CheckActive(ctx context.Context, actor Actor, in CheckActiveInput) (ActiveStatus, error) {
	licensee := in.Licensee
	if !in.AssetScoped {
		switch {
		case licensee.IsZero() && actor.Wallet.IsZero():
			return ActiveStatus{}, domain.ErrUnauthorized
		case !licensee.IsZero() && !actor.Wallet.IsZero() && licensee != actor.Wallet:
			return ActiveStatus{}, domain.ErrForbidden
		case licensee.IsZero():
			licensee = actor.Wallet
		}
	} else {
		licensee = domain.Identity{}
	}

	id := domain.LicenseKey(in.AssetHash, licensee)
	license, err := s.GetLicense(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return ActiveStatus{LicenseID: id, Reason: domain.InactiveReasonNotFound}, nil
	}
	if err != nil {
		return ActiveStatus{}, err
	}

	status := ActiveStatus{
		LicenseID:   id,
		LicenseType: license.LicenseType,
		ValidUntil:  license.ValidUntil,
		Territory:   license.Territory,
	}
	status.Reason = license.ActiveReason(s.nowFn(), strings.TrimSpace(in.Territory))
	status.Active = status.Reason == ""
	return status, nil
}

// GetGuard reports the exclusivity state of an asset. An asset that was never
// licensed has no guard and is reported free.
func (s *Service) GetGuard(ctx context.Context, asset domain.AssetHash) (GuardStatus, error) {
	out := GuardStatus{GuardID: domain.GuardKey(asset), AssetHash: asset}
	err := s.ledger.View(ctx, func(ctx context.Context, tx ports.LedgerReader) error {
		guard, err := tx.GetGuard(ctx, out.GuardID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if guard.AssetHash != asset {
			return domain.ErrGuardMismatch
		}
		out.Exists = true
		out.ExclusiveActive = guard.ExclusiveActive
		return nil
	})
	if err != nil {
		return GuardStatus{}, err
	}
	return out, nil
}

func (s *Service) newOutboxEvent(eventType, partitionKey string, data any) (ports.OutboxEvent, error) {
	eventID := uuid.New()
	now := s.nowFn()
	payload, err := domain.MarshalEnvelope(eventID.String(), eventType, now, data)
	if err != nil {
		return ports.OutboxEvent{}, err
	}
	return ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   now,
	}, nil
}

// enforceRateLimit fails open when the limiter itself is unavailable.
func (s *Service) enforceRateLimit(ctx context.Context, bucket string, wallet domain.Identity) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, bucket, wallet.String())
	if err != nil {
		s.logger().WarnContext(ctx, "rate-limit state unavailable",
			"operation", "rate_limit",
			"outcome", "warning",
			"bucket", bucket,
			"error", err,
		)
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *Service) reject(ctx context.Context, operation string, err error) {
	reason := rejectionReason(err)
	s.metrics.OperationRejected(operation, reason)
	level := slog.LevelWarn
	if reason == "internal" {
		level = slog.LevelError
	}
	s.logger().Log(ctx, level, "license operation rejected",
		"operation", operation,
		"outcome", "failure",
		"reason", reason,
		"error", err,
	)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrGuardMismatch):
		return "guard_mismatch"
	case errors.Is(err, domain.ErrExclusiveLicenseExists):
		return "exclusive_license_exists"
	case errors.Is(err, domain.ErrUnauthorizedRevoker):
		return "unauthorized_revoker"
	case errors.Is(err, domain.ErrAlreadyRevoked):
		return "already_revoked"
	case errors.Is(err, domain.ErrLicenseExists):
		return "license_exists"
	case errors.Is(err, domain.ErrFieldTooLong):
		return "field_too_long"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

func (s *Service) logger() *slog.Logger {
	return slog.Default().With(
		"service", s.cfg.ServiceName,
		"module", "application",
		"layer", "application",
	)
}
