package domain

import "errors"

var (
	// ErrGuardMismatch is an integrity violation: the guard resolved for a key
	// governs a different asset than the one requested.
	ErrGuardMismatch = errors.New("exclusive guard mismatch for beat hash")
	// ErrExclusiveLicenseExists is the expected conflict when an asset is already
	// exclusively licensed. Callers recover by waiting for revocation.
	ErrExclusiveLicenseExists = errors.New("an exclusive license is already active for this beat")
	ErrUnauthorizedRevoker    = errors.New("unauthorized to revoke this license")
	ErrAlreadyRevoked         = errors.New("license already revoked")
	// ErrLicenseExists is returned when the derived license key is already taken,
	// which is how a duplicate submission for the same (asset, licensee) pair surfaces.
	ErrLicenseExists = errors.New("license already exists")
	ErrFieldTooLong  = errors.New("field exceeds maximum length")

	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrConflict means an optimistic commit kept losing races and gave up.
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limited")
	ErrCorruptRecord = errors.New("corrupt record")
)
