package ports

import (
	"context"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

// Ledger is the storage collaborator. Update runs fn as one atomic unit:
// either every write it staged is committed or none is. Implementations may
// run fn more than once when a commit loses an optimistic race, so fn must
// not have side effects outside tx.
type Ledger interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx LedgerReader) error) error
}

// LedgerReader exposes point reads. Missing records return domain.ErrNotFound.
type LedgerReader interface {
	GetGuard(ctx context.Context, key domain.RecordID) (domain.ExclusivityGuard, error)
	GetLicense(ctx context.Context, key domain.RecordID) (domain.License, error)
}

// LedgerTx is the write side of a unit of work. Reads through a LedgerTx
// must see the transaction's own staged writes, and the records they return
// are protected until commit: locked by pessimistic stores, version-checked by
// optimistic ones.
type LedgerTx interface {
	LedgerReader

	// InsertGuardIfAbsent stores g only when no record exists under g.ID and
	// returns whatever record holds the key afterwards.
	InsertGuardIfAbsent(ctx context.Context, g domain.ExclusivityGuard) (domain.ExclusivityGuard, error)
	SaveGuard(ctx context.Context, g domain.ExclusivityGuard) error

	// InsertLicense fails with domain.ErrLicenseExists when l.ID is taken.
	InsertLicense(ctx context.Context, l domain.License) error
	SaveLicense(ctx context.Context, l domain.License) error

	AppendEvent(ctx context.Context, event OutboxEvent) error
}
