package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

// Guard serializes exclusivity claims per asset. Every method runs inside a
// ledger transaction; the transaction is what makes each check-and-set atomic.
type Guard struct {
	nowFn func() time.Time
}

// EnsureInitialized returns the guard for asset, creating it free when absent.
// An existing guard is returned unchanged; one that governs another asset is
// never overwritten.
func (g Guard) EnsureInitialized(ctx context.Context, tx ports.LedgerTx, asset domain.AssetHash) (domain.ExclusivityGuard, error) {
	stored, err := tx.InsertGuardIfAbsent(ctx, domain.ExclusivityGuard{
		ID:        domain.GuardKey(asset),
		AssetHash: asset,
		UpdatedAt: g.nowFn(),
	})
	if err != nil {
		return domain.ExclusivityGuard{}, fmt.Errorf("initialize guard: %w", err)
	}
	if stored.AssetHash != asset {
		return domain.ExclusivityGuard{}, domain.ErrGuardMismatch
	}
	return stored, nil
}

// AcquireExclusive flips a free guard to locked.
func (g Guard) AcquireExclusive(ctx context.Context, tx ports.LedgerTx, guard domain.ExclusivityGuard) (domain.ExclusivityGuard, error) {
	if guard.ExclusiveActive {
		return guard, domain.ErrExclusiveLicenseExists
	}
	guard.ExclusiveActive = true
	guard.UpdatedAt = g.nowFn()
	if err := tx.SaveGuard(ctx, guard); err != nil {
		return domain.ExclusivityGuard{}, fmt.Errorf("acquire guard: %w", err)
	}
	return guard, nil
}

// Release frees the guard of asset. Releasing a free guard writes nothing.
func (g Guard) Release(ctx context.Context, tx ports.LedgerTx, asset domain.AssetHash) error {
	guard, err := tx.GetGuard(ctx, domain.GuardKey(asset))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// An exclusive license always initialized its guard first.
			return fmt.Errorf("%w: no guard for exclusive license", domain.ErrGuardMismatch)
		}
		return fmt.Errorf("load guard: %w", err)
	}
	if guard.AssetHash != asset {
		return domain.ErrGuardMismatch
	}
	if !guard.ExclusiveActive {
		return nil
	}
	guard.ExclusiveActive = false
	guard.UpdatedAt = g.nowFn()
	if err := tx.SaveGuard(ctx, guard); err != nil {
		return fmt.Errorf("release guard: %w", err)
	}
	return nil
}
