package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMaxAttempts = 16

// Ledger stores guards and licenses in Postgres. Transaction reads take row
// locks (SELECT ... FOR UPDATE), so two writers touching the same guard are
// serialized by the database. Deadlock and serialization aborts are retried.
type Ledger struct {
	db          *gorm.DB
	maxAttempts int
}

func NewLedger(db *gorm.DB, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Ledger{db: db, maxAttempts: maxAttempts}
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = l.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(ctx, &ledgerTx{ledgerReader: ledgerReader{db: db, lock: true}})
		})
		if err == nil || !isRetryable(err) {
			return err
		}
		slog.Default().WarnContext(ctx, "ledger transaction aborted; retrying",
			"module", "postgres",
			"layer", "adapter",
			"operation", "ledger_update",
			"outcome", "retry",
			"attempt", attempt,
			"error", err,
		)
	}
	return fmt.Errorf("%w: ledger transaction retries exhausted after %d attempts: %v", domain.ErrConflict, l.maxAttempts, err)
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerReader) error) error {
	return fn(ctx, &ledgerReader{db: l.db.WithContext(ctx)})
}

type ledgerReader struct {
	db   *gorm.DB
	lock bool
}

func (r *ledgerReader) query(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *ledgerReader) GetGuard(ctx context.Context, key domain.RecordID) (domain.ExclusivityGuard, error) {
	var row licenseGuardModel
	if err := r.query(ctx).Where("guard_id = ?", key.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ExclusivityGuard{}, domain.ErrNotFound
		}
		return domain.ExclusivityGuard{}, err
	}
	return toGuardDomain(row)
}

func (r *ledgerReader) GetLicense(ctx context.Context, key domain.RecordID) (domain.License, error) {
	var row licenseModel
	if err := r.query(ctx).Where("license_id = ?", key.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.License{}, domain.ErrNotFound
		}
		return domain.License{}, err
	}
	return toLicenseDomain(row)
}

type ledgerTx struct {
	ledgerReader
}

// InsertGuardIfAbsent relies on the primary key: a concurrent inserter blocks
// on the key until the first transaction ends, then does nothing, and the
// locking read that follows returns the committed row.
func (t *ledgerTx) InsertGuardIfAbsent(ctx context.Context, g domain.ExclusivityGuard) (domain.ExclusivityGuard, error) {
	row := toGuardModel(g)
	if err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "guard_id"}}, DoNothing: true}).
		Create(&row).Error; err != nil {
		return domain.ExclusivityGuard{}, err
	}
	return t.GetGuard(ctx, g.ID)
}

func (t *ledgerTx) SaveGuard(ctx context.Context, g domain.ExclusivityGuard) error {
	res := t.db.WithContext(ctx).
		Model(&licenseGuardModel{}).
		Where("guard_id = ?", g.ID.String()).
		Updates(map[string]any{
			"exclusive_active": g.ExclusiveActive,
			"updated_at":       g.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) InsertLicense(ctx context.Context, l domain.License) error {
	row := toLicenseModel(l)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLicenseExists
		}
		return err
	}
	return nil
}

func (t *ledgerTx) SaveLicense(ctx context.Context, l domain.License) error {
	res := t.db.WithContext(ctx).
		Model(&licenseModel{}).
		Where("license_id = ?", l.ID.String()).
		Updates(map[string]any{
			"revoked":    l.Revoked,
			"revoked_at": l.RevokedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) AppendEvent(ctx context.Context, event ports.OutboxEvent) error {
	row := licenseOutboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(event.Payload),
		CreatedAt:    event.OccurredAt,
	}
	return t.db.WithContext(ctx).Create(&row).Error
}
