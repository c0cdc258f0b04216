package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const defaultMaxAttempts = 16

type recordKind uint8

const (
	kindGuard recordKind = iota + 1
	kindLicense
)

type recordKey struct {
	kind recordKind
	id   domain.RecordID
}

type guardRow struct {
	guard   domain.ExclusivityGuard
	version uint64
}

type licenseRow struct {
	license domain.License
	version uint64
}

// Ledger is an in-process store with optimistic transactions. A transaction
// records the version of every record it reads and stages its writes; commit
// re-checks those versions under the commit lock and applies the writes only
// when none moved. A lost race reruns the transaction.
type Ledger struct {
	mu          sync.RWMutex
	guards      map[domain.RecordID]guardRow
	licenses    map[domain.RecordID]licenseRow
	outbox      *Outbox
	maxAttempts int
}

func NewLedger(outbox *Outbox, maxAttempts int) *Ledger {
	if outbox == nil {
		outbox = NewOutbox()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Ledger{
		guards:      map[domain.RecordID]guardRow{},
		licenses:    map[domain.RecordID]licenseRow{},
		outbox:      outbox,
		maxAttempts: maxAttempts,
	}
}

func (l *Ledger) Outbox() *Outbox {
	return l.outbox
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newLedgerTx(l)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if l.commit(tx) {
			return nil
		}
	}
	return fmt.Errorf("%w: ledger commit retries exhausted after %d attempts", domain.ErrConflict, l.maxAttempts)
}

func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, viewTx{ledger: l})
}

func (l *Ledger) commit(tx *ledgerTx) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, seen := range tx.reads {
		if l.versionLocked(key) != seen {
			return false
		}
	}
	for id, g := range tx.guardWrites {
		row := l.guards[id]
		l.guards[id] = guardRow{guard: g, version: row.version + 1}
	}
	for id, lic := range tx.licenseWrites {
		row := l.licenses[id]
		l.licenses[id] = licenseRow{license: cloneLicense(lic), version: row.version + 1}
	}
	l.outbox.append(tx.events...)
	return true
}

func (l *Ledger) versionLocked(key recordKey) uint64 {
	switch key.kind {
	case kindGuard:
		return l.guards[key.id].version
	case kindLicense:
		return l.licenses[key.id].version
	default:
		return 0
	}
}

func (l *Ledger) readGuard(id domain.RecordID) (domain.ExclusivityGuard, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row, ok := l.guards[id]
	return row.guard, row.version, ok
}

func (l *Ledger) readLicense(id domain.RecordID) (domain.License, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row, ok := l.licenses[id]
	return cloneLicense(row.license), row.version, ok
}

type ledgerTx struct {
	ledger        *Ledger
	reads         map[recordKey]uint64
	guardWrites   map[domain.RecordID]domain.ExclusivityGuard
	licenseWrites map[domain.RecordID]domain.License
	events        []ports.OutboxEvent
}

func newLedgerTx(l *Ledger) *ledgerTx {
	return &ledgerTx{
		ledger:        l,
		reads:         map[recordKey]uint64{},
		guardWrites:   map[domain.RecordID]domain.ExclusivityGuard{},
		licenseWrites: map[domain.RecordID]domain.License{},
	}
}

// lookupGuard consults staged writes first, then the committed snapshot.
// The first committed version observed is the one validated at commit.
func (tx *ledgerTx) lookupGuard(id domain.RecordID) (domain.ExclusivityGuard, bool) {
	if g, ok := tx.guardWrites[id]; ok {
		return g, true
	}
	g, version, ok := tx.ledger.readGuard(id)
	key := recordKey{kind: kindGuard, id: id}
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
	return g, ok
}

func (tx *ledgerTx) lookupLicense(id domain.RecordID) (domain.License, bool) {
	if lic, ok := tx.licenseWrites[id]; ok {
		return cloneLicense(lic), true
	}
	lic, version, ok := tx.ledger.readLicense(id)
	key := recordKey{kind: kindLicense, id: id}
	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = version
	}
	return lic, ok
}

func (tx *ledgerTx) GetGuard(_ context.Context, key domain.RecordID) (domain.ExclusivityGuard, error) {
	g, ok := tx.lookupGuard(key)
	if !ok {
		return domain.ExclusivityGuard{}, domain.ErrNotFound
	}
	return g, nil
}

func (tx *ledgerTx) GetLicense(_ context.Context, key domain.RecordID) (domain.License, error) {
	lic, ok := tx.lookupLicense(key)
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	return lic, nil
}

func (tx *ledgerTx) InsertGuardIfAbsent(_ context.Context, g domain.ExclusivityGuard) (domain.ExclusivityGuard, error) {
	if existing, ok := tx.lookupGuard(g.ID); ok {
		return existing, nil
	}
	tx.guardWrites[g.ID] = g
	return g, nil
}

func (tx *ledgerTx) SaveGuard(_ context.Context, g domain.ExclusivityGuard) error {
	if _, ok := tx.lookupGuard(g.ID); !ok {
		return domain.ErrNotFound
	}
	tx.guardWrites[g.ID] = g
	return nil
}

func (tx *ledgerTx) InsertLicense(_ context.Context, lic domain.License) error {
	if _, ok := tx.lookupLicense(lic.ID); ok {
		return domain.ErrLicenseExists
	}
	tx.licenseWrites[lic.ID] = cloneLicense(lic)
	return nil
}

func (tx *ledgerTx) SaveLicense(_ context.Context, lic domain.License) error {
	if _, ok := tx.lookupLicense(lic.ID); !ok {
		return domain.ErrNotFound
	}
	tx.licenseWrites[lic.ID] = cloneLicense(lic)
	return nil
}

func (tx *ledgerTx) AppendEvent(_ context.Context, event ports.OutboxEvent) error {
	tx.events = append(tx.events, event)
	return nil
}

type viewTx struct {
	ledger *Ledger
}

func (v viewTx) GetGuard(_ context.Context, key domain.RecordID) (domain.ExclusivityGuard, error) {
	g, _, ok := v.ledger.readGuard(key)
	if !ok {
		return domain.ExclusivityGuard{}, domain.ErrNotFound
	}
	return g, nil
}

func (v viewTx) GetLicense(_ context.Context, key domain.RecordID) (domain.License, error) {
	lic, _, ok := v.ledger.readLicense(key)
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	return lic, nil
}

func cloneLicense(l domain.License) domain.License {
	if l.RevokedAt != nil {
		t := *l.RevokedAt
		l.RevokedAt = &t
	}
	return l
}
