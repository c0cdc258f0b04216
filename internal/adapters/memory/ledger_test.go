package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

func TestInsertGuardIfAbsentIsExactlyOnce(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, 0)
	asset := domain.AssetHash{1}
	id := domain.GuardKey(asset)

	const workers = 32
	var wg sync.WaitGroup
	results := make([]domain.ExclusivityGuard, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Update(context.Background(), func(ctx context.Context, tx ports.LedgerTx) error {
				g, err := tx.InsertGuardIfAbsent(ctx, domain.ExclusivityGuard{
					ID:        id,
					AssetHash: asset,
					UpdatedAt: time.Unix(int64(i+1), 0),
				})
				results[i] = g
				return err
			})
		}(i)
	}
	wg.Wait()

	var stored domain.ExclusivityGuard
	if err := ledger.View(context.Background(), func(ctx context.Context, tx ports.LedgerReader) error {
		var err error
		stored, err = tx.GetGuard(ctx, id)
		return err
	}); err != nil {
		t.Fatalf("read guard: %v", err)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if !results[i].UpdatedAt.Equal(stored.UpdatedAt) {
			t.Fatalf("worker %d observed a divergent guard: %v vs %v", i, results[i].UpdatedAt, stored.UpdatedAt)
		}
	}
}

func TestUpdateSeesOwnWritesAndRollsBackOnError(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, 0)
	ctx := context.Background()
	lic := domain.License{ID: domain.LicenseKey(domain.AssetHash{2}, domain.Identity{}), AssetHash: domain.AssetHash{2}}
	boom := errors.New("boom")

	err := ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		if err := tx.InsertLicense(ctx, lic); err != nil {
			return err
		}
		if _, err := tx.GetLicense(ctx, lic.ID); err != nil {
			t.Fatalf("staged license not visible inside tx: %v", err)
		}
		if err := tx.InsertLicense(ctx, lic); !errors.Is(err, domain.ErrLicenseExists) {
			t.Fatalf("expected ErrLicenseExists for staged key, got %v", err)
		}
		if err := tx.AppendEvent(ctx, ports.OutboxEvent{EventID: uuid.New()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	err = ledger.View(ctx, func(ctx context.Context, tx ports.LedgerReader) error {
		_, err := tx.GetLicense(ctx, lic.ID)
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected rolled back license, got %v", err)
	}
	if n := len(ledger.Outbox().Records()); n != 0 {
		t.Fatalf("expected no outbox records after rollback, got %d", n)
	}
}

func TestUpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, 3)
	ctx := context.Background()
	asset := domain.AssetHash{3}
	id := domain.GuardKey(asset)
	if err := ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		_, err := tx.InsertGuardIfAbsent(ctx, domain.ExclusivityGuard{ID: id, AssetHash: asset})
		return err
	}); err != nil {
		t.Fatalf("seed guard: %v", err)
	}

	attempts := 0
	err := ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		attempts++
		g, err := tx.GetGuard(ctx, id)
		if err != nil {
			return err
		}
		// A competing writer commits between our read and our commit.
		if err := ledger.Update(ctx, func(ctx context.Context, inner ports.LedgerTx) error {
			cur, err := inner.GetGuard(ctx, id)
			if err != nil {
				return err
			}
			cur.ExclusiveActive = !cur.ExclusiveActive
			return inner.SaveGuard(ctx, cur)
		}); err != nil {
			return err
		}
		g.ExclusiveActive = true
		return tx.SaveGuard(ctx, g)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSaveRequiresExistingRecord(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, 0)
	err := ledger.Update(context.Background(), func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.SaveGuard(ctx, domain.ExclusivityGuard{ID: domain.GuardKey(domain.AssetHash{4})})
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOutboxClaimProtocol(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	outbox := NewOutbox()
	first, second := uuid.New(), uuid.New()
	outbox.append(
		ports.OutboxEvent{EventID: first, EventType: domain.EventLicenseInitialized, Payload: []byte("a")},
		ports.OutboxEvent{EventID: second, EventType: domain.EventLicenseRevoked, Payload: []byte("b")},
	)

	claimed, err := outbox.ClaimUnpublished(ctx, 10, "token-1", time.Now().Add(time.Minute))
	if err != nil || len(claimed) != 2 {
		t.Fatalf("expected 2 claimed records, got %d (%v)", len(claimed), err)
	}
	again, err := outbox.ClaimUnpublished(ctx, 10, "token-2", time.Now().Add(time.Minute))
	if err != nil || len(again) != 0 {
		t.Fatalf("claimed records must not be handed out twice, got %d (%v)", len(again), err)
	}

	if err := outbox.MarkPublished(ctx, first, "token-1", time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := outbox.MarkFailed(ctx, second, "wrong-token", "x", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := outbox.MarkFailed(ctx, second, "token-1", "broker down", time.Now()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	records := outbox.Records()
	if records[0].PublishedAt == nil {
		t.Fatalf("expected first record published")
	}
	if records[1].RetryCount != 1 || records[1].ClaimToken != nil {
		t.Fatalf("expected one retry and released claim, got %+v", records[1])
	}

	retry, err := outbox.ClaimUnpublished(ctx, 10, "token-3", time.Now().Add(time.Minute))
	if err != nil || len(retry) != 1 || retry[0].OutboxID != second {
		t.Fatalf("expected failed record to be claimable again, got %+v (%v)", retry, err)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	limiter := NewRateLimiter(map[string]Limit{"license_create": {Limit: 2, Window: time.Minute}})
	limiter.nowFn = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, err := limiter.Allow(ctx, "license_create", "wallet"); err != nil || !ok {
			t.Fatalf("request %d should pass: %v %v", i, ok, err)
		}
	}
	if ok, _ := limiter.Allow(ctx, "license_create", "wallet"); ok {
		t.Fatalf("third request inside the window must be denied")
	}
	if ok, _ := limiter.Allow(ctx, "license_create", "other-wallet"); !ok {
		t.Fatalf("limits are per key")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := limiter.Allow(ctx, "license_create", "wallet"); !ok {
		t.Fatalf("request after the window must pass")
	}
	if _, err := limiter.Allow(ctx, "", "wallet"); err == nil {
		t.Fatalf("expected error for empty bucket")
	}
}
