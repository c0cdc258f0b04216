package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type fixture struct {
	service *application.Service
	ledger  *memory.Ledger
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{now: time.Unix(1800000000, 0).UTC()}
	f.ledger = memory.NewLedger(memory.NewOutbox(), 0)
	f.service = application.NewService(application.Dependencies{
		Ledger: f.ledger,
		Clock:  func() time.Time { return f.now },
	})
	return f
}

var (
	issuerI = actor(1)
	issuerJ = actor(2)
	assetH  = domain.AssetHash{0xbe, 0xa7}
)

func actor(seed byte) application.Actor {
	return application.Actor{Wallet: domain.Identity{seed, seed, seed}}
}

func exclusiveInput(asset domain.AssetHash, licensee domain.Identity) application.CreateLicenseInput {
	return application.CreateLicenseInput{
		AssetHash:   asset,
		Licensee:    licensee,
		LicenseType: domain.LicenseTypeExclusive,
		TermsRef:    "ipfs://t1",
		Territory:   "US",
		ValidUntil:  2000000000,
	}
}

func nonExclusiveInput(asset domain.AssetHash, licensee domain.Identity) application.CreateLicenseInput {
	in := exclusiveInput(asset, licensee)
	in.LicenseType = domain.LicenseTypeNonExclusive
	return in
}

func (f *fixture) guard(t *testing.T, asset domain.AssetHash) application.GuardStatus {
	t.Helper()
	status, err := f.service.GetGuard(context.Background(), asset)
	if err != nil {
		t.Fatalf("get guard: %v", err)
	}
	return status
}

func TestExclusiveLicenseLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	licenseeA := domain.Identity{10}
	licenseeB := domain.Identity{11}

	first, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, licenseeA))
	if err != nil {
		t.Fatalf("create exclusive license: %v", err)
	}
	if first.Issuer != issuerI.Wallet || first.Revoked {
		t.Fatalf("unexpected license state: %+v", first)
	}
	if g := f.guard(t, assetH); !g.Exists || !g.ExclusiveActive {
		t.Fatalf("expected locked guard after exclusive create, got %+v", g)
	}

	_, err = f.service.CreateLicense(ctx, issuerJ, exclusiveInput(assetH, licenseeB))
	if !errors.Is(err, domain.ErrExclusiveLicenseExists) {
		t.Fatalf("expected ErrExclusiveLicenseExists, got %v", err)
	}
	if exists, _ := f.service.LicenseExists(ctx, assetH, licenseeB); exists {
		t.Fatalf("no license may be written when exclusivity is refused")
	}

	if _, err := f.service.CreateLicense(ctx, issuerJ, nonExclusiveInput(assetH, licenseeB)); err != nil {
		t.Fatalf("non-exclusive license alongside exclusive should succeed: %v", err)
	}
	if g := f.guard(t, assetH); !g.ExclusiveActive {
		t.Fatalf("non-exclusive create must not touch the guard")
	}

	if _, err := f.service.RevokeLicense(ctx, issuerJ, first.ID); !errors.Is(err, domain.ErrUnauthorizedRevoker) {
		t.Fatalf("expected ErrUnauthorizedRevoker, got %v", err)
	}

	revoked, err := f.service.RevokeLicense(ctx, issuerI, first.ID)
	if err != nil {
		t.Fatalf("revoke by issuer: %v", err)
	}
	if !revoked.Revoked || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked license, got %+v", revoked)
	}
	if g := f.guard(t, assetH); g.ExclusiveActive {
		t.Fatalf("expected guard released after exclusive revoke")
	}

	if _, err := f.service.RevokeLicense(ctx, issuerI, first.ID); !errors.Is(err, domain.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}

	licenseeC := domain.Identity{12}
	if _, err := f.service.CreateLicense(ctx, issuerJ, exclusiveInput(assetH, licenseeC)); err != nil {
		t.Fatalf("exclusive create after release should succeed: %v", err)
	}
	if g := f.guard(t, assetH); !g.ExclusiveActive {
		t.Fatalf("expected guard locked again")
	}
}

func TestRevokeNonExclusiveNeverTouchesGuard(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	exclusive, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, domain.Identity{20}))
	if err != nil {
		t.Fatalf("create exclusive: %v", err)
	}
	shared, err := f.service.CreateLicense(ctx, issuerI, nonExclusiveInput(assetH, domain.Identity{21}))
	if err != nil {
		t.Fatalf("create non-exclusive: %v", err)
	}
	if _, err := f.service.RevokeLicense(ctx, issuerI, shared.ID); err != nil {
		t.Fatalf("revoke non-exclusive: %v", err)
	}
	if g := f.guard(t, assetH); !g.ExclusiveActive {
		t.Fatalf("revoking a non-exclusive license released the guard")
	}
	still, err := f.service.GetLicense(ctx, exclusive.ID)
	if err != nil || still.Revoked {
		t.Fatalf("exclusive license must stay active, got %+v (%v)", still, err)
	}
}

func TestUnauthorizedRevokeLeavesLicenseUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	licensee := domain.Identity{30}
	created, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, licensee))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Neither a stranger nor the licensee may revoke.
	for _, caller := range []application.Actor{issuerJ, {Wallet: licensee}} {
		if _, err := f.service.RevokeLicense(ctx, caller, created.ID); !errors.Is(err, domain.ErrUnauthorizedRevoker) {
			t.Fatalf("expected ErrUnauthorizedRevoker, got %v", err)
		}
	}
	after, err := f.service.GetLicense(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Revoked || after.Issuer != issuerI.Wallet {
		t.Fatalf("license changed after refused revokes: %+v", after)
	}
	if g := f.guard(t, assetH); !g.ExclusiveActive {
		t.Fatalf("guard changed after refused revokes")
	}
}

func TestRevokeUnknownLicense(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.service.RevokeLicense(context.Background(), issuerI, domain.LicenseKey(assetH, domain.Identity{99}))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateSubmissionCollides(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	licensee := domain.Identity{40}
	if _, err := f.service.CreateLicense(ctx, issuerI, nonExclusiveInput(assetH, licensee)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.service.CreateLicense(ctx, issuerI, nonExclusiveInput(assetH, licensee)); !errors.Is(err, domain.ErrLicenseExists) {
		t.Fatalf("expected ErrLicenseExists on resubmission, got %v", err)
	}
	if n := len(f.ledger.Outbox().Records()); n != 1 {
		t.Fatalf("expected a single license.initialized event, got %d", n)
	}
}

func TestFailedCreateRollsBackGuardAcquisition(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	tooLong := exclusiveInput(assetH, domain.Identity{50})
	tooLong.TermsRef = strings.Repeat("t", domain.MaxTermsRefBytes+1)
	if _, err := f.service.CreateLicense(ctx, issuerI, tooLong); !errors.Is(err, domain.ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong, got %v", err)
	}
	if g := f.guard(t, assetH); g.Exists {
		t.Fatalf("failed create must not leave a guard behind, got %+v", g)
	}

	badTerritory := exclusiveInput(assetH, domain.Identity{51})
	badTerritory.Territory = strings.Repeat("x", domain.MaxTerritoryBytes+1)
	if _, err := f.service.CreateLicense(ctx, issuerI, badTerritory); !errors.Is(err, domain.ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong for territory, got %v", err)
	}

	if _, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, domain.Identity{52})); err != nil {
		t.Fatalf("exclusive create after failed attempts should succeed: %v", err)
	}
	if n := len(f.ledger.Outbox().Records()); n != 1 {
		t.Fatalf("expected exactly one event, got %d", n)
	}
}

func TestConcurrentExclusiveCreatesExactlyOneWins(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	asset := domain.AssetHash{0xc0, 0xff, 0xee}

	const callers = 48
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			caller := application.Actor{Wallet: domain.Identity{byte(i + 1), 0x42}}
			_, errs[i] = f.service.CreateLicense(ctx, caller, exclusiveInput(asset, domain.Identity{byte(i + 1), 0x77}))
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrExclusiveLicenseExists):
		default:
			t.Fatalf("caller %d failed unexpectedly: %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one exclusive license, got %d", wins)
	}
	if g := f.guard(t, asset); !g.ExclusiveActive {
		t.Fatalf("guard must be locked after the winning create")
	}

	events := 0
	for _, rec := range f.ledger.Outbox().Records() {
		if rec.EventType == domain.EventLicenseInitialized {
			events++
		}
	}
	if events != 1 {
		t.Fatalf("expected one license.initialized event, got %d", events)
	}
}

func TestConcurrentRevokeAndCreateKeepInvariant(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	asset := domain.AssetHash{0xd0}

	current, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(asset, domain.Identity{1}))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 2; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.service.RevokeLicense(ctx, issuerI, current.ID)
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = f.service.CreateLicense(ctx, issuerI, exclusiveInput(asset, domain.Identity{byte(i)}))
		}(i)
	}
	wg.Wait()

	active := 0
	for i := 1; i < 20; i++ {
		l, err := f.service.LookupLicense(ctx, asset, domain.Identity{byte(i)})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !l.Revoked {
			active++
		}
	}
	g := f.guard(t, asset)
	if active > 1 {
		t.Fatalf("found %d active exclusive licenses", active)
	}
	if g.ExclusiveActive != (active == 1) {
		t.Fatalf("guard flag %v disagrees with %d active exclusive licenses", g.ExclusiveActive, active)
	}
}

func TestEventsCarryLicenseDetails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	licensee := domain.Identity{60}
	created, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, licensee))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.RevokeLicense(ctx, issuerI, created.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	records := f.ledger.Outbox().Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 events, got %d", len(records))
	}

	var initEnv domain.EventEnvelope
	if err := json.Unmarshal(records[0].Payload, &initEnv); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var initialized domain.LicenseInitialized
	if err := json.Unmarshal(initEnv.Data, &initialized); err != nil {
		t.Fatalf("decode initialized: %v", err)
	}
	if initEnv.EventType != domain.EventLicenseInitialized || initEnv.SchemaVersion != domain.EventSchemaVersion {
		t.Fatalf("unexpected envelope: %+v", initEnv)
	}
	if initialized.LicenseID != created.ID.String() || initialized.Issuer != issuerI.Wallet.String() ||
		initialized.Licensee != licensee.String() || initialized.LicenseType != domain.LicenseTypeExclusive {
		t.Fatalf("unexpected initialized payload: %+v", initialized)
	}
	if records[0].PartitionKey != created.ID.String() {
		t.Fatalf("events must be keyed by license id")
	}

	var revEnv domain.EventEnvelope
	if err := json.Unmarshal(records[1].Payload, &revEnv); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var revoked domain.LicenseRevoked
	if err := json.Unmarshal(revEnv.Data, &revoked); err != nil {
		t.Fatalf("decode revoked: %v", err)
	}
	if revEnv.EventType != domain.EventLicenseRevoked || revoked.RevokedBy != issuerI.Wallet.String() || revoked.LicenseID != created.ID.String() {
		t.Fatalf("unexpected revoked payload: %+v %+v", revEnv, revoked)
	}
}

func TestAssetScopedLicense(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	created, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, domain.Identity{}))
	if err != nil {
		t.Fatalf("create asset-scoped: %v", err)
	}
	if created.ID != domain.LicenseKey(assetH, domain.Identity{}) {
		t.Fatalf("asset-scoped license must use the asset-only key")
	}
	if _, err := f.service.CreateLicense(ctx, issuerJ, nonExclusiveInput(assetH, domain.Identity{})); !errors.Is(err, domain.ErrLicenseExists) {
		t.Fatalf("only one asset-scoped license per asset, got %v", err)
	}
	status, err := f.service.CheckActive(ctx, application.Actor{}, application.CheckActiveInput{AssetHash: assetH, AssetScoped: true})
	if err != nil || !status.Active {
		t.Fatalf("expected active asset-scoped license, got %+v (%v)", status, err)
	}
}

func TestCheckActive(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	licensee := application.Actor{Wallet: domain.Identity{70}}
	created, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(assetH, licensee.Wallet))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, err := f.service.CheckActive(ctx, licensee, application.CheckActiveInput{AssetHash: assetH, Territory: "US"})
	if err != nil || !status.Active || status.LicenseType != domain.LicenseTypeExclusive || status.ValidUntil != 2000000000 {
		t.Fatalf("expected active license, got %+v (%v)", status, err)
	}

	status, _ = f.service.CheckActive(ctx, licensee, application.CheckActiveInput{AssetHash: assetH, Territory: "EU"})
	if status.Active || status.Reason != domain.InactiveReasonTerritoryMismatch {
		t.Fatalf("expected territory mismatch, got %+v", status)
	}

	status, _ = f.service.CheckActive(ctx, licensee, application.CheckActiveInput{AssetHash: domain.AssetHash{0x01}})
	if status.Active || status.Reason != domain.InactiveReasonNotFound {
		t.Fatalf("expected not_found, got %+v", status)
	}

	if _, err := f.service.CheckActive(ctx, application.Actor{}, application.CheckActiveInput{AssetHash: assetH}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without caller or licensee, got %v", err)
	}
	if _, err := f.service.CheckActive(ctx, issuerJ, application.CheckActiveInput{AssetHash: assetH, Licensee: licensee.Wallet}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for mismatched licensee, got %v", err)
	}

	f.now = time.Unix(2000000001, 0).UTC()
	status, _ = f.service.CheckActive(ctx, licensee, application.CheckActiveInput{AssetHash: assetH})
	if status.Active || status.Reason != domain.InactiveReasonExpired {
		t.Fatalf("expected expired, got %+v", status)
	}

	if _, err := f.service.RevokeLicense(ctx, issuerI, created.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	status, _ = f.service.CheckActive(ctx, licensee, application.CheckActiveInput{AssetHash: assetH})
	if status.Active || status.Reason != domain.InactiveReasonRevoked {
		t.Fatalf("expected revoked, got %+v", status)
	}
}

func TestCreateRequiresCaller(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if _, err := f.service.CreateLicense(context.Background(), application.Actor{}, exclusiveInput(assetH, domain.Identity{1})); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	in := exclusiveInput(assetH, domain.Identity{1})
	in.LicenseType = domain.LicenseType(9)
	if _, err := f.service.CreateLicense(context.Background(), issuerI, in); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown type, got %v", err)
	}
}

func TestUnknownAssetReportsFreeGuard(t *testing.T) {
	t.Parallel()

	f := newFixture()
	g := f.guard(t, domain.AssetHash{0xaa})
	if g.Exists || g.ExclusiveActive || g.GuardID != domain.GuardKey(domain.AssetHash{0xaa}) {
		t.Fatalf("unexpected guard status for unknown asset: %+v", g)
	}
}

// mismatchLedger hands back a guard for the wrong asset, as a key collision would.
type mismatchLedger struct {
	*memory.Ledger
}

func (m mismatchLedger) Update(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	return m.Ledger.Update(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		return fn(ctx, mismatchTx{LedgerTx: tx})
	})
}

type mismatchTx struct {
	ports.LedgerTx
}

func (mismatchTx) InsertGuardIfAbsent(_ context.Context, g domain.ExclusivityGuard) (domain.ExclusivityGuard, error) {
	g.AssetHash[31] ^= 0xff
	return g, nil
}

func TestGuardMismatchIsRejected(t *testing.T) {
	t.Parallel()

	ledger := memory.NewLedger(nil, 0)
	svc := application.NewService(application.Dependencies{Ledger: mismatchLedger{Ledger: ledger}})
	_, err := svc.CreateLicense(context.Background(), issuerI, nonExclusiveInput(assetH, domain.Identity{1}))
	if !errors.Is(err, domain.ErrGuardMismatch) {
		t.Fatalf("expected ErrGuardMismatch, got %v", err)
	}
	if n := len(ledger.Outbox().Records()); n != 0 {
		t.Fatalf("expected no events after mismatch, got %d", n)
	}
}

func TestRateLimitedCreate(t *testing.T) {
	t.Parallel()

	limiter := memory.NewRateLimiter(map[string]memory.Limit{"license_create": {Limit: 1, Window: time.Hour}})
	svc := application.NewService(application.Dependencies{
		Ledger:  memory.NewLedger(nil, 0),
		Limiter: limiter,
	})
	ctx := context.Background()
	if _, err := svc.CreateLicense(ctx, issuerI, nonExclusiveInput(assetH, domain.Identity{1})); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreateLicense(ctx, issuerI, nonExclusiveInput(assetH, domain.Identity{2})); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := svc.CreateLicense(ctx, issuerJ, nonExclusiveInput(assetH, domain.Identity{3})); err != nil {
		t.Fatalf("other callers are not limited: %v", err)
	}
}

func TestStoredTimestampsHaveSecondPrecision(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.now = time.Unix(1800000000, 987654321).UTC()
	ctx := context.Background()

	created, err := f.service.CreateLicense(ctx, issuerI, exclusiveInput(domain.AssetHash{0x71}, domain.Identity{30}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	revoked, err := f.service.RevokeLicense(ctx, issuerI, created.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if created.CreatedAt.Nanosecond() != 0 || revoked.RevokedAt == nil || revoked.RevokedAt.Nanosecond() != 0 {
		t.Fatalf("expected whole seconds, got created %v revoked %v", created.CreatedAt, revoked.RevokedAt)
	}

	raw, err := domain.EncodeLicense(revoked)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := domain.DecodeLicense(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(revoked.CreatedAt) || !decoded.RevokedAt.Equal(*revoked.RevokedAt) {
		t.Fatalf("codec changed timestamps: %v/%v vs %v/%v", decoded.CreatedAt, decoded.RevokedAt, revoked.CreatedAt, revoked.RevokedAt)
	}
}
