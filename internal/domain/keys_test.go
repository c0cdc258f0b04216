package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLicenseKeyIsDeterministicAndScoped(t *testing.T) {
	t.Parallel()

	asset := AssetHash{1}
	alice := Identity{2}
	bob := Identity{3}

	if LicenseKey(asset, alice) != LicenseKey(asset, alice) {
		t.Fatalf("license key must be deterministic")
	}
	if LicenseKey(asset, alice) == LicenseKey(asset, bob) {
		t.Fatalf("different licensees must not share a key")
	}
	if LicenseKey(asset, alice) == LicenseKey(asset, Identity{}) {
		t.Fatalf("asset-scoped key must differ from licensee-scoped key")
	}
	if LicenseKey(asset, Identity{}) == LicenseKey(AssetHash{9}, Identity{}) {
		t.Fatalf("different assets must not share a key")
	}
	if GuardKey(asset) == LicenseKey(asset, Identity{}) {
		t.Fatalf("guard and license keys must live in separate namespaces")
	}
}

func TestParseIdentity(t *testing.T) {
	t.Parallel()

	id := Identity{1, 2, 3, 4}
	parsed, err := ParseIdentity(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("identity changed after round trip")
	}

	for _, raw := range []string{"", "abc", "0OIl", strings.Repeat("1", 60), strings.Repeat("1", IdentitySize)} {
		if _, err := ParseIdentity(raw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", raw, err)
		}
	}
}

func TestParseAssetHash(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("ab", 32)
	h, err := ParseAssetHash("0x" + strings.ToUpper(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if h.String() != raw {
		t.Fatalf("expected lowercase hex %s, got %s", raw, h.String())
	}
	if _, err := ParseAssetHash("abcd"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for short hash, got %v", err)
	}
	if _, err := ParseAssetHash(strings.Repeat("zz", 32)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-hex hash, got %v", err)
	}
}

func TestParseLicenseType(t *testing.T) {
	t.Parallel()

	cases := map[string]LicenseType{
		"Exclusive":      LicenseTypeExclusive,
		"exclusive":      LicenseTypeExclusive,
		"NonExclusive":   LicenseTypeNonExclusive,
		"non_exclusive":  LicenseTypeNonExclusive,
		" non-exclusive": LicenseTypeNonExclusive,
	}
	for raw, want := range cases {
		got, err := ParseLicenseType(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v, %v", raw, got, err)
		}
	}
	if _, err := ParseLicenseType("shared"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown type, got %v", err)
	}
	if _, err := LicenseType(5).MarshalText(); err == nil {
		t.Fatalf("expected marshal error for out-of-range type")
	}
}

func TestActiveReason(t *testing.T) {
	t.Parallel()

	now := time.Unix(1800000000, 0)
	l := License{ValidUntil: 2000000000, Territory: "US"}

	if reason := l.ActiveReason(now, ""); reason != "" {
		t.Fatalf("expected active license, got %s", reason)
	}
	if reason := l.ActiveReason(now, "US"); reason != "" {
		t.Fatalf("expected active license in US, got %s", reason)
	}
	if reason := l.ActiveReason(now, "EU"); reason != InactiveReasonTerritoryMismatch {
		t.Fatalf("expected territory mismatch, got %s", reason)
	}
	if reason := l.ActiveReason(time.Unix(2000000001, 0), ""); reason != InactiveReasonExpired {
		t.Fatalf("expected expired, got %s", reason)
	}
	l.Revoked = true
	if reason := l.ActiveReason(now, "US"); reason != InactiveReasonRevoked {
		t.Fatalf("expected revoked, got %s", reason)
	}
}
