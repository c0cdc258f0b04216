package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleLicense() License {
	asset := AssetHash{1, 2, 3}
	licensee := Identity{9, 9, 9}
	return License{
		ID:             LicenseKey(asset, licensee),
		Issuer:         Identity{7},
		Licensee:       licensee,
		AssetHash:      asset,
		AssetReference: "mint-1",
		TermsRef:       "ipfs://t1",
		LicenseType:    LicenseTypeExclusive,
		Territory:      "US",
		ValidUntil:     2000000000,
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func TestLicenseCodecRoundTrip(t *testing.T) {
	t.Parallel()

	in := sampleLicense()
	raw, err := EncodeLicense(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeLicense(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != in.ID || out.Issuer != in.Issuer || out.Licensee != in.Licensee || out.AssetHash != in.AssetHash {
		t.Fatalf("identity fields changed: %+v", out)
	}
	if out.TermsRef != in.TermsRef || out.Territory != in.Territory || out.AssetReference != in.AssetReference {
		t.Fatalf("string fields changed: %+v", out)
	}
	if out.LicenseType != in.LicenseType || out.ValidUntil != in.ValidUntil || out.Revoked || out.RevokedAt != nil {
		t.Fatalf("scalar fields changed: %+v", out)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("created_at changed: %v", out.CreatedAt)
	}
}

func TestLicenseCodecAssetScopedVariant(t *testing.T) {
	t.Parallel()

	in := sampleLicense()
	in.Licensee = Identity{}
	in.ID = LicenseKey(in.AssetHash, Identity{})
	raw, err := EncodeLicense(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeLicense(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.Licensee.IsZero() || out.ID != in.ID {
		t.Fatalf("expected asset-scoped license, got licensee=%q id=%s", out.Licensee, out.ID)
	}
}

func TestDecodeLicenseRejectsBadInput(t *testing.T) {
	t.Parallel()

	raw, err := EncodeLicense(sampleLicense())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// type byte sits after version, issuer, has_licensee, licensee, asset and terms.
	typeOffset := 1 + 32 + 1 + 32 + 32 + 4 + len("ipfs://t1")

	cases := map[string][]byte{
		"empty":           {},
		"unknown version": append([]byte{99}, raw[1:]...),
		"truncated":       raw[:len(raw)-3],
		"trailing bytes":  append(append([]byte{}, raw...), 0),
		"bad license type": func() []byte {
			cp := append([]byte{}, raw...)
			cp[typeOffset] = 7
			return cp
		}(),
	}
	for name, input := range cases {
		if _, err := DecodeLicense(input); !errors.Is(err, ErrCorruptRecord) {
			t.Fatalf("%s: expected ErrCorruptRecord, got %v", name, err)
		}
	}
}

func TestEncodeLicenseEnforcesFieldBounds(t *testing.T) {
	t.Parallel()

	l := sampleLicense()
	l.TermsRef = strings.Repeat("x", MaxTermsRefBytes+1)
	if _, err := EncodeLicense(l); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("expected ErrFieldTooLong, got %v", err)
	}
}

func TestGuardCodecRoundTrip(t *testing.T) {
	t.Parallel()

	in := ExclusivityGuard{
		ID:              GuardKey(AssetHash{4}),
		AssetHash:       AssetHash{4},
		ExclusiveActive: true,
		UpdatedAt:       time.Unix(1700000100, 0).UTC(),
	}
	out, err := DecodeGuard(EncodeGuard(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != in.ID || out.AssetHash != in.AssetHash || !out.ExclusiveActive || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Fatalf("guard changed: %+v", out)
	}

	bad := EncodeGuard(in)
	bad[33] = 2
	if _, err := DecodeGuard(bad); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord for bad bool byte, got %v", err)
	}
}
