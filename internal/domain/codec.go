package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Record layout versions. Bump when a field is added; decoders reject
// versions they do not know.
const (
	licenseRecordV1 byte = 1
	guardRecordV1   byte = 1
)

// EncodeLicense writes the versioned binary layout:
//
//	version | issuer[32] | has_licensee | licensee[32] | asset_hash[32] |
//	u32 terms_ref | license_type | u32 territory | i64 valid_until | revoked |
//	u32 asset_reference | i64 created_at | i64 revoked_at
//
// Integers are little endian. revoked_at is 0 while the license is active.
// The record key is not stored; it is derived again on decode.
func EncodeLicense(l License) ([]byte, error) {
	if !l.LicenseType.Valid() {
		return nil, fmt.Errorf("%w: license type %d", ErrInvalidInput, uint8(l.LicenseType))
	}
	if err := ValidateLicenseFields(l.TermsRef, l.Territory, l.AssetReference); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(licenseRecordV1)
	buf.Write(l.Issuer[:])
	buf.WriteByte(boolByte(!l.Licensee.IsZero()))
	buf.Write(l.Licensee[:])
	buf.Write(l.AssetHash[:])
	writeString(&buf, l.TermsRef)
	buf.WriteByte(byte(l.LicenseType))
	writeString(&buf, l.Territory)
	writeInt64(&buf, l.ValidUntil)
	buf.WriteByte(boolByte(l.Revoked))
	writeString(&buf, l.AssetReference)
	writeInt64(&buf, unixOrZero(&l.CreatedAt))
	writeInt64(&buf, unixOrZero(l.RevokedAt))
	return buf.Bytes(), nil
}

func DecodeLicense(raw []byte) (License, error) {
	r := bytes.NewReader(raw)
	version, err := r.ReadByte()
	if err != nil {
		return License{}, corrupt("license version", err)
	}
	if version != licenseRecordV1 {
		return License{}, fmt.Errorf("%w: unknown license record version %d", ErrCorruptRecord, version)
	}

	var l License
	if err := readFixed(r, l.Issuer[:]); err != nil {
		return License{}, corrupt("issuer", err)
	}
	hasLicensee, err := readBool(r)
	if err != nil {
		return License{}, corrupt("has_licensee", err)
	}
	if err := readFixed(r, l.Licensee[:]); err != nil {
		return License{}, corrupt("licensee", err)
	}
	if !hasLicensee {
		l.Licensee = Identity{}
	}
	if err := readFixed(r, l.AssetHash[:]); err != nil {
		return License{}, corrupt("asset_hash", err)
	}
	if l.TermsRef, err = readString(r, MaxTermsRefBytes); err != nil {
		return License{}, corrupt("terms_ref", err)
	}
	typeByte, err := r.ReadByte()
	if err != nil {
		return License{}, corrupt("license_type", err)
	}
	if l.LicenseType, err = LicenseTypeFromByte(typeByte); err != nil {
		return License{}, err
	}
	if l.Territory, err = readString(r, MaxTerritoryBytes); err != nil {
		return License{}, corrupt("territory", err)
	}
	if l.ValidUntil, err = readInt64(r); err != nil {
		return License{}, corrupt("valid_until", err)
	}
	if l.Revoked, err = readBool(r); err != nil {
		return License{}, corrupt("revoked", err)
	}
	if l.AssetReference, err = readString(r, MaxAssetReferenceBytes); err != nil {
		return License{}, corrupt("asset_reference", err)
	}
	createdAt, err := readInt64(r)
	if err != nil {
		return License{}, corrupt("created_at", err)
	}
	revokedAt, err := readInt64(r)
	if err != nil {
		return License{}, corrupt("revoked_at", err)
	}
	if r.Len() != 0 {
		return License{}, fmt.Errorf("%w: %d trailing bytes in license record", ErrCorruptRecord, r.Len())
	}

	l.ID = LicenseKey(l.AssetHash, l.Licensee)
	if createdAt != 0 {
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
	}
	if revokedAt != 0 {
		t := time.Unix(revokedAt, 0).UTC()
		l.RevokedAt = &t
	}
	return l, nil
}

// EncodeGuard writes version | asset_hash[32] | exclusive_active | i64 updated_at.
func EncodeGuard(g ExclusivityGuard) []byte {
	var buf bytes.Buffer
	buf.WriteByte(guardRecordV1)
	buf.Write(g.AssetHash[:])
	buf.WriteByte(boolByte(g.ExclusiveActive))
	writeInt64(&buf, unixOrZero(&g.UpdatedAt))
	return buf.Bytes()
}

// DecodeGuard parses a guard record. The returned ID is derived from the
// stored asset hash, so a guard read under a different key can be detected.
func DecodeGuard(raw []byte) (ExclusivityGuard, error) {
	r := bytes.NewReader(raw)
	version, err := r.ReadByte()
	if err != nil {
		return ExclusivityGuard{}, corrupt("guard version", err)
	}
	if version != guardRecordV1 {
		return ExclusivityGuard{}, fmt.Errorf("%w: unknown guard record version %d", ErrCorruptRecord, version)
	}
	var g ExclusivityGuard
	if err := readFixed(r, g.AssetHash[:]); err != nil {
		return ExclusivityGuard{}, corrupt("asset_hash", err)
	}
	if g.ExclusiveActive, err = readBool(r); err != nil {
		return ExclusivityGuard{}, corrupt("exclusive_active", err)
	}
	updatedAt, err := readInt64(r)
	if err != nil {
		return ExclusivityGuard{}, corrupt("updated_at", err)
	}
	if r.Len() != 0 {
		return ExclusivityGuard{}, fmt.Errorf("%w: %d trailing bytes in guard record", ErrCorruptRecord, r.Len())
	}
	g.ID = GuardKey(g.AssetHash)
	if updatedAt != 0 {
		g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	}
	return g, nil
}

func corrupt(field string, err error) error {
	return fmt.Errorf("%w: read %s: %v", ErrCorruptRecord, field, err)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func unixOrZero(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(v))
	buf.Write(n[:])
}

func readFixed(r *bytes.Reader, dst []byte) error {
	n, err := r.Read(dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(dst))
	}
	return nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte %d", b)
	}
}

func readInt64(r *bytes.Reader) (int64, error) {
	var n [8]byte
	if err := readFixed(r, n[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(n[:])), nil
}

func readString(r *bytes.Reader, limit int) (string, error) {
	var n [4]byte
	if err := readFixed(r, n[:]); err != nil {
		return "", err
	}
	size := binary.LittleEndian.Uint32(n[:])
	if int64(size) > int64(limit) {
		return "", fmt.Errorf("length %d exceeds %d", size, limit)
	}
	if size == 0 {
		return "", nil
	}
	out := make([]byte, size)
	if err := readFixed(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
