package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// IdentitySize is the byte length of wallet identities, asset hashes and record keys.
const IdentitySize = 32

// Identity is a verified wallet public key. The zero value means "no identity".
type Identity [IdentitySize]byte

// ParseIdentity decodes a base58 wallet. The all-zero key is rejected because
// it is reserved for "no identity".
func ParseIdentity(raw string) (Identity, error) {
	var id Identity
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return id, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	decoded, err := base58.Decode(raw)
	if err != nil {
		return id, fmt.Errorf("%w: identity is not base58: %v", ErrInvalidInput, err)
	}
	if len(decoded) != IdentitySize {
		return id, fmt.Errorf("%w: identity must decode to %d bytes, got %d", ErrInvalidInput, IdentitySize, len(decoded))
	}
	copy(id[:], decoded)
	if id.IsZero() {
		return Identity{}, fmt.Errorf("%w: identity must not be all zero bytes", ErrInvalidInput)
	}
	return id, nil
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) String() string {
	if id.IsZero() {
		return ""
	}
	return base58.Encode(id[:])
}

// AssetHash is the 32-byte content identifier of a beat.
type AssetHash [IdentitySize]byte

// ParseAssetHash accepts 64 hex characters, with or without a 0x prefix.
func ParseAssetHash(raw string) (AssetHash, error) {
	var h AssetHash
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if len(raw) != 2*IdentitySize {
		return h, fmt.Errorf("%w: asset hash must be %d hex characters", ErrInvalidInput, 2*IdentitySize)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return h, fmt.Errorf("%w: asset hash is not hex: %v", ErrInvalidInput, err)
	}
	copy(h[:], decoded)
	return h, nil
}

func (h AssetHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h AssetHash) IsZero() bool {
	return h == AssetHash{}
}

// RecordID is the storage key of a license or guard record.
type RecordID [IdentitySize]byte

func ParseRecordID(raw string) (RecordID, error) {
	var id RecordID
	decoded, err := base58.Decode(strings.TrimSpace(raw))
	if err != nil || len(decoded) != IdentitySize {
		return id, fmt.Errorf("%w: malformed record id", ErrInvalidInput)
	}
	copy(id[:], decoded)
	return id, nil
}

func (id RecordID) String() string {
	return base58.Encode(id[:])
}
