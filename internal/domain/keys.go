package domain

import "crypto/sha256"

const (
	licenseSeed = "license"
	guardSeed   = "license_guard"
)

// LicenseKey derives the record key of a license. A zero licensee selects the
// asset-scoped variant, where one license exists per asset.
//
// Create and lookup both go through this function, so a resubmitted create
// collides with the record written by the first one.
func LicenseKey(asset AssetHash, licensee Identity) RecordID {
	h := sha256.New()
	h.Write([]byte(licenseSeed))
	h.Write(asset[:])
	if !licensee.IsZero() {
		h.Write(licensee[:])
	}
	var id RecordID
	copy(id[:], h.Sum(nil))
	return id
}

// GuardKey derives the record key of the exclusivity guard for an asset.
func GuardKey(asset AssetHash) RecordID {
	h := sha256.New()
	h.Write([]byte(guardSeed))
	h.Write(asset[:])
	var id RecordID
	copy(id[:], h.Sum(nil))
	return id
}
