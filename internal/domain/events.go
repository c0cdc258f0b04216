package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventLicenseInitialized = "license.initialized"
	EventLicenseRevoked     = "license.revoked"

	EventSchemaVersion = 1
)

// LicenseInitialized is emitted once per successful license creation.
type LicenseInitialized struct {
	LicenseID   string      `json:"license_id"`
	Issuer      string      `json:"issuer"`
	Licensee    string      `json:"licensee,omitempty"`
	LicenseType LicenseType `json:"license_type"`
	AssetHash   string      `json:"asset_hash"`
}

// LicenseRevoked is emitted once per successful revocation.
type LicenseRevoked struct {
	LicenseID   string      `json:"license_id"`
	RevokedBy   string      `json:"revoked_by"`
	LicenseType LicenseType `json:"license_type"`
	AssetHash   string      `json:"asset_hash"`
}

// EventEnvelope is the serialized form placed on the outbox and the broker.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

func NewLicenseInitialized(l License) LicenseInitialized {
	return LicenseInitialized{
		LicenseID:   l.ID.String(),
		Issuer:      l.Issuer.String(),
		Licensee:    l.Licensee.String(),
		LicenseType: l.LicenseType,
		AssetHash:   l.AssetHash.String(),
	}
}

func NewLicenseRevoked(l License, revokedBy Identity) LicenseRevoked {
	return LicenseRevoked{
		LicenseID:   l.ID.String(),
		RevokedBy:   revokedBy.String(),
		LicenseType: l.LicenseType,
		AssetHash:   l.AssetHash.String(),
	}
}

func MarshalEnvelope(eventID, eventType string, occurredAt time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(EventEnvelope{
		EventID:       eventID,
		EventType:     eventType,
		SchemaVersion: EventSchemaVersion,
		OccurredAt:    occurredAt.UTC(),
		Data:          raw,
	})
}
