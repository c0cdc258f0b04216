package postgres

import (
	"time"

	"github.com/google/uuid"
)

type licenseGuardModel struct {
	GuardID         string    `gorm:"column:guard_id;primaryKey"`
	AssetHash       string    `gorm:"column:asset_hash"`
	ExclusiveActive bool      `gorm:"column:exclusive_active"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (licenseGuardModel) TableName() string { return "license_guards" }

type licenseModel struct {
	LicenseID      string     `gorm:"column:license_id;primaryKey"`
	Issuer         string     `gorm:"column:issuer"`
	Licensee       *string    `gorm:"column:licensee"`
	AssetHash      string     `gorm:"column:asset_hash"`
	AssetReference string     `gorm:"column:asset_reference"`
	TermsRef       string     `gorm:"column:terms_ref"`
	LicenseType    int16      `gorm:"column:license_type"`
	Territory      string     `gorm:"column:territory"`
	ValidUntil     int64      `gorm:"column:valid_until"`
	Revoked        bool       `gorm:"column:revoked"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	RevokedAt      *time.Time `gorm:"column:revoked_at"`
}

func (licenseModel) TableName() string { return "licenses" }

type licenseOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (licenseOutboxModel) TableName() string { return "license_outbox" }
