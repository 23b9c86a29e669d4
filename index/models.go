// Package index persists per-orbit metadata — capability chains, object
// versions, pins, and seen nonces — in a transactional relational store
// (§4.2). Grounded on the teacher pack's Klickk-SecuMSG-Server auth service,
// which uses the same gorm sub-store-per-entity, WithTx-wrapper shape.
package index

import "time"

// Orbit is one row of the orbit table (§4.2, §3 "Orbit").
type Orbit struct {
	ID            string `gorm:"primaryKey"`
	ControllerDID string `gorm:"not null"`
	CreatedAt     time.Time
}

func (Orbit) TableName() string { return "orbit" }

// Capability is one row of the capability table (§4.2). The section maps
// are stored as JSON so a row round-trips exactly through
// capability.Document/Render/DecodeCapability without a second parser.
type Capability struct {
	CID           string `gorm:"primaryKey"`
	OrbitID       string `gorm:"index;not null"`
	ParentCID     *string
	IssuerDID     string `gorm:"index;not null"`
	AudienceDID   string `gorm:"index;not null"`
	ResourcesJSON string
	CaveatsJSON   string
	ProofJSON     string
	RevokedAt     *time.Time
	CreatedAt     time.Time
}

func (Capability) TableName() string { return "capability" }

// ObjectVersion is one row of the object_version table (§4.2, §3 "Object
// version"). The composite primary key matches the spec exactly.
type ObjectVersion struct {
	OrbitID       string `gorm:"primaryKey"`
	UserKey       string `gorm:"primaryKey"`
	VersionSeq    int64  `gorm:"primaryKey"`
	CID           string `gorm:"index"`
	Codec         uint64
	Size          int64
	CreatedAt     time.Time
	SupersedesCID *string
	Tombstone     bool
}

func (ObjectVersion) TableName() string { return "object_version" }

// Pin is one row of the pin table (§4.2, §3 "Pin").
type Pin struct {
	OrbitID  string `gorm:"primaryKey"`
	CID      string `gorm:"primaryKey"`
	Refcount int64  `gorm:"not null"`
}

func (Pin) TableName() string { return "pin" }

// NonceSeen is one row of the nonce_seen table (§4.2).
type NonceSeen struct {
	OrbitID string    `gorm:"primaryKey"`
	Nonce   string    `gorm:"primaryKey"`
	SeenAt  time.Time `gorm:"not null"`
}

func (NonceSeen) TableName() string { return "nonce_seen" }

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{&Orbit{}, &Capability{}, &ObjectVersion{}, &Pin{}, &NonceSeen{}}
}
