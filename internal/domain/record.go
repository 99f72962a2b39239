package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type EntityType string

const (
	EntityTypeSample     EntityType = "sample"
	EntityTypeTestResult EntityType = "test_result"
	EntityTypeParameter  EntityType = "parameter"
)

// SyncedEntityTypes lists every entity type that travels through push/pull.
var SyncedEntityTypes = []EntityType{
	EntityTypeSample,
	EntityTypeTestResult,
	EntityTypeParameter,
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeSample, EntityTypeTestResult, EntityTypeParameter:
		return true
	}
	return false
}

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrRecordNotFound    = errors.New("record not found")
	ErrWriteConflict     = errors.New("concurrent write conflict")
)

// Syncable is the versioning contract every synchronizable record satisfies.
// Version goes up by exactly one per accepted mutation; two copies of the
// same ID carrying the same version with different content is the conflict
// signal. SyncWatermark is the timestamp the copies last agreed on.
type Syncable interface {
	EntityID() string
	RecordType() EntityType
	RecordVersion() int64
	SyncWatermark() time.Time
	ModifiedBy() string
	Tombstoned() bool
}

// SyncMeta carries the sync bookkeeping fields. Embed it in any entity that
// participates in synchronization.
type SyncMeta struct {
	ID             string    `json:"id"`
	Version        int64     `json:"version"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	LastModifiedBy string    `json:"last_modified_by"`
	IsDeleted      bool      `json:"is_deleted"`
}

func (m *SyncMeta) EntityID() string         { return m.ID }
func (m *SyncMeta) RecordVersion() int64     { return m.Version }
func (m *SyncMeta) SyncWatermark() time.Time { return m.LastSyncedAt }
func (m *SyncMeta) ModifiedBy() string       { return m.LastModifiedBy }
func (m *SyncMeta) Tombstoned() bool         { return m.IsDeleted }

// Accept stamps the metadata of a copy the server has accepted as
// authoritative.
func (m *SyncMeta) Accept(version int64, syncedAt time.Time, modifiedBy string) {
	m.Version = version
	m.LastSyncedAt = syncedAt
	m.LastModifiedBy = modifiedBy
}

// MarkDeleted tombstones the record. The record is never physically removed
// so the deletion can propagate through sync.
func (m *SyncMeta) MarkDeleted() {
	m.IsDeleted = true
}

// SyncEnvelope is the wire form of a syncable record: the sync metadata plus
// the entity payload, tagged with an explicit entity type so dispatch never
// relies on runtime type inspection.
type SyncEnvelope struct {
	ID             string          `json:"id" validate:"required"`
	EntityType     EntityType      `json:"entity_type" validate:"required,oneof=sample test_result parameter"`
	LabID          string          `json:"lab_id"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	Version        int64           `json:"version"`
	LastSyncedAt   time.Time       `json:"last_synced_at"`
	LastModifiedBy string          `json:"last_modified_by"`
	IsDeleted      bool            `json:"is_deleted"`

	// IsSynced is client-side bookkeeping: set on copies the server has
	// acknowledged. The server echoes it back true on accepted records and
	// never persists it.
	IsSynced bool `json:"is_synced,omitempty"`
}

func (e *SyncEnvelope) EntityID() string         { return e.ID }
func (e *SyncEnvelope) RecordType() EntityType   { return e.EntityType }
func (e *SyncEnvelope) RecordVersion() int64     { return e.Version }
func (e *SyncEnvelope) SyncWatermark() time.Time { return e.LastSyncedAt }
func (e *SyncEnvelope) ModifiedBy() string       { return e.LastModifiedBy }
func (e *SyncEnvelope) Tombstoned() bool         { return e.IsDeleted }
