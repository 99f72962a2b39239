package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type ResolutionStrategy string

const (
	ResolutionLastWriteWins ResolutionStrategy = "lww"
	ResolutionServerWins    ResolutionStrategy = "server"
	ResolutionClientWins    ResolutionStrategy = "client"
	ResolutionManual        ResolutionStrategy = "manual"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolutionLastWriteWins, ResolutionServerWins, ResolutionClientWins, ResolutionManual:
		return true
	}
	return false
}

var (
	ErrBackupNotFound        = errors.New("conflict backup not found")
	ErrBackupAlreadyResolved = errors.New("conflict backup already resolved")
)

// ConflictBackup snapshots both sides of a detected conflict before any
// resolution touches the authoritative copy. Exactly one row per detected
// conflict; immutable except for the resolution fields; never deleted.
type ConflictBackup struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	LabID      string     `json:"lab_id"`
	DeviceID   string     `json:"device_id"`

	ServerVersion int64           `json:"server_version"`
	ClientVersion int64           `json:"client_version"`
	ServerCopy    json.RawMessage `json:"server_copy"`
	ClientCopy    json.RawMessage `json:"client_copy"`

	Strategy   ResolutionStrategy `json:"strategy"`
	DetectedAt time.Time          `json:"detected_at"`

	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

func (b *ConflictBackup) Resolved() bool {
	return b.ResolvedAt != nil
}

type ResolveConflictRequest struct {
	Strategy ResolutionStrategy `json:"strategy" validate:"required,oneof=lww server client manual"`
	Notes    string             `json:"notes"`

	// Entity carries the human-chosen copy for manual resolution. Ignored
	// for the automatic strategies.
	Entity *SyncEnvelope `json:"entity,omitempty"`
}
