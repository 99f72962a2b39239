package domain

import (
	"errors"
	"time"
)

type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusFailed     SyncStatus = "failed"
	SyncStatusConflict   SyncStatus = "conflict"
)

// Terminal reports whether an attempt may no longer transition.
func (s SyncStatus) Terminal() bool {
	switch s {
	case SyncStatusSynced, SyncStatusFailed, SyncStatusConflict:
		return true
	}
	return false
}

var ErrSyncLogNotFound = errors.New("sync log not found")

// SyncLog is one row per sync attempt (push or pull) per device and user.
// The LastSyncTimestamp of the newest synced row is the next pull watermark.
type SyncLog struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`

	Status            SyncStatus `json:"status"`
	RecordsSynced     int        `json:"records_synced"`
	ConflictsDetected int        `json:"conflicts_detected"`
	ConflictsResolved int        `json:"conflicts_resolved"`
	ErrorMessage      string     `json:"error_message,omitempty"`

	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	LastSyncTimestamp time.Time  `json:"last_sync_timestamp"`
}
