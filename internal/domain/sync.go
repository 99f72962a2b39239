package domain

import "time"

type PushRequest struct {
	DeviceID string         `json:"device_id" validate:"required"`
	Entities []SyncEnvelope `json:"entities" validate:"required,min=1,dive"`
}

type PullRequest struct {
	DeviceID string `json:"device_id" validate:"required"`

	// LastSyncTimestamp is the pull watermark. Zero means "use the device's
	// last successful sync", which itself defaults to a full resync.
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
}

type RecordOutcomeStatus string

const (
	OutcomeCreated  RecordOutcomeStatus = "created"
	OutcomeUpdated  RecordOutcomeStatus = "updated"
	OutcomeResolved RecordOutcomeStatus = "resolved"
	OutcomeConflict RecordOutcomeStatus = "conflict"
	OutcomeFailed   RecordOutcomeStatus = "failed"
)

// RecordOutcome is the per-record result of a push, so callers can tell
// exactly which records failed or are waiting on manual resolution instead
// of only seeing aggregate counts.
type RecordOutcome struct {
	EntityID   string              `json:"entity_id"`
	EntityType EntityType          `json:"entity_type"`
	Status     RecordOutcomeStatus `json:"status"`
	Version    int64               `json:"version,omitempty"`
	Error      string              `json:"error,omitempty"`
}

type ConflictSummary struct {
	BackupID   string             `json:"backup_id"`
	EntityID   string             `json:"entity_id"`
	EntityType EntityType         `json:"entity_type"`
	Strategy   ResolutionStrategy `json:"strategy"`
	DetectedAt time.Time          `json:"detected_at"`
}

// SyncResponse is the shared response shape for push and pull. Push fills
// Conflicts and Outcomes; pull fills Entities and leaves Conflicts empty.
type SyncResponse struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message,omitempty"`
	ServerTimestamp   time.Time         `json:"server_timestamp"`
	RecordsSynced     int               `json:"records_synced"`
	ConflictsDetected int               `json:"conflicts_detected"`
	ConflictsResolved int               `json:"conflicts_resolved"`
	Conflicts         []ConflictSummary `json:"conflicts"`
	Entities          []SyncEnvelope    `json:"entities"`
	Outcomes          []RecordOutcome   `json:"outcomes,omitempty"`
}

type SyncStatusResponse struct {
	DeviceID          string     `json:"device_id"`
	UserID            string     `json:"user_id"`
	LastSyncTimestamp time.Time  `json:"last_sync_timestamp"`
	Status            SyncStatus `json:"status"`
	TotalSyncs        int        `json:"total_syncs"`
	FailedSyncs       int        `json:"failed_syncs"`
	PendingConflicts  int        `json:"pending_conflicts"`
}
