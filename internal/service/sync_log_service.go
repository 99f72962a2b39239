package service

import (
	"context"
	"fmt"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/repository"

	"github.com/google/uuid"
)

// SyncLogService tracks one row per sync attempt per device and user. The
// newest synced row's timestamp is the next pull watermark.
type SyncLogService struct {
	repo repository.SyncLogRepository
	now  func() time.Time
}

func NewSyncLogService(repo repository.SyncLogRepository) *SyncLogService {
	return &SyncLogService{
		repo: repo,
		now:  time.Now,
	}
}

// Create opens a new attempt in the in_progress state.
func (s *SyncLogService) Create(ctx context.Context, deviceID, userID string) (*domain.SyncLog, error) {
	entry := &domain.SyncLog{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		UserID:    userID,
		Status:    domain.SyncStatusInProgress,
		StartedAt: s.now(),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Close finalizes an attempt. Attempts never transition out of a terminal
// state.
func (s *SyncLogService) Close(ctx context.Context, id string, status domain.SyncStatus, recordsSynced, conflictsDetected, conflictsResolved int, errorMessage string) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if entry.Status.Terminal() {
		return fmt.Errorf("sync log %s already finalized as %s", id, entry.Status)
	}

	finishedAt := s.now()
	entry.Status = status
	entry.RecordsSynced = recordsSynced
	entry.ConflictsDetected = conflictsDetected
	entry.ConflictsResolved = conflictsResolved
	entry.ErrorMessage = errorMessage
	entry.FinishedAt = &finishedAt
	entry.LastSyncTimestamp = finishedAt

	return s.repo.Update(ctx, entry)
}

// LastSuccessfulSync returns the most recent synced attempt, or nil when the
// device has never completed a sync (callers fall back to a full resync).
func (s *SyncLogService) LastSuccessfulSync(ctx context.Context, deviceID, userID string) (*domain.SyncLog, error) {
	entries, err := s.repo.ListByDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	var latest *domain.SyncLog
	for _, e := range entries {
		if e.Status != domain.SyncStatusSynced {
			continue
		}
		if latest == nil || e.LastSyncTimestamp.After(latest.LastSyncTimestamp) {
			latest = e
		}
	}

	return latest, nil
}

// Stats returns lifetime attempt counters for health reporting.
func (s *SyncLogService) Stats(ctx context.Context, deviceID, userID string) (total, failed int, err error) {
	entries, err := s.repo.ListByDevice(ctx, deviceID, userID)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		total++
		if e.Status == domain.SyncStatusFailed {
			failed++
		}
	}

	return total, failed, nil
}

// LastAttempt returns the newest attempt regardless of outcome, for the
// coarse status surface.
func (s *SyncLogService) LastAttempt(ctx context.Context, deviceID, userID string) (*domain.SyncLog, error) {
	entries, err := s.repo.ListByDevice(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	var latest *domain.SyncLog
	for _, e := range entries {
		if latest == nil || e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}

	return latest, nil
}
