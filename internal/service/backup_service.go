package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/repository"

	"github.com/google/uuid"
)

// BackupService is the audit trail for conflicts. Every detected conflict,
// auto-resolved or not, leaves exactly one permanent backup row holding both
// full copies; it is the only record that a conflict ever occurred.
type BackupService struct {
	repo repository.BackupRepository
	now  func() time.Time
}

func NewBackupService(repo repository.BackupRepository) *BackupService {
	return &BackupService{
		repo: repo,
		now:  time.Now,
	}
}

// CreateBackup snapshots both copies before any resolution write. Losing the
// losing side permanently is the failure this guards against, so it must run
// strictly before the winner is persisted.
func (s *BackupService) CreateBackup(
	ctx context.Context,
	server, client *domain.SyncEnvelope,
	strategy domain.ResolutionStrategy,
	deviceID, labID string,
) (*domain.ConflictBackup, error) {
	serverCopy, err := json.Marshal(server)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize server copy: %w", err)
	}
	clientCopy, err := json.Marshal(client)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize client copy: %w", err)
	}

	backup := &domain.ConflictBackup{
		ID:            uuid.New().String(),
		EntityID:      server.ID,
		EntityType:    server.EntityType,
		LabID:         labID,
		DeviceID:      deviceID,
		ServerVersion: server.Version,
		ClientVersion: client.Version,
		ServerCopy:    serverCopy,
		ClientCopy:    clientCopy,
		Strategy:      strategy,
		DetectedAt:    s.now(),
	}

	if err := s.repo.Create(ctx, backup); err != nil {
		return nil, err
	}

	return backup, nil
}

// MarkAsResolved stamps the resolution fields. A backup resolves once.
func (s *BackupService) MarkAsResolved(ctx context.Context, backupID, resolvedBy, notes string) error {
	backup, err := s.repo.Get(ctx, backupID)
	if err != nil {
		return err
	}

	if backup.Resolved() {
		return domain.ErrBackupAlreadyResolved
	}

	resolvedAt := s.now()
	backup.ResolvedAt = &resolvedAt
	backup.ResolvedBy = resolvedBy
	backup.ResolutionNotes = notes

	return s.repo.Update(ctx, backup)
}

func (s *BackupService) Get(ctx context.Context, backupID string) (*domain.ConflictBackup, error) {
	return s.repo.Get(ctx, backupID)
}

// GetUnresolvedConflicts returns the manual-resolution queue for a lab,
// most recent first.
func (s *BackupService) GetUnresolvedConflicts(ctx context.Context, labID string) ([]*domain.ConflictBackup, error) {
	backups, err := s.repo.ListUnresolved(ctx, labID)
	if err != nil {
		return nil, err
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].DetectedAt.After(backups[j].DetectedAt)
	})

	return backups, nil
}

// GetBackupByEntity returns the latest backup for an entity, or
// ErrBackupNotFound when the entity never conflicted.
func (s *BackupService) GetBackupByEntity(ctx context.Context, entityID string, entityType domain.EntityType) (*domain.ConflictBackup, error) {
	backups, err := s.repo.ListByEntity(ctx, entityID, entityType)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, domain.ErrBackupNotFound
	}

	latest := backups[0]
	for _, b := range backups[1:] {
		if b.DetectedAt.After(latest.DetectedAt) {
			latest = b
		}
	}

	return latest, nil
}
