package repository

import (
	"context"
	"fmt"
	"net/http"

	"aquasync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type BackupRepository interface {
	Create(ctx context.Context, backup *domain.ConflictBackup) error
	Get(ctx context.Context, backupID string) (*domain.ConflictBackup, error)
	Update(ctx context.Context, backup *domain.ConflictBackup) error
	ListUnresolved(ctx context.Context, labID string) ([]*domain.ConflictBackup, error)
	ListByEntity(ctx context.Context, entityID string, entityType domain.EntityType) ([]*domain.ConflictBackup, error)
}

type backupRepository struct {
	client *kivik.Client
	dbName string
}

func NewBackupRepository(client *kivik.Client, dbName string) BackupRepository {
	return &backupRepository{
		client: client,
		dbName: dbName,
	}
}

func backupDocID(id string) string {
	return fmt.Sprintf("backup:%s", id)
}

func (r *backupRepository) Create(ctx context.Context, backup *domain.ConflictBackup) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, backupDocID(backup.ID), backup)
	if err != nil {
		return fmt.Errorf("failed to create conflict backup: %w", err)
	}

	return nil
}

func (r *backupRepository) Get(ctx context.Context, backupID string) (*domain.ConflictBackup, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, backupDocID(backupID))

	var backup domain.ConflictBackup
	if err := row.ScanDoc(&backup); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to get conflict backup: %w", err)
	}

	return &backup, nil
}

// Update only ever touches the resolution fields; the snapshots themselves
// are immutable once written.
func (r *backupRepository) Update(ctx context.Context, backup *domain.ConflictBackup) error {
	db := r.client.DB(r.dbName)
	docID := backupDocID(backup.ID)

	var existing map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrBackupNotFound
		}
		return fmt.Errorf("failed to fetch conflict backup for update: %w", err)
	}

	existing["resolved_at"] = backup.ResolvedAt
	existing["resolved_by"] = backup.ResolvedBy
	existing["resolution_notes"] = backup.ResolutionNotes

	if _, err := db.Put(ctx, docID, existing); err != nil {
		return fmt.Errorf("failed to update conflict backup: %w", err)
	}

	return nil
}

func (r *backupRepository) ListUnresolved(ctx context.Context, labID string) ([]*domain.ConflictBackup, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"lab_id":      labID,
			"entity_id":   map[string]interface{}{"$exists": true},
			"resolved_at": map[string]interface{}{"$exists": false},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var backups []*domain.ConflictBackup
	for rows.Next() {
		var backup domain.ConflictBackup
		if err := rows.ScanDoc(&backup); err != nil {
			continue
		}
		backups = append(backups, &backup)
	}

	return backups, nil
}

func (r *backupRepository) ListByEntity(ctx context.Context, entityID string, entityType domain.EntityType) ([]*domain.ConflictBackup, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"entity_id":   entityID,
			"entity_type": entityType,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conflicts by entity: %w", err)
	}
	defer rows.Close()

	var backups []*domain.ConflictBackup
	for rows.Next() {
		var backup domain.ConflictBackup
		if err := rows.ScanDoc(&backup); err != nil {
			continue
		}
		backups = append(backups, &backup)
	}

	return backups, nil
}
