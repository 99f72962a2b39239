package repository

import (
	"context"
	"fmt"
	"net/http"

	"aquasync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type SyncLogRepository interface {
	Create(ctx context.Context, entry *domain.SyncLog) error
	Get(ctx context.Context, id string) (*domain.SyncLog, error)
	Update(ctx context.Context, entry *domain.SyncLog) error
	ListByDevice(ctx context.Context, deviceID, userID string) ([]*domain.SyncLog, error)
}

type syncLogRepository struct {
	client *kivik.Client
	dbName string
}

func NewSyncLogRepository(client *kivik.Client, dbName string) SyncLogRepository {
	return &syncLogRepository{
		client: client,
		dbName: dbName,
	}
}

func syncLogDocID(id string) string {
	return fmt.Sprintf("synclog:%s", id)
}

func (r *syncLogRepository) Create(ctx context.Context, entry *domain.SyncLog) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, syncLogDocID(entry.ID), entry)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

func (r *syncLogRepository) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, syncLogDocID(id))

	var entry domain.SyncLog
	if err := row.ScanDoc(&entry); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrSyncLogNotFound
		}
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}

	return &entry, nil
}

func (r *syncLogRepository) Update(ctx context.Context, entry *domain.SyncLog) error {
	db := r.client.DB(r.dbName)
	docID := syncLogDocID(entry.ID)

	var existing map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrSyncLogNotFound
		}
		return fmt.Errorf("failed to fetch sync log for update: %w", err)
	}

	existing["status"] = entry.Status
	existing["records_synced"] = entry.RecordsSynced
	existing["conflicts_detected"] = entry.ConflictsDetected
	existing["conflicts_resolved"] = entry.ConflictsResolved
	existing["error_message"] = entry.ErrorMessage
	existing["finished_at"] = entry.FinishedAt
	existing["last_sync_timestamp"] = entry.LastSyncTimestamp

	if _, err := db.Put(ctx, docID, existing); err != nil {
		return fmt.Errorf("failed to update sync log: %w", err)
	}

	return nil
}

func (r *syncLogRepository) ListByDevice(ctx context.Context, deviceID, userID string) ([]*domain.SyncLog, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"device_id": deviceID,
			"user_id":   userID,
			"status":    map[string]interface{}{"$exists": true},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.SyncLog
	for rows.Next() {
		var entry domain.SyncLog
		if err := rows.ScanDoc(&entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
