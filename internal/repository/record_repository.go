package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"aquasync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// RecordRepository is the authoritative store for synced records. Documents
// keep the envelope fields at the top level so Mango selectors can filter on
// entity_type, lab_id and last_synced_at.
type RecordRepository interface {
	Find(ctx context.Context, entityType domain.EntityType, id string) (*domain.SyncEnvelope, error)
	Save(ctx context.Context, env *domain.SyncEnvelope) error
	ModifiedSince(ctx context.Context, labID string, since time.Time) ([]*domain.SyncEnvelope, error)
}

type recordRepository struct {
	client *kivik.Client
	dbName string
}

func NewRecordRepository(client *kivik.Client, dbName string) RecordRepository {
	return &recordRepository{
		client: client,
		dbName: dbName,
	}
}

// syncTimeLayout is RFC 3339 with fixed-width nanoseconds, always UTC.
// RFC3339Nano strips trailing fractional zeros, so "…00.52Z" sorts before
// "…00.5Z" as strings; padding keeps lexicographic order equal to temporal
// order, which the ModifiedSince range selector depends on.
const syncTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func syncTimeString(t time.Time) string {
	return t.UTC().Format(syncTimeLayout)
}

var docPrefixes = map[domain.EntityType]string{
	domain.EntityTypeSample:     "sample",
	domain.EntityTypeTestResult: "result",
	domain.EntityTypeParameter:  "param",
}

func recordDocID(entityType domain.EntityType, id string) string {
	return fmt.Sprintf("%s:%s", docPrefixes[entityType], id)
}

func (r *recordRepository) Find(ctx context.Context, entityType domain.EntityType, id string) (*domain.SyncEnvelope, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, recordDocID(entityType, id))

	var env domain.SyncEnvelope
	if err := row.ScanDoc(&env); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find %s %s: %w", entityType, id, err)
	}

	return &env, nil
}

// Save upserts the envelope. Concurrent writers racing on the same document
// lose the _rev check and get ErrWriteConflict; the caller re-reads and
// re-runs conflict detection instead of overwriting blindly.
func (r *recordRepository) Save(ctx context.Context, env *domain.SyncEnvelope) error {
	db := r.client.DB(r.dbName)
	docID := recordDocID(env.EntityType, env.ID)

	doc := map[string]interface{}{
		"_id":              docID,
		"id":               env.ID,
		"entity_type":      env.EntityType,
		"lab_id":           env.LabID,
		"payload":          env.Payload,
		"version":          env.Version,
		"last_synced_at":   syncTimeString(env.LastSyncedAt),
		"last_modified_by": env.LastModifiedBy,
		"is_deleted":       env.IsDeleted,
	}

	var existing map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err == nil {
		doc["_rev"] = existing["_rev"]
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to fetch existing record for save: %w", err)
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return domain.ErrWriteConflict
		}
		return fmt.Errorf("failed to save %s %s: %w", env.EntityType, env.ID, err)
	}

	return nil
}

func (r *recordRepository) ModifiedSince(ctx context.Context, labID string, since time.Time) ([]*domain.SyncEnvelope, error) {
	db := r.client.DB(r.dbName)

	// Watermarks are stored via syncTimeString, so a plain string $gt is a
	// correct strictly-after range scan. Tombstones are deliberately not
	// filtered out.
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"lab_id":         labID,
			"entity_type":    map[string]interface{}{"$in": domain.SyncedEntityTypes},
			"last_synced_at": map[string]interface{}{"$gt": syncTimeString(since)},
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query modified records: %w", err)
	}
	defer rows.Close()

	var envs []*domain.SyncEnvelope
	for rows.Next() {
		var env domain.SyncEnvelope
		if err := rows.ScanDoc(&env); err != nil {
			continue // skip malformed docs
		}
		envs = append(envs, &env)
	}

	return envs, nil
}
