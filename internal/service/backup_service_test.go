package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"aquasync-server/internal/domain"
)

type mockBackupRepo struct {
	backups map[string]*domain.ConflictBackup
}

func newMockBackupRepo() *mockBackupRepo {
	return &mockBackupRepo{
		backups: make(map[string]*domain.ConflictBackup),
	}
}

func (m *mockBackupRepo) Create(ctx context.Context, backup *domain.ConflictBackup) error {
	copied := *backup
	m.backups[backup.ID] = &copied
	return nil
}

func (m *mockBackupRepo) Get(ctx context.Context, backupID string) (*domain.ConflictBackup, error) {
	if b, exists := m.backups[backupID]; exists {
		copied := *b
		return &copied, nil
	}
	return nil, domain.ErrBackupNotFound
}

func (m *mockBackupRepo) Update(ctx context.Context, backup *domain.ConflictBackup) error {
	if _, exists := m.backups[backup.ID]; !exists {
		return domain.ErrBackupNotFound
	}
	copied := *backup
	m.backups[backup.ID] = &copied
	return nil
}

func (m *mockBackupRepo) ListUnresolved(ctx context.Context, labID string) ([]*domain.ConflictBackup, error) {
	var out []*domain.ConflictBackup
	for _, b := range m.backups {
		if b.LabID == labID && !b.Resolved() {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockBackupRepo) ListByEntity(ctx context.Context, entityID string, entityType domain.EntityType) ([]*domain.ConflictBackup, error) {
	var out []*domain.ConflictBackup
	for _, b := range m.backups {
		if b.EntityID == entityID && b.EntityType == entityType {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func conflictPair(id string, base time.Time) (*domain.SyncEnvelope, *domain.SyncEnvelope) {
	server := &domain.SyncEnvelope{
		ID:           id,
		EntityType:   domain.EntityTypeSample,
		LabID:        "lab1",
		Payload:      json.RawMessage(`{"site_name":"river intake"}`),
		Version:      3,
		LastSyncedAt: base,
	}
	client := &domain.SyncEnvelope{
		ID:           id,
		EntityType:   domain.EntityTypeSample,
		LabID:        "lab1",
		Payload:      json.RawMessage(`{"site_name":"river intake east"}`),
		Version:      3,
		LastSyncedAt: base.Add(-time.Minute),
	}
	return server, client
}

func TestBackupService_CreateBackup(t *testing.T) {
	repo := newMockBackupRepo()
	svc := NewBackupService(repo)
	detected := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return detected }

	server, client := conflictPair("s1", detected)

	backup, err := svc.CreateBackup(context.Background(), server, client, domain.ResolutionLastWriteWins, "dev1", "lab1")
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	if backup.ID == "" {
		t.Error("expected backup ID to be generated")
	}
	if backup.EntityID != "s1" || backup.EntityType != domain.EntityTypeSample {
		t.Errorf("backup entity = %s/%s, want s1/sample", backup.EntityID, backup.EntityType)
	}
	if !backup.DetectedAt.Equal(detected) {
		t.Errorf("DetectedAt = %v, want %v", backup.DetectedAt, detected)
	}
	if backup.Resolved() {
		t.Error("fresh backup must not be resolved")
	}

	// Both copies must round-trip intact.
	var storedServer, storedClient domain.SyncEnvelope
	stored, _ := repo.Get(context.Background(), backup.ID)
	if err := json.Unmarshal(stored.ServerCopy, &storedServer); err != nil {
		t.Fatalf("server copy does not unmarshal: %v", err)
	}
	if err := json.Unmarshal(stored.ClientCopy, &storedClient); err != nil {
		t.Fatalf("client copy does not unmarshal: %v", err)
	}
	if string(storedServer.Payload) != string(server.Payload) {
		t.Errorf("server payload = %s, want %s", storedServer.Payload, server.Payload)
	}
	if string(storedClient.Payload) != string(client.Payload) {
		t.Errorf("client payload = %s, want %s", storedClient.Payload, client.Payload)
	}
}

func TestBackupService_MarkAsResolved(t *testing.T) {
	repo := newMockBackupRepo()
	svc := NewBackupService(repo)

	server, client := conflictPair("s1", time.Now())
	backup, err := svc.CreateBackup(context.Background(), server, client, domain.ResolutionManual, "dev1", "lab1")
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	if err := svc.MarkAsResolved(context.Background(), backup.ID, "user1", "kept client copy"); err != nil {
		t.Fatalf("MarkAsResolved() error = %v", err)
	}

	resolved, err := svc.Get(context.Background(), backup.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resolved.Resolved() {
		t.Error("backup should be resolved")
	}
	if resolved.ResolvedBy != "user1" {
		t.Errorf("ResolvedBy = %s, want user1", resolved.ResolvedBy)
	}
	if resolved.ResolutionNotes != "kept client copy" {
		t.Errorf("ResolutionNotes = %s, want kept client copy", resolved.ResolutionNotes)
	}

	// Second resolution must be rejected.
	err = svc.MarkAsResolved(context.Background(), backup.ID, "user2", "changed my mind")
	if !errors.Is(err, domain.ErrBackupAlreadyResolved) {
		t.Fatalf("MarkAsResolved() error = %v, want ErrBackupAlreadyResolved", err)
	}
}

func TestBackupService_MarkAsResolvedNotFound(t *testing.T) {
	svc := NewBackupService(newMockBackupRepo())

	err := svc.MarkAsResolved(context.Background(), "missing", "user1", "")
	if !errors.Is(err, domain.ErrBackupNotFound) {
		t.Fatalf("MarkAsResolved() error = %v, want ErrBackupNotFound", err)
	}
}

func TestBackupService_GetUnresolvedConflicts(t *testing.T) {
	repo := newMockBackupRepo()
	svc := NewBackupService(repo)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(2 * time.Hour), base.Add(time.Hour)}

	var ids []string
	for i, at := range times {
		svc.now = func() time.Time { return at }
		server, client := conflictPair("s1", at)
		server.ID = server.ID + string(rune('a'+i))
		client.ID = server.ID
		b, err := svc.CreateBackup(context.Background(), server, client, domain.ResolutionManual, "dev1", "lab1")
		if err != nil {
			t.Fatalf("CreateBackup() error = %v", err)
		}
		ids = append(ids, b.ID)
	}

	// A resolved backup and another lab's backup must both be excluded.
	if err := svc.MarkAsResolved(context.Background(), ids[2], "user1", ""); err != nil {
		t.Fatalf("MarkAsResolved() error = %v", err)
	}
	otherServer, otherClient := conflictPair("s9", base)
	if _, err := svc.CreateBackup(context.Background(), otherServer, otherClient, domain.ResolutionManual, "dev1", "lab2"); err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	queue, err := svc.GetUnresolvedConflicts(context.Background(), "lab1")
	if err != nil {
		t.Fatalf("GetUnresolvedConflicts() error = %v", err)
	}

	if len(queue) != 2 {
		t.Fatalf("expected 2 unresolved conflicts, got %d", len(queue))
	}
	if queue[0].ID != ids[1] || queue[1].ID != ids[0] {
		t.Error("queue should be ordered most recent first")
	}
}

func TestBackupService_GetBackupByEntity(t *testing.T) {
	repo := newMockBackupRepo()
	svc := NewBackupService(repo)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	server, client := conflictPair("s1", base)
	if _, err := svc.CreateBackup(context.Background(), server, client, domain.ResolutionManual, "dev1", "lab1"); err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	svc.now = func() time.Time { return base.Add(time.Hour) }
	server2, client2 := conflictPair("s1", base.Add(time.Hour))
	latest, err := svc.CreateBackup(context.Background(), server2, client2, domain.ResolutionManual, "dev1", "lab1")
	if err != nil {
		t.Fatalf("CreateBackup() error = %v", err)
	}

	got, err := svc.GetBackupByEntity(context.Background(), "s1", domain.EntityTypeSample)
	if err != nil {
		t.Fatalf("GetBackupByEntity() error = %v", err)
	}
	if got.ID != latest.ID {
		t.Errorf("GetBackupByEntity() = %s, want latest %s", got.ID, latest.ID)
	}

	_, err = svc.GetBackupByEntity(context.Background(), "never-conflicted", domain.EntityTypeSample)
	if !errors.Is(err, domain.ErrBackupNotFound) {
		t.Fatalf("GetBackupByEntity() error = %v, want ErrBackupNotFound", err)
	}
}
