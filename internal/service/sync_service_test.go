package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"aquasync-server/internal/domain"
)

type mockRecordRepo struct {
	records map[string]*domain.SyncEnvelope

	// failSavesLeft injects write conflicts on the next N saves.
	failSavesLeft int
	saveCalls     int
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{
		records: make(map[string]*domain.SyncEnvelope),
	}
}

func recordKey(entityType domain.EntityType, id string) string {
	return string(entityType) + ":" + id
}

func (m *mockRecordRepo) Find(ctx context.Context, entityType domain.EntityType, id string) (*domain.SyncEnvelope, error) {
	if env, exists := m.records[recordKey(entityType, id)]; exists {
		copied := *env
		return &copied, nil
	}
	return nil, domain.ErrRecordNotFound
}

func (m *mockRecordRepo) Save(ctx context.Context, env *domain.SyncEnvelope) error {
	m.saveCalls++
	if m.failSavesLeft > 0 {
		m.failSavesLeft--
		return domain.ErrWriteConflict
	}
	copied := *env
	m.records[recordKey(env.EntityType, env.ID)] = &copied
	return nil
}

func (m *mockRecordRepo) ModifiedSince(ctx context.Context, labID string, since time.Time) ([]*domain.SyncEnvelope, error) {
	var out []*domain.SyncEnvelope
	for _, env := range m.records {
		if env.LabID == labID && env.LastSyncedAt.After(since) {
			copied := *env
			out = append(out, &copied)
		}
	}
	return out, nil
}

type mockDeviceRepo struct {
	devices map[string]*domain.Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{
		devices: make(map[string]*domain.Device),
	}
}

func (m *mockDeviceRepo) Create(ctx context.Context, device *domain.Device) error {
	m.devices[device.ID] = device
	return nil
}

func (m *mockDeviceRepo) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	var out []*domain.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	if d, exists := m.devices[deviceID]; exists {
		return d, nil
	}
	return nil, domain.ErrDeviceNotFound
}

func (m *mockDeviceRepo) Revoke(ctx context.Context, deviceID string) error {
	if d, exists := m.devices[deviceID]; exists {
		d.IsRevoked = true
		return nil
	}
	return domain.ErrDeviceNotFound
}

func (m *mockDeviceRepo) UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error {
	if d, exists := m.devices[deviceID]; exists {
		d.LastActive = at
		return nil
	}
	return domain.ErrDeviceNotFound
}

// failingSyncLogRepo turns attempt finalization into an error, to prove a
// push without a log row fails as a whole.
type failingSyncLogRepo struct {
	*mockSyncLogRepo
	failUpdate bool
}

func (m *failingSyncLogRepo) Update(ctx context.Context, entry *domain.SyncLog) error {
	if m.failUpdate {
		return fmt.Errorf("log store unavailable")
	}
	return m.mockSyncLogRepo.Update(ctx, entry)
}

type syncFixture struct {
	svc       *SyncService
	backupSvc *BackupService
	logSvc    *SyncLogService
	records   *mockRecordRepo
	devices   *mockDeviceRepo
	backups   *mockBackupRepo
	logs      *mockSyncLogRepo
}

func newSyncFixture(strategy domain.ResolutionStrategy) *syncFixture {
	records := newMockRecordRepo()
	devices := newMockDeviceRepo()
	backups := newMockBackupRepo()
	logs := newMockSyncLogRepo()

	devices.Create(context.Background(), &domain.Device{
		ID:     "dev1",
		UserID: "user1",
		LabID:  "lab1",
	})

	backupSvc := NewBackupService(backups)
	logSvc := NewSyncLogService(logs)
	svc := NewSyncService(records, devices, NewResolverService(), backupSvc, logSvc, nil, strategy)

	return &syncFixture{
		svc:       svc,
		backupSvc: backupSvc,
		logSvc:    logSvc,
		records:   records,
		devices:   devices,
		backups:   backups,
		logs:      logs,
	}
}

// setNow pins every clock the sync path touches.
func (f *syncFixture) setNow(at time.Time) {
	clock := func() time.Time { return at }
	f.svc.now = clock
	f.backupSvc.now = clock
	f.logSvc.now = clock
}

func samplePayload(code string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"sample_code":%q,"site_name":"river intake","status":"collected"}`, code))
}

func pushEnvelope(id string, version int64, syncedAt time.Time) domain.SyncEnvelope {
	return domain.SyncEnvelope{
		ID:           id,
		EntityType:   domain.EntityTypeSample,
		Payload:      samplePayload("WQ-" + id),
		Version:      version,
		LastSyncedAt: syncedAt,
	}
}

func TestSyncService_PushCreatesNewRecord(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	serverNow := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(serverNow)

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if !resp.Success {
		t.Error("expected success")
	}
	if resp.RecordsSynced != 1 || resp.ConflictsDetected != 0 {
		t.Errorf("counters = %d synced, %d conflicts, want 1/0", resp.RecordsSynced, resp.ConflictsDetected)
	}
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != domain.OutcomeCreated {
		t.Fatalf("outcome = %+v, want created", resp.Outcomes)
	}
	if resp.Outcomes[0].Version != 1 {
		t.Errorf("new record version = %d, want 1", resp.Outcomes[0].Version)
	}

	stored, err := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("stored version = %d, want 1", stored.Version)
	}
	if !stored.LastSyncedAt.Equal(serverNow) {
		t.Errorf("stored watermark = %v, want server clock %v", stored.LastSyncedAt, serverNow)
	}
	if stored.LabID != "lab1" {
		t.Errorf("stored lab = %s, want lab1", stored.LabID)
	}
	if stored.LastModifiedBy != "user1" {
		t.Errorf("stored modifier = %s, want user1", stored.LastModifiedBy)
	}

	if len(resp.Entities) != 1 || !resp.Entities[0].IsSynced {
		t.Error("accepted entity should be echoed back with is_synced set")
	}
}

func TestSyncService_PushUpdatesWithoutConflict(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	first, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// Client edits the acknowledged copy and pushes again: watermarks agree,
	// no conflict, version goes up by exactly one.
	f.setNow(base.Add(time.Hour))
	edited := first.Entities[0]
	edited.Payload = samplePayload("WQ-s1-edited")

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{edited},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if resp.ConflictsDetected != 0 {
		t.Errorf("conflicts = %d, want 0", resp.ConflictsDetected)
	}
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != domain.OutcomeUpdated {
		t.Fatalf("outcome = %+v, want updated", resp.Outcomes)
	}
	if resp.Outcomes[0].Version != 2 {
		t.Errorf("version = %d, want 2", resp.Outcomes[0].Version)
	}
}

func TestSyncService_PushConflictLastWriteWins(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	// Device A creates the record.
	first, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// Device A pushes an edit; the server copy's watermark moves on.
	f.setNow(base.Add(time.Hour))
	edited := first.Entities[0]
	edited.Payload = samplePayload("WQ-s1-deviceA")
	if _, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{edited},
	}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// Device B pushes a stale copy edited later: watermark mismatch, and the
	// client's local edit time is irrelevant to detection.
	f.setNow(base.Add(2 * time.Hour))
	stale := first.Entities[0]
	stale.Payload = samplePayload("WQ-s1-deviceB")

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if resp.ConflictsDetected != 1 || resp.ConflictsResolved != 1 {
		t.Fatalf("conflicts = %d detected, %d resolved, want 1/1", resp.ConflictsDetected, resp.ConflictsResolved)
	}
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != domain.OutcomeResolved {
		t.Fatalf("outcome = %+v, want resolved", resp.Outcomes)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatal("expected a conflict summary")
	}

	// The backup row exists and is closed with the strategy noted.
	backup, err := f.backups.Get(context.Background(), resp.Conflicts[0].BackupID)
	if err != nil {
		t.Fatalf("backup not stored: %v", err)
	}
	if !backup.Resolved() {
		t.Error("auto-resolved conflict must close its backup row")
	}
	if backup.ResolutionNotes != "auto-resolved via lww" {
		t.Errorf("notes = %q", backup.ResolutionNotes)
	}

	// Server copy was newer than the stale client watermark, so it survives,
	// but its version still advances.
	stored, _ := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")
	if stored.Version != 3 {
		t.Errorf("version = %d, want 3", stored.Version)
	}
}

func TestSyncService_PushManualConflictLeavesServerUntouched(t *testing.T) {
	f := newSyncFixture(domain.ResolutionManual)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	first, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	serverBefore, _ := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")

	f.setNow(base.Add(time.Hour))
	stale := first.Entities[0]
	stale.LastSyncedAt = stale.LastSyncedAt.Add(-time.Minute) // diverged copy
	stale.Payload = samplePayload("WQ-s1-field-edit")

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if resp.ConflictsDetected != 1 || resp.ConflictsResolved != 0 {
		t.Fatalf("conflicts = %d detected, %d resolved, want 1/0", resp.ConflictsDetected, resp.ConflictsResolved)
	}
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != domain.OutcomeConflict {
		t.Fatalf("outcome = %+v, want conflict", resp.Outcomes)
	}
	if resp.Message == "" {
		t.Error("partial sync should carry an explanatory message")
	}

	// Server copy byte-for-byte untouched.
	serverAfter, _ := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")
	if serverAfter.Version != serverBefore.Version || string(serverAfter.Payload) != string(serverBefore.Payload) {
		t.Error("manual strategy must not mutate the server copy")
	}

	// Backup row sits unresolved in the queue.
	queue, err := f.backups.ListUnresolved(context.Background(), "lab1")
	if err != nil {
		t.Fatalf("ListUnresolved() error = %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected 1 queued conflict, got %d", len(queue))
	}

	// The attempt is logged as conflict.
	logs, _ := f.logs.ListByDevice(context.Background(), "dev1", "user1")
	var conflictLogged bool
	for _, l := range logs {
		if l.Status == domain.SyncStatusConflict {
			conflictLogged = true
		}
	}
	if !conflictLogged {
		t.Error("push with unresolved conflicts should log status conflict")
	}
}

func TestSyncService_PushBadRecordDoesNotAbortBatch(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	f.setNow(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	bad := pushEnvelope("s-bad", 0, time.Time{})
	bad.Payload = json.RawMessage(`{"sample_code":`)

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{
			pushEnvelope("s1", 0, time.Time{}),
			bad,
			pushEnvelope("s2", 0, time.Time{}),
		},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if resp.RecordsSynced != 2 {
		t.Errorf("records synced = %d, want 2", resp.RecordsSynced)
	}
	if len(resp.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(resp.Outcomes))
	}
	if resp.Outcomes[1].Status != domain.OutcomeFailed || resp.Outcomes[1].Error == "" {
		t.Errorf("bad record outcome = %+v, want failed with error detail", resp.Outcomes[1])
	}
	if resp.Outcomes[2].Status != domain.OutcomeCreated {
		t.Error("records after a failed one must still be processed")
	}
}

func TestSyncService_PushFailsWhenLogCannotClose(t *testing.T) {
	records := newMockRecordRepo()
	devices := newMockDeviceRepo()
	devices.Create(context.Background(), &domain.Device{ID: "dev1", UserID: "user1", LabID: "lab1"})
	logs := &failingSyncLogRepo{mockSyncLogRepo: newMockSyncLogRepo()}

	svc := NewSyncService(records, devices, NewResolverService(), NewBackupService(newMockBackupRepo()), NewSyncLogService(logs), nil, domain.ResolutionLastWriteWins)

	logs.failUpdate = true
	_, err := svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err == nil {
		t.Fatal("push must fail when the attempt cannot be finalized, even if records were applied")
	}
}

func TestSyncService_PushRejectsRevokedDevice(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	f.devices.Revoke(context.Background(), "dev1")

	_, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if !errors.Is(err, domain.ErrDeviceRevoked) {
		t.Fatalf("Push() error = %v, want ErrDeviceRevoked", err)
	}
}

func TestSyncService_PushRetriesAfterWriteConflict(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	f.setNow(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	f.records.failSavesLeft = 1

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if resp.Outcomes[0].Status != domain.OutcomeCreated {
		t.Errorf("outcome = %+v, want created after one retry", resp.Outcomes[0])
	}
	if f.records.saveCalls != 2 {
		t.Errorf("save calls = %d, want 2", f.records.saveCalls)
	}
}

func TestSyncService_PullReturnsChangesAndTombstones(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	deleted := pushEnvelope("s-del", 0, time.Time{})
	deleted.IsDeleted = true

	if _, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{}), deleted},
	}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	resp, err := f.svc.Pull(context.Background(), "user1", "lab1", &domain.PullRequest{
		DeviceID:          "dev1",
		LastSyncTimestamp: base.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}

	if len(resp.Entities) != 2 {
		t.Fatalf("entities = %d, want 2 (tombstones included)", len(resp.Entities))
	}
	var sawTombstone bool
	for _, e := range resp.Entities {
		if !e.IsSynced {
			t.Error("pulled entities should be flagged is_synced")
		}
		if e.IsDeleted {
			sawTombstone = true
		}
	}
	if !sawTombstone {
		t.Error("tombstoned record must travel through pull")
	}
}

func TestSyncService_PullWatermarkIsStrictlyAfter(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	if _, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	// Pulling with the record's exact watermark must not repeat it.
	resp, err := f.svc.Pull(context.Background(), "user1", "lab1", &domain.PullRequest{
		DeviceID:          "dev1",
		LastSyncTimestamp: base,
	})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(resp.Entities) != 0 {
		t.Errorf("entities = %d, want 0 for an exact-watermark pull", len(resp.Entities))
	}
}

func TestSyncService_PullZeroWatermarkFullResync(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	// Seed a record directly, from a device with no sync history.
	env := pushEnvelope("s1", 1, base)
	env.LabID = "lab1"
	f.records.Save(context.Background(), &env)

	resp, err := f.svc.Pull(context.Background(), "user1", "lab1", &domain.PullRequest{DeviceID: "dev1"})
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(resp.Entities) != 1 {
		t.Errorf("entities = %d, want full resync of 1", len(resp.Entities))
	}
}

func TestSyncService_StatusCombinesLogsAndConflicts(t *testing.T) {
	f := newSyncFixture(domain.ResolutionManual)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	// Clean create, then a diverged push that queues a manual conflict.
	first, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	f.setNow(base.Add(time.Hour))
	stale := first.Entities[0]
	stale.LastSyncedAt = stale.LastSyncedAt.Add(-time.Minute)
	if _, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	status, err := f.svc.Status(context.Background(), "user1", "lab1", "dev1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if status.TotalSyncs != 2 {
		t.Errorf("TotalSyncs = %d, want 2", status.TotalSyncs)
	}
	if status.Status != domain.SyncStatusConflict {
		t.Errorf("Status = %s, want conflict (latest attempt)", status.Status)
	}
	if status.PendingConflicts != 1 {
		t.Errorf("PendingConflicts = %d, want 1", status.PendingConflicts)
	}
	if !status.LastSyncTimestamp.Equal(base) {
		t.Errorf("LastSyncTimestamp = %v, want %v (the clean attempt)", status.LastSyncTimestamp, base)
	}
}

func TestSyncService_StatusNoHistory(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)

	status, err := f.svc.Status(context.Background(), "user1", "lab1", "dev1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domain.SyncStatusPending {
		t.Errorf("Status = %s, want pending for a device with no attempts", status.Status)
	}
	if !status.LastSyncTimestamp.IsZero() {
		t.Error("LastSyncTimestamp should be zero with no history")
	}
}

func TestSyncService_ResolveConflictManually(t *testing.T) {
	f := newSyncFixture(domain.ResolutionManual)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	first, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	f.setNow(base.Add(time.Hour))
	stale := first.Entities[0]
	stale.LastSyncedAt = stale.LastSyncedAt.Add(-time.Minute)
	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	backupID := resp.Conflicts[0].BackupID

	merged := pushEnvelope("s1", 1, base)
	merged.Payload = samplePayload("WQ-s1-merged")

	f.setNow(base.Add(2 * time.Hour))
	resolved, err := f.svc.ResolveConflict(context.Background(), "user2", "lab1", backupID, &domain.ResolveConflictRequest{
		Strategy: domain.ResolutionManual,
		Notes:    "merged field and lab edits",
		Entity:   &merged,
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	stored, _ := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2 (bumped past server copy)", stored.Version)
	}
	var storedSample domain.Sample
	if err := json.Unmarshal(stored.Payload, &storedSample); err != nil {
		t.Fatalf("stored payload does not decode: %v", err)
	}
	if storedSample.SampleCode != "WQ-s1-merged" {
		t.Errorf("SampleCode = %s, want the hand-merged value", storedSample.SampleCode)
	}
	if stored.LastModifiedBy != "user2" {
		t.Errorf("LastModifiedBy = %s, want the resolving user", stored.LastModifiedBy)
	}
	if resolved.Version != stored.Version {
		t.Error("returned entity should match the stored copy")
	}

	backup, _ := f.backups.Get(context.Background(), backupID)
	if !backup.Resolved() || backup.ResolvedBy != "user2" {
		t.Error("backup should be closed by the resolving user")
	}
	if backup.ResolutionNotes != "merged field and lab edits" {
		t.Errorf("notes = %q", backup.ResolutionNotes)
	}

	// Resolving twice is rejected.
	_, err = f.svc.ResolveConflict(context.Background(), "user2", "lab1", backupID, &domain.ResolveConflictRequest{
		Strategy: domain.ResolutionServerWins,
	})
	if !errors.Is(err, domain.ErrBackupAlreadyResolved) {
		t.Fatalf("ResolveConflict() error = %v, want ErrBackupAlreadyResolved", err)
	}
}

func TestSyncService_ResolveConflictManualRequiresEntity(t *testing.T) {
	f := newSyncFixture(domain.ResolutionManual)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	first, _ := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	stale := first.Entities[0]
	stale.LastSyncedAt = stale.LastSyncedAt.Add(-time.Minute)
	resp, _ := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	})
	backupID := resp.Conflicts[0].BackupID

	if _, err := f.svc.ResolveConflict(context.Background(), "user1", "lab1", backupID, &domain.ResolveConflictRequest{
		Strategy: domain.ResolutionManual,
	}); err == nil {
		t.Error("manual resolution without an entity should fail")
	}

	if _, err := f.svc.ResolveConflict(context.Background(), "user1", "lab2", backupID, &domain.ResolveConflictRequest{
		Strategy: domain.ResolutionServerWins,
	}); err == nil {
		t.Error("resolving another lab's conflict should fail")
	}
}

func TestSyncService_ResolveConflictClientWins(t *testing.T) {
	f := newSyncFixture(domain.ResolutionManual)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.setNow(base)

	first, _ := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{pushEnvelope("s1", 0, time.Time{})},
	})
	stale := first.Entities[0]
	stale.LastSyncedAt = stale.LastSyncedAt.Add(-time.Minute)
	stale.Payload = samplePayload("WQ-s1-client")
	resp, _ := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{stale},
	})

	resolved, err := f.svc.ResolveConflict(context.Background(), "user1", "lab1", resp.Conflicts[0].BackupID, &domain.ResolveConflictRequest{
		Strategy: domain.ResolutionClientWins,
	})
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}

	var resolvedSample domain.Sample
	if err := json.Unmarshal(resolved.Payload, &resolvedSample); err != nil {
		t.Fatalf("resolved payload does not decode: %v", err)
	}
	if resolvedSample.SampleCode != "WQ-s1-client" {
		t.Error("client-wins resolution should persist the client copy")
	}
}

func TestSyncService_PushStoresCanonicalPayload(t *testing.T) {
	f := newSyncFixture(domain.ResolutionLastWriteWins)
	f.setNow(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	env := pushEnvelope("s1", 0, time.Time{})
	env.Payload = json.RawMessage(`{"sample_code":"WQ-s1","site_name":"river intake","legacy_import_tag":"v1-csv"}`)

	resp, err := f.svc.Push(context.Background(), "user1", "lab1", &domain.PushRequest{
		DeviceID: "dev1",
		Entities: []domain.SyncEnvelope{env},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if resp.RecordsSynced != 1 {
		t.Fatalf("RecordsSynced = %d, want 1", resp.RecordsSynced)
	}

	stored, err := f.records.Find(context.Background(), domain.EntityTypeSample, "s1")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(stored.Payload, &fields); err != nil {
		t.Fatalf("stored payload does not decode: %v", err)
	}
	if fields["sample_code"] != "WQ-s1" || fields["site_name"] != "river intake" {
		t.Errorf("entity fields lost: %v", fields)
	}
	if _, present := fields["legacy_import_tag"]; present {
		t.Error("stored payload should carry only the entity's fields, not extra client JSON")
	}
}
