package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/repository"
	"aquasync-server/internal/serializer"
	"aquasync-server/internal/websocket"
)

// SyncService is the push/pull protocol entry point. It applies client
// batches against server state, invoking the resolver and the backup store
// on conflicts, and serves incremental changes back to clients.
//
// The clock is an explicit field and the acting user is a parameter on
// every call; nothing here reads ambient state.
type SyncService struct {
	records   repository.RecordRepository
	devices   repository.DeviceRepository
	resolver  *ResolverService
	backups   *BackupService
	logs      *SyncLogService
	wsManager *websocket.Manager
	strategy  domain.ResolutionStrategy
	now       func() time.Time
}

func NewSyncService(
	records repository.RecordRepository,
	devices repository.DeviceRepository,
	resolver *ResolverService,
	backups *BackupService,
	logs *SyncLogService,
	wsManager *websocket.Manager,
	strategy domain.ResolutionStrategy,
) *SyncService {
	if !strategy.Valid() {
		strategy = domain.ResolutionLastWriteWins
	}

	return &SyncService{
		records:   records,
		devices:   devices,
		resolver:  resolver,
		backups:   backups,
		logs:      logs,
		wsManager: wsManager,
		strategy:  strategy,
		now:       time.Now,
	}
}

// Push applies a batch of client-side changes. Records are processed
// independently: a bad record lowers the counts and shows up in the outcome
// list, it never aborts the batch. Only a failure to record the attempt
// itself fails the whole push, even when individual records were applied.
func (s *SyncService) Push(ctx context.Context, userID, labID string, req *domain.PushRequest) (*domain.SyncResponse, error) {
	if err := s.checkDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	attempt, err := s.logs.Create(ctx, req.DeviceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync log: %w", err)
	}

	resp := &domain.SyncResponse{
		Conflicts: []domain.ConflictSummary{},
		Entities:  []domain.SyncEnvelope{},
	}

	for i := range req.Entities {
		outcome, accepted, conflict := s.processEnvelope(ctx, userID, labID, req.DeviceID, &req.Entities[i])
		resp.Outcomes = append(resp.Outcomes, outcome)

		switch outcome.Status {
		case domain.OutcomeCreated, domain.OutcomeUpdated:
			resp.RecordsSynced++
		case domain.OutcomeResolved:
			resp.RecordsSynced++
			resp.ConflictsDetected++
			resp.ConflictsResolved++
		case domain.OutcomeConflict:
			resp.ConflictsDetected++
		case domain.OutcomeFailed:
			log.Printf("push: %s %s failed: %s", outcome.EntityType, outcome.EntityID, outcome.Error)
		}

		if accepted != nil {
			accepted.IsSynced = true
			resp.Entities = append(resp.Entities, *accepted)
		}
		if conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *conflict)
		}
	}

	status := domain.SyncStatusSynced
	if resp.ConflictsDetected > resp.ConflictsResolved {
		status = domain.SyncStatusConflict
		resp.Message = "partially synced: manual resolution required"
	}

	if err := s.logs.Close(ctx, attempt.ID, status, resp.RecordsSynced, resp.ConflictsDetected, resp.ConflictsResolved, ""); err != nil {
		return nil, fmt.Errorf("failed to finalize sync log: %w", err)
	}

	resp.Success = true
	resp.ServerTimestamp = s.now()

	s.broadcast(userID, req.DeviceID, resp.Entities)

	return resp, nil
}

// processEnvelope handles one record of a push batch. Errors are absorbed
// into a failed outcome; this is deliberate partial-failure tolerance, made
// visible through the outcome list instead of a silent catch.
func (s *SyncService) processEnvelope(ctx context.Context, userID, labID, deviceID string, env *domain.SyncEnvelope) (domain.RecordOutcome, *domain.SyncEnvelope, *domain.ConflictSummary) {
	outcome := domain.RecordOutcome{
		EntityID:   env.ID,
		EntityType: env.EntityType,
	}

	fail := func(err error) (domain.RecordOutcome, *domain.SyncEnvelope, *domain.ConflictSummary) {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		return outcome, nil, nil
	}

	env.LabID = labID
	if env.LastModifiedBy == "" {
		env.LastModifiedBy = userID
	}

	// Round-trip the payload through the concrete entity: malformed records
	// fail here, not after a backup row exists, and the stored copy carries
	// the entity's field set instead of whatever JSON the client sent.
	rec, err := serializer.Decode(env)
	if err != nil {
		return fail(err)
	}
	normalized, err := serializer.Encode(rec, labID)
	if err != nil {
		return fail(err)
	}
	env.Payload = normalized.Payload

	// Two passes: when the final write loses the store's revision check to
	// a concurrent push for the same id, re-read and re-run detection once
	// rather than overwriting blindly.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		server, err := s.records.Find(ctx, env.EntityType, env.ID)
		if errors.Is(err, domain.ErrRecordNotFound) {
			accepted := s.acceptCopy(env, 1)
			if err := s.records.Save(ctx, accepted); err != nil {
				lastErr = err
				if errors.Is(err, domain.ErrWriteConflict) {
					continue
				}
				return fail(err)
			}
			outcome.Status = domain.OutcomeCreated
			outcome.Version = accepted.Version
			return outcome, accepted, nil
		}
		if err != nil {
			return fail(err)
		}

		if !s.resolver.HasConflict(server, env) {
			accepted := s.acceptCopy(env, server.Version+1)
			if err := s.records.Save(ctx, accepted); err != nil {
				lastErr = err
				if errors.Is(err, domain.ErrWriteConflict) {
					continue
				}
				return fail(err)
			}
			outcome.Status = domain.OutcomeUpdated
			outcome.Version = accepted.Version
			return outcome, accepted, nil
		}

		// Conflict: both copies go to the backup store before anything
		// mutates the authoritative copy.
		backup, err := s.backups.CreateBackup(ctx, server, env, s.strategy, deviceID, labID)
		if err != nil {
			return fail(fmt.Errorf("refusing to resolve without backup: %w", err))
		}

		summary := &domain.ConflictSummary{
			BackupID:   backup.ID,
			EntityID:   backup.EntityID,
			EntityType: backup.EntityType,
			Strategy:   backup.Strategy,
			DetectedAt: backup.DetectedAt,
		}

		winner, err := s.resolver.Resolve(server, env, s.strategy)
		if errors.Is(err, ErrManualResolutionRequired) {
			// Server copy stays untouched; the backup row is the queue
			// entry a human resolves later.
			outcome.Status = domain.OutcomeConflict
			outcome.Version = server.Version
			return outcome, nil, summary
		}
		if err != nil {
			outcome.Status = domain.OutcomeFailed
			outcome.Error = err.Error()
			return outcome, nil, summary
		}

		winnerEnv, ok := winner.(*domain.SyncEnvelope)
		if !ok {
			return fail(fmt.Errorf("resolver returned unexpected record type for %s", env.ID))
		}

		accepted := s.acceptCopy(winnerEnv, server.Version+1)
		if err := s.records.Save(ctx, accepted); err != nil {
			lastErr = err
			if errors.Is(err, domain.ErrWriteConflict) {
				// Close out this detection's backup so the raced attempt
				// does not linger in the manual queue, then re-detect.
				if markErr := s.backups.MarkAsResolved(ctx, backup.ID, userID, "superseded by concurrent write"); markErr != nil {
					log.Printf("push: failed to close superseded backup %s: %v", backup.ID, markErr)
				}
				continue
			}
			return fail(err)
		}

		if err := s.backups.MarkAsResolved(ctx, backup.ID, userID, fmt.Sprintf("auto-resolved via %s", s.strategy)); err != nil {
			log.Printf("push: failed to mark backup %s resolved: %v", backup.ID, err)
		}

		outcome.Status = domain.OutcomeResolved
		outcome.Version = accepted.Version
		return outcome, accepted, summary
	}

	return fail(fmt.Errorf("gave up after write conflict retry: %w", lastErr))
}

// acceptCopy builds the authoritative copy of a winning record: version
// bumped, watermark stamped with the server clock.
func (s *SyncService) acceptCopy(env *domain.SyncEnvelope, version int64) *domain.SyncEnvelope {
	accepted := *env
	accepted.Version = version
	accepted.LastSyncedAt = s.now()
	accepted.IsSynced = false
	return &accepted
}

// Pull returns every record, tombstones included, whose watermark is
// strictly after the given one. A zero watermark falls back to the device's
// last successful sync; a device that never synced gets a full resync.
func (s *SyncService) Pull(ctx context.Context, userID, labID string, req *domain.PullRequest) (*domain.SyncResponse, error) {
	if err := s.checkDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	since := req.LastSyncTimestamp
	if since.IsZero() {
		last, err := s.logs.LastSuccessfulSync(ctx, req.DeviceID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pull watermark: %w", err)
		}
		if last != nil {
			since = last.LastSyncTimestamp
		}
	}

	attempt, err := s.logs.Create(ctx, req.DeviceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync log: %w", err)
	}

	envs, err := s.records.ModifiedSince(ctx, labID, since)
	if err != nil {
		if closeErr := s.logs.Close(ctx, attempt.ID, domain.SyncStatusFailed, 0, 0, 0, err.Error()); closeErr != nil {
			log.Printf("pull: failed to finalize failed sync log: %v", closeErr)
		}
		return nil, err
	}

	entities := make([]domain.SyncEnvelope, 0, len(envs))
	for _, env := range envs {
		e := *env
		e.IsSynced = true
		entities = append(entities, e)
	}

	if err := s.logs.Close(ctx, attempt.ID, domain.SyncStatusSynced, len(entities), 0, 0, ""); err != nil {
		return nil, fmt.Errorf("failed to finalize sync log: %w", err)
	}

	return &domain.SyncResponse{
		Success:         true,
		ServerTimestamp: s.now(),
		RecordsSynced:   len(entities),
		Conflicts:       []domain.ConflictSummary{},
		Entities:        entities,
	}, nil
}

// Status combines the sync log and the conflict queue into the health
// surface clients poll after a partial sync.
func (s *SyncService) Status(ctx context.Context, userID, labID, deviceID string) (*domain.SyncStatusResponse, error) {
	last, err := s.logs.LastSuccessfulSync(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.logs.LastAttempt(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	total, failed, err := s.logs.Stats(ctx, deviceID, userID)
	if err != nil {
		return nil, err
	}

	unresolved, err := s.backups.GetUnresolvedConflicts(ctx, labID)
	if err != nil {
		return nil, err
	}

	resp := &domain.SyncStatusResponse{
		DeviceID:         deviceID,
		UserID:           userID,
		Status:           domain.SyncStatusPending,
		TotalSyncs:       total,
		FailedSyncs:      failed,
		PendingConflicts: len(unresolved),
	}
	if attempt != nil {
		resp.Status = attempt.Status
	}
	if last != nil {
		resp.LastSyncTimestamp = last.LastSyncTimestamp
	}

	return resp, nil
}

// ResolveConflict applies a human decision to a backed-up conflict: pick the
// server copy, the client copy, last-write-wins, or a hand-merged copy for
// the manual strategy.
func (s *SyncService) ResolveConflict(ctx context.Context, userID, labID, backupID string, req *domain.ResolveConflictRequest) (*domain.SyncEnvelope, error) {
	backup, err := s.backups.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}

	if backup.LabID != labID {
		return nil, fmt.Errorf("conflict backup belongs to another lab")
	}
	if backup.Resolved() {
		return nil, domain.ErrBackupAlreadyResolved
	}

	var serverCopy, clientCopy domain.SyncEnvelope
	if err := json.Unmarshal(backup.ServerCopy, &serverCopy); err != nil {
		return nil, fmt.Errorf("failed to decode backed-up server copy: %w", err)
	}
	if err := json.Unmarshal(backup.ClientCopy, &clientCopy); err != nil {
		return nil, fmt.Errorf("failed to decode backed-up client copy: %w", err)
	}

	var winner *domain.SyncEnvelope
	if req.Strategy == domain.ResolutionManual {
		if req.Entity == nil {
			return nil, fmt.Errorf("manual resolution requires the chosen entity")
		}
		if req.Entity.ID != backup.EntityID || req.Entity.EntityType != backup.EntityType {
			return nil, fmt.Errorf("entity does not match conflict backup")
		}
		rec, err := serializer.Decode(req.Entity)
		if err != nil {
			return nil, err
		}
		merged, err := serializer.Encode(rec, labID)
		if err != nil {
			return nil, err
		}
		winner = merged
	} else {
		w, err := s.resolver.Resolve(&serverCopy, &clientCopy, req.Strategy)
		if err != nil {
			return nil, err
		}
		winner, _ = w.(*domain.SyncEnvelope)
	}

	var baseVersion int64
	current, err := s.records.Find(ctx, backup.EntityType, backup.EntityID)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}
	if current != nil {
		baseVersion = current.Version
	}

	accepted := s.acceptCopy(winner, baseVersion+1)
	accepted.LabID = labID
	accepted.LastModifiedBy = userID

	if err := s.records.Save(ctx, accepted); err != nil {
		return nil, err
	}

	if err := s.backups.MarkAsResolved(ctx, backupID, userID, req.Notes); err != nil {
		return nil, err
	}

	accepted.IsSynced = true
	s.broadcast(userID, backup.DeviceID, []domain.SyncEnvelope{*accepted})

	return accepted, nil
}

func (s *SyncService) checkDevice(ctx context.Context, userID, deviceID string) error {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.UserID != userID {
		return fmt.Errorf("device does not belong to user")
	}
	if device.IsRevoked {
		return domain.ErrDeviceRevoked
	}

	if err := s.devices.UpdateLastActive(ctx, deviceID, s.now()); err != nil {
		log.Printf("sync: failed to update device last active: %v", err)
	}

	return nil
}

func (s *SyncService) broadcast(userID, deviceID string, entities []domain.SyncEnvelope) {
	if s.wsManager == nil {
		return
	}

	for i := range entities {
		msgType := websocket.TypeRecordUpdate
		if entities[i].IsDeleted {
			msgType = websocket.TypeRecordDelete
		}

		msg, err := websocket.NewMessage(msgType, &websocket.RecordChangePayload{
			Entity:   entities[i],
			DeviceID: deviceID,
		})
		if err != nil {
			log.Printf("sync: failed to build broadcast message: %v", err)
			continue
		}

		if err := s.wsManager.BroadcastToUser(userID, msg, deviceID); err != nil {
			log.Printf("sync: failed to broadcast change: %v", err)
		}
	}
}
