// Package serializer converts between wire envelopes and concrete entities.
// Dispatch is by the envelope's explicit entity-type tag.
package serializer

import (
	"encoding/json"
	"fmt"

	"aquasync-server/internal/domain"
)

// Decode unmarshals the envelope payload into the concrete entity named by
// the type tag and stamps the envelope's sync metadata onto it. The payload
// id, when present, must agree with the envelope id.
func Decode(env *domain.SyncEnvelope) (domain.Syncable, error) {
	if !env.EntityType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEntityType, env.EntityType)
	}

	var rec domain.Syncable
	var meta *domain.SyncMeta

	switch env.EntityType {
	case domain.EntityTypeSample:
		s := &domain.Sample{}
		if err := json.Unmarshal(env.Payload, s); err != nil {
			return nil, fmt.Errorf("failed to decode sample payload: %w", err)
		}
		rec, meta = s, &s.SyncMeta
	case domain.EntityTypeTestResult:
		t := &domain.TestResult{}
		if err := json.Unmarshal(env.Payload, t); err != nil {
			return nil, fmt.Errorf("failed to decode test result payload: %w", err)
		}
		rec, meta = t, &t.SyncMeta
	case domain.EntityTypeParameter:
		p := &domain.Parameter{}
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return nil, fmt.Errorf("failed to decode parameter payload: %w", err)
		}
		rec, meta = p, &p.SyncMeta
	}

	if meta.ID != "" && meta.ID != env.ID {
		return nil, fmt.Errorf("payload id %q does not match envelope id %q", meta.ID, env.ID)
	}

	meta.ID = env.ID
	meta.Version = env.Version
	meta.LastSyncedAt = env.LastSyncedAt
	meta.LastModifiedBy = env.LastModifiedBy
	meta.IsDeleted = env.IsDeleted

	return rec, nil
}

// Encode wraps a concrete entity back into its wire envelope.
func Encode(rec domain.Syncable, labID string) (*domain.SyncEnvelope, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", rec.RecordType(), err)
	}

	return &domain.SyncEnvelope{
		ID:             rec.EntityID(),
		EntityType:     rec.RecordType(),
		LabID:          labID,
		Payload:        payload,
		Version:        rec.RecordVersion(),
		LastSyncedAt:   rec.SyncWatermark(),
		LastModifiedBy: rec.ModifiedBy(),
		IsDeleted:      rec.Tombstoned(),
	}, nil
}
