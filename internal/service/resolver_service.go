package service

import (
	"fmt"

	"aquasync-server/internal/domain"
)

// ResolverService decides whether two copies of a record conflict and which
// copy survives under a given strategy. It is pure decision logic: no clock,
// no store access, no ambient state.
type ResolverService struct{}

func NewResolverService() *ResolverService {
	return &ResolverService{}
}

// HasConflict reports whether the two copies diverged since they last
// agreed, by comparing sync watermarks. The check is symmetric and
// deliberately favors false positives: flagging an identical edit twice
// costs a backup row, silently dropping a real edit costs data.
func (r *ResolverService) HasConflict(server, client domain.Syncable) bool {
	return !server.SyncWatermark().Equal(client.SyncWatermark())
}

// Resolve picks the winning copy under the given strategy. The loser is
// never discarded by this method; callers must have backed up both copies
// before asking for a resolution.
func (r *ResolverService) Resolve(server, client domain.Syncable, strategy domain.ResolutionStrategy) (domain.Syncable, error) {
	switch strategy {
	case domain.ResolutionLastWriteWins:
		// Strictly-greater client watermark wins; ties resolve to the
		// server so repeated resolution can never oscillate.
		if client.SyncWatermark().After(server.SyncWatermark()) {
			return client, nil
		}
		return server, nil

	case domain.ResolutionServerWins:
		return server, nil

	case domain.ResolutionClientWins:
		return client, nil

	case domain.ResolutionManual:
		// Failing fast here prevents accidental data loss: picking a
		// default winner on behalf of a human is exactly what this
		// strategy forbids.
		return nil, ErrManualResolutionRequired

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}
