package engine

import (
	"context"
	"fmt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// InfoCollections returns every collection principal has written to,
// mapped to its last-modified timestamp.
func (e *Engine) InfoCollections(ctx context.Context, principal types.Principal) (map[string]clock.SyncTimestamp, error) {
	meta, err := e.backend.CollectionMeta(ctx, principal.FxaUID)
	if err != nil {
		return nil, fmt.Errorf("engine: info/collections: %w", err)
	}
	out := make(map[string]clock.SyncTimestamp, len(meta))
	for id, m := range meta {
		name, err := e.idmap.CollectionName(ctx, principal.FxaUID, id)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve collection id %d: %w", id, err)
		}
		out[name] = m.Modified
	}
	return out, nil
}

// InfoCollectionCounts returns the number of non-expired BSOs in each of
// principal's collections.
func (e *Engine) InfoCollectionCounts(ctx context.Context, principal types.Principal) (map[string]int64, error) {
	meta, err := e.backend.CollectionMeta(ctx, principal.FxaUID)
	if err != nil {
		return nil, fmt.Errorf("engine: info/collection_counts: %w", err)
	}
	out := make(map[string]int64, len(meta))
	for id, m := range meta {
		name, err := e.idmap.CollectionName(ctx, principal.FxaUID, id)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve collection id %d: %w", id, err)
		}
		out[name] = m.Count
	}
	return out, nil
}

// InfoCollectionUsage returns the number of kilobytes of payload storage
// used by each of principal's collections.
func (e *Engine) InfoCollectionUsage(ctx context.Context, principal types.Principal) (map[string]float64, error) {
	meta, err := e.backend.CollectionMeta(ctx, principal.FxaUID)
	if err != nil {
		return nil, fmt.Errorf("engine: info/collection_usage: %w", err)
	}
	out := make(map[string]float64, len(meta))
	for id, m := range meta {
		name, err := e.idmap.CollectionName(ctx, principal.FxaUID, id)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve collection id %d: %w", id, err)
		}
		out[name] = float64(m.Bytes) / 1024.0
	}
	return out, nil
}

// InfoQuota returns principal's current usage and remaining quota, both
// in kilobytes. Remaining is nil for an account with no quota enforced.
func (e *Engine) InfoQuota(ctx context.Context, principal types.Principal) (usedKB float64, remainingKB *float64, err error) {
	usage, err := e.backend.AccountUsage(ctx, principal.FxaUID)
	if err != nil {
		return 0, nil, fmt.Errorf("engine: info/quota: %w", err)
	}
	usedKB = float64(usage.TotalBytes) / 1024.0
	if e.quota.Limit <= 0 {
		return usedKB, nil, nil
	}
	remaining := float64(e.quota.Remaining(usage)) / 1024.0
	return usedKB, &remaining, nil
}

// InfoConfiguration returns the server-side limits a client should
// respect before issuing writes.
func (e *Engine) InfoConfiguration() types.ConfigLimits {
	return e.limits
}
