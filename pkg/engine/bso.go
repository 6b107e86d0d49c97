package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/log"
	"github.com/mozilla-services/syncstorage-go/pkg/metrics"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// GetBSO returns a single BSO, or a syncerr.BsoNotFound error if it does
// not exist, has expired, or its collection has never been written to.
func (e *Engine) GetBSO(ctx context.Context, principal types.Principal, collection, id string) (types.BSO, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "get_bso")

	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return types.BSO{}, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var bso types.BSO
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadOnly, func(tx storage.Tx) error {
		var err error
		bso, err = tx.GetBSO(id)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.OperationsTotal.WithLabelValues("get_bso", "not_found").Inc()
			return types.BSO{}, syncerr.Wrap(syncerr.BsoNotFound, fmt.Sprintf("bso %q", id), err)
		}
		metrics.OperationsTotal.WithLabelValues("get_bso", "error").Inc()
		return types.BSO{}, fmt.Errorf("engine: get bso %q: %w", id, err)
	}
	metrics.OperationsTotal.WithLabelValues("get_bso", "ok").Inc()
	return bso, nil
}

// GetBSOs returns a paginated, filtered listing of a collection's BSOs. A
// collection that has never been written to returns an empty result, not
// an error (invariant I6).
func (e *Engine) GetBSOs(ctx context.Context, principal types.Principal, collection string, query types.GetBSOsQuery) (types.GetBSOsResult, error) {
	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return types.GetBSOsResult{}, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var result types.GetBSOsResult
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadOnly, func(tx storage.Tx) error {
		var err error
		result, err = tx.GetBSOs(query)
		return err
	})
	if err != nil {
		return types.GetBSOsResult{}, fmt.Errorf("engine: list collection %q: %w", collection, err)
	}
	return result, nil
}

// GetBSOIds is GetBSOs with FullBSO false, returning only ids; callers use
// it for the ?ids=true style of request.
func (e *Engine) GetBSOIds(ctx context.Context, principal types.Principal, collection string, query types.GetBSOsQuery) ([]string, *types.Offset, error) {
	result, err := e.GetBSOs(ctx, principal, collection, query)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(result.BSOs))
	for i, bso := range result.BSOs {
		ids[i] = bso.ID
	}
	return ids, result.Offset, nil
}

// GetCollectionModified returns a collection's last-modified timestamp,
// or syncerr.CollectionNotFound if it has never been written to.
func (e *Engine) GetCollectionModified(ctx context.Context, principal types.Principal, collection string) (clock.SyncTimestamp, error) {
	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return 0, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var modified clock.SyncTimestamp
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadOnly, func(tx storage.Tx) error {
		m, ok, err := tx.Modified()
		if err != nil {
			return err
		}
		if !ok {
			return syncerr.New(syncerr.CollectionNotFound, collection)
		}
		modified = m
		return nil
	})
	return modified, err
}

// PutBSO creates or updates a single BSO, applying the "absent field means
// preserve" merge rule against whatever row already
// exists, and returns the collection's new modified timestamp.
func (e *Engine) PutBSO(ctx context.Context, principal types.Principal, collection string, input types.BSOInput, ifUnmodifiedSince *clock.SyncTimestamp) (clock.SyncTimestamp, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "put_bso")

	if err := e.validateInput(input); err != nil {
		return 0, err
	}

	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return 0, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	if err := e.checkQuota(ctx, principal, input.Payload); err != nil {
		metrics.QuotaExceededTotal.WithLabelValues(collection).Inc()
		return 0, err
	}

	var newModified clock.SyncTimestamp
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		current, ok, err := tx.Modified()
		if err != nil {
			return err
		}
		if ifUnmodifiedSince != nil && ok && current > *ifUnmodifiedSince {
			metrics.ConflictsTotal.WithLabelValues(collection).Inc()
			return syncerr.New(syncerr.Conflict, "collection modified since If-Unmodified-Since")
		}

		now := clock.Next(e.clock.Now(), current)

		existing, err := tx.GetBSO(input.ID)
		merged := mergeBSO(existing, err == nil, input, now, true)

		if _, err := tx.PutBSO(merged); err != nil {
			return err
		}
		if err := tx.SetModified(now); err != nil {
			return err
		}
		newModified = now
		return nil
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("put_bso", "error").Inc()
		return 0, err
	}
	metrics.OperationsTotal.WithLabelValues("put_bso", "ok").Inc()
	log.WithCollection(principal.FxaUID, collection).Debug().Str("bso_id", input.ID).Msg("put bso")
	return newModified, nil
}

// mergeBSO leaves a field on existing untouched when the corresponding
// field on input is nil. If existing did not exist (exists == false), a
// nil payload becomes the empty string and a nil sortindex becomes 0,
// matching PUT-creates-a-new-record semantics. A
// ttl-only PUT against a record with no prior payload still creates the
// row, with an empty payload and its expiry set from ttl.
//
// bumpModifiedAlways controls whether modified advances on a ttl-only
// change against an existing record. PutBSO always advances it; a batch
// commit only advances it when payload or sortindex was provided, leaving
// a ttl-only staged item's modified untouched.
func mergeBSO(existing types.BSO, exists bool, input types.BSOInput, now clock.SyncTimestamp, bumpModifiedAlways bool) types.BSO {
	result := existing
	result.ID = input.ID
	if bumpModifiedAlways || !exists || input.Payload != nil || input.SortIndex != nil {
		result.Modified = now
	}

	if input.Payload != nil {
		result.Payload = *input.Payload
	} else if !exists {
		result.Payload = ""
	}

	if input.SortIndex != nil {
		result.SortIndex = *input.SortIndex
	} else if !exists {
		result.SortIndex = 0
	}

	if input.TTL != nil {
		result.Expiry = clock.ExpiryFromTTL(now, input.TTL)
	} else if !exists {
		result.Expiry = clock.Never
	}

	return result
}

// DeleteBSO deletes a single BSO. Deleting an id that does not exist is a
// no-op that returns syncerr.BsoNotFound without touching the
// collection's modified timestamp.
func (e *Engine) DeleteBSO(ctx context.Context, principal types.Principal, collection, id string) (clock.SyncTimestamp, error) {
	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return 0, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var modified clock.SyncTimestamp
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		existed, err := tx.DeleteBSO(id)
		if err != nil {
			return err
		}
		if !existed {
			return syncerr.New(syncerr.BsoNotFound, id)
		}
		now := clock.Next(e.clock.Now(), 0)
		if m, ok, err := tx.Modified(); err == nil && ok {
			now = clock.Next(e.clock.Now(), m)
		}
		if err := tx.SetModified(now); err != nil {
			return err
		}
		modified = now
		return nil
	})
	return modified, err
}

// DeleteBSOs deletes a set of BSOs from a collection in one request. Ids
// with no matching row are silently skipped (I7): the call only fails if
// the backend itself errors.
func (e *Engine) DeleteBSOs(ctx context.Context, principal types.Principal, collection string, ids []string) (clock.SyncTimestamp, error) {
	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return 0, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var modified clock.SyncTimestamp
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		deleted, err := tx.DeleteBSOs(ids)
		if err != nil {
			return err
		}
		current, ok, err := tx.Modified()
		if err != nil {
			return err
		}
		if len(deleted) == 0 {
			if ok {
				modified = current
			}
			return nil
		}
		now := clock.Next(e.clock.Now(), current)
		if err := tx.SetModified(now); err != nil {
			return err
		}
		modified = now
		return nil
	})
	return modified, err
}

// DeleteCollection deletes every BSO in a collection and its modified
// timestamp.
func (e *Engine) DeleteCollection(ctx context.Context, principal types.Principal, collection string) error {
	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}
	return e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		return tx.DeleteCollection()
	})
}

// DeleteAll deletes every collection and BSO belonging to principal.
func (e *Engine) DeleteAll(ctx context.Context, principal types.Principal) error {
	if err := e.backend.DeleteAll(ctx, principal.FxaUID); err != nil {
		return err
	}
	e.idmap.Forget(principal.FxaUID)
	return nil
}

// PostBSOs upserts a list of BSOs in one request, applying the same merge
// semantics as PutBSO to each item and accumulating a per-item result
// instead of failing the whole call on the first bad item. Quota is
// checked against a running total of the bytes already accepted earlier
// in the same call: once an item would exceed the account's quota, that
// item and every item after it in the list fail with "quota" without
// being written, even if they would individually fit.
func (e *Engine) PostBSOs(ctx context.Context, principal types.Principal, collection string, items []types.BSOInput) (*types.PostResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.OperationDuration, "post_bsos")

	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	var usage quota.Usage
	if e.quota.Limit > 0 {
		usage, err = e.backend.AccountUsage(ctx, principal.FxaUID)
		if err != nil {
			return nil, fmt.Errorf("engine: check quota: %w", err)
		}
	}

	toWrite := make([]types.BSOInput, 0, len(items))
	preFailed := make(map[string]string)
	quotaExceeded := false

	for _, item := range items {
		if quotaExceeded {
			preFailed[item.ID] = syncerr.Quota.String()
			continue
		}
		if err := e.validateInput(item); err != nil {
			preFailed[item.ID] = syncerr.KindOf(err).String()
			continue
		}
		if item.Payload != nil && e.quota.Limit > 0 {
			size := int64(len(*item.Payload))
			if err := e.quota.CheckWrite(usage, size); err != nil {
				quotaExceeded = true
				metrics.QuotaExceededTotal.WithLabelValues(collection).Inc()
				preFailed[item.ID] = syncerr.Quota.String()
				continue
			}
			usage.TotalBytes += size
		}
		toWrite = append(toWrite, item)
	}

	var result *types.PostResult
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		current, _, err := tx.Modified()
		if err != nil {
			return err
		}
		result = types.NewPostResult(current)
		for id, reason := range preFailed {
			result.AddFailure(id, reason)
		}
		if len(toWrite) == 0 {
			return nil
		}

		now := clock.Next(e.clock.Now(), current)
		for _, item := range toWrite {
			existing, getErr := tx.GetBSO(item.ID)
			merged := mergeBSO(existing, getErr == nil, item, now, true)
			if _, err := tx.PutBSO(merged); err != nil {
				result.AddFailure(item.ID, failureReason(err))
				continue
			}
			result.AddSuccess(item.ID)
		}
		if len(result.Success) == 0 {
			return nil
		}
		result.Modified = now
		return tx.SetModified(now)
	})
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("post_bsos", "error").Inc()
		return nil, fmt.Errorf("engine: post bsos to %q: %w", collection, err)
	}
	metrics.OperationsTotal.WithLabelValues("post_bsos", "ok").Inc()
	return result, nil
}

// failureReason renders err the way PostResult.Failed reports it: the
// syncerr.Kind name when the error is classified, its message otherwise.
func failureReason(err error) string {
	if k := syncerr.KindOf(err); k != syncerr.Unknown {
		return k.String()
	}
	return err.Error()
}

func (e *Engine) checkQuota(ctx context.Context, principal types.Principal, payload *string) error {
	if payload == nil {
		return nil
	}
	return e.checkQuotaBytes(ctx, principal, int64(len(*payload)))
}

// checkQuotaBytes is the common quota gate for any write that is about to
// add additionalBytes to principal's account: a single PutBSO, or the
// aggregate of a CommitBatch call. PostBSOs checks each item against its
// own running total instead.
func (e *Engine) checkQuotaBytes(ctx context.Context, principal types.Principal, additionalBytes int64) error {
	if e.quota.Limit <= 0 {
		return nil
	}
	usage, err := e.backend.AccountUsage(ctx, principal.FxaUID)
	if err != nil {
		return fmt.Errorf("engine: check quota: %w", err)
	}
	return e.quota.CheckWrite(usage, additionalBytes)
}
