package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/metrics"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// defaultBatchTTLSeconds is how long a batch stays open after begin_batch
// before it is treated as expired and BatchNotFound; appends do not extend
// it.
const defaultBatchTTLSeconds = 2 * 60 * 60

// BeginBatch opens a new batch for collection, staging the first set of
// items, and returns the batch's id. The batch id is opaque to clients;
// it must be echoed back on every AppendBatch and CommitBatch call.
func (e *Engine) BeginBatch(ctx context.Context, principal types.Principal, collection string, items []types.BSOInput) (string, error) {
	for _, item := range items {
		if err := e.validateInput(item); err != nil {
			return "", err
		}
	}

	collectionID, err := e.idmap.CollectionID(ctx, principal.FxaUID, collection)
	if err != nil {
		return "", fmt.Errorf("engine: resolve collection %q: %w", collection, err)
	}

	batchID := uuid.NewString()
	expiry := e.clock.Now().AddSeconds(defaultBatchTTLSeconds)
	batches := e.backend.Batches()
	if err := batches.CreateBatch(ctx, principal.FxaUID, collectionID, batchID, expiry); err != nil {
		return "", fmt.Errorf("engine: create batch: %w", err)
	}
	if len(items) > 0 {
		if err := batches.AppendBatch(ctx, principal.FxaUID, batchID, items); err != nil {
			return "", fmt.Errorf("engine: stage batch items: %w", err)
		}
	}
	metrics.BatchesOpenTotal.Inc()
	return batchID, nil
}

// AppendBatch stages additional items into an already-open batch.
func (e *Engine) AppendBatch(ctx context.Context, principal types.Principal, batchID string, items []types.BSOInput) error {
	for _, item := range items {
		if err := e.validateInput(item); err != nil {
			return err
		}
	}
	if len(items) == 0 {
		return nil
	}
	batches := e.backend.Batches()
	// LoadBatch both validates the batch exists and is this engine's way
	// of surfacing a BatchNotFound for an id that has already been
	// committed or never existed.
	if _, _, err := batches.LoadBatch(ctx, principal.FxaUID, batchID); err != nil {
		return syncerr.Wrap(syncerr.BatchNotFound, batchID, err)
	}
	if err := batches.AppendBatch(ctx, principal.FxaUID, batchID, items); err != nil {
		return fmt.Errorf("engine: append batch %q: %w", batchID, err)
	}
	return nil
}

// CommitBatch applies every staged item in batchID as one atomic write
// against the collection it was opened against, using the same merge
// semantics as PutBSO for each item, and then discards the batch.
func (e *Engine) CommitBatch(ctx context.Context, principal types.Principal, batchID string) (*types.PostResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchCommitDuration)

	batches := e.backend.Batches()
	staged, collectionID, err := batches.LoadBatch(ctx, principal.FxaUID, batchID)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.BatchNotFound, batchID, err)
	}

	var newBytes int64
	for _, item := range staged {
		if item.Payload != nil {
			newBytes += int64(len(*item.Payload))
		}
	}
	if err := e.checkQuotaBytes(ctx, principal, newBytes); err != nil {
		metrics.QuotaExceededTotal.WithLabelValues("batch").Inc()
		return nil, err
	}

	var result *types.PostResult
	err = e.backend.WithTx(ctx, principal.FxaUID, collectionID, storage.ReadWrite, func(tx storage.Tx) error {
		current, _, err := tx.Modified()
		if err != nil {
			return err
		}
		now := clock.Next(e.clock.Now(), current)
		result = types.NewPostResult(now)

		for _, item := range staged {
			existing, getErr := tx.GetBSO(item.ID)
			merged := mergeBSO(existing, getErr == nil, item, now, false)
			if _, err := tx.PutBSO(merged); err != nil {
				result.AddFailure(item.ID, err.Error())
				continue
			}
			result.AddSuccess(item.ID)
		}

		return tx.SetModified(now)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: commit batch %q: %w", batchID, err)
	}

	if err := batches.DeleteBatch(ctx, principal.FxaUID, batchID); err != nil {
		return result, fmt.Errorf("engine: discard committed batch %q: %w", batchID, err)
	}
	metrics.BatchesOpenTotal.Dec()
	metrics.BatchItemsCommitted.Observe(float64(len(result.Success)))
	return result, nil
}
