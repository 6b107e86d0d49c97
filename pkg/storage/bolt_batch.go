package storage

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// boltBatchStore is a BoltBackend viewed through the BatchStore interface;
// it shares the same underlying *bolt.DB rather than owning one, so the
// conversion between the two types is free.
type boltBatchStore BoltBackend

type boltBatchRecord struct {
	CollectionID int64
	Expiry       clock.SyncTimestamp
	Items        []types.BSOInput
}

func batchKey(fxaUID, batchID string) []byte {
	return []byte(fxaUID + "\x00" + batchID)
}

func (s *boltBatchStore) CreateBatch(_ context.Context, fxaUID string, collectionID int64, batchID string, expiry clock.SyncTimestamp) error {
	rec := boltBatchRecord{CollectionID: collectionID, Expiry: expiry}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).Put(batchKey(fxaUID, batchID), data)
	})
}

func (s *boltBatchStore) AppendBatch(_ context.Context, fxaUID, batchID string, items []types.BSOInput) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBatches)
		key := batchKey(fxaUID, batchID)
		data := bucket.Get(key)
		if data == nil {
			return fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
		}
		var rec boltBatchRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("storage: decode batch %q: %w", batchID, err)
		}
		if clock.IsExpired(rec.Expiry, clock.FromTime(nowFunc())) {
			return fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
		}
		rec.Items = append(rec.Items, items...)
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, updated)
	})
}

func (s *boltBatchStore) LoadBatch(_ context.Context, fxaUID, batchID string) ([]types.BSOInput, int64, error) {
	var rec boltBatchRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBatches).Get(batchKey(fxaUID, batchID))
		if data == nil {
			return fmt.Errorf("storage: batch %q: %w", batchID, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, 0, err
	}
	if clock.IsExpired(rec.Expiry, clock.FromTime(nowFunc())) {
		return nil, 0, fmt.Errorf("storage: batch %q expired: %w", batchID, ErrNotFound)
	}
	return rec.Items, rec.CollectionID, nil
}

func (s *boltBatchStore) DeleteBatch(_ context.Context, fxaUID, batchID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).Delete(batchKey(fxaUID, batchID))
	})
}
