package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/pagination"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

var (
	bucketCollections = []byte("collections")
	bucketBSOs        = []byte("bsos")
	bucketIDMap       = []byte("idmap")
	bucketIDSeq       = []byte("idseq")
	bucketBatches     = []byte("batches")
)

// BoltBackend implements Backend on an embedded bbolt database: one file,
// no server, suitable for a single-process deployment or for tests.
type BoltBackend struct {
	db    *bolt.DB
	locks *KeyedMutex
}

// NewBoltBackend opens (creating if necessary) a bbolt database at
// filepath.Join(dataDir, "syncstorage.db") and ensures its buckets exist.
func NewBoltBackend(dataDir string) (*BoltBackend, error) {
	dbPath := filepath.Join(dataDir, "syncstorage.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCollections, bucketBSOs, bucketIDMap, bucketIDSeq, bucketBatches} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, locks: NewKeyedMutex()}, nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// --- idmap.Resolver -----------------------------------------------------

func idmapKey(fxaUID, name string) []byte {
	return []byte(fxaUID + "\x00" + name)
}

func (b *BoltBackend) Lookup(_ context.Context, fxaUID, name string) (int64, bool, error) {
	var id int64
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIDMap).Get(idmapKey(fxaUID, name))
		if data == nil {
			return nil
		}
		id = int64(binary.BigEndian.Uint64(data))
		ok = true
		return nil
	})
	return id, ok, err
}

func (b *BoltBackend) Allocate(_ context.Context, fxaUID, name string) (int64, error) {
	var id int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		idmapBucket := tx.Bucket(bucketIDMap)
		key := idmapKey(fxaUID, name)

		// another call may have already allocated this name.
		if data := idmapBucket.Get(key); data != nil {
			id = int64(binary.BigEndian.Uint64(data))
			return nil
		}

		seqBucket := tx.Bucket(bucketIDSeq)
		next := int64(types.FirstUserDefinedCollectionID)
		if data := seqBucket.Get([]byte(fxaUID)); data != nil {
			next = int64(binary.BigEndian.Uint64(data))
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		if err := idmapBucket.Put(key, buf); err != nil {
			return err
		}

		binary.BigEndian.PutUint64(buf, uint64(next+1))
		if err := seqBucket.Put([]byte(fxaUID), buf); err != nil {
			return err
		}

		id = next
		return nil
	})
	return id, err
}

func (b *BoltBackend) Names(_ context.Context, fxaUID string) (map[string]int64, error) {
	out := make(map[string]int64)
	prefix := []byte(fxaUID + "\x00")
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketIDMap).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			name := strings.TrimPrefix(string(k), string(prefix))
			out[name] = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return out, err
}

// --- collection metadata / BSO rows -------------------------------------

func collectionMetaKey(fxaUID string, collectionID int64) []byte {
	return []byte(fxaUID + "\x00" + padCollectionID(collectionID))
}

func bsoKeyPrefix(fxaUID string, collectionID int64) string {
	return fxaUID + "\x00" + padCollectionID(collectionID) + "\x00"
}

func bsoKey(fxaUID string, collectionID int64, bsoID string) []byte {
	return []byte(bsoKeyPrefix(fxaUID, collectionID) + bsoID)
}

// WithTx runs fn against the BSO store for (fxaUID, collectionID). The
// KeyedMutex serializes same-collection callers within this process; bbolt
// itself additionally serializes every db.Update against every other
// db.Update across the whole database, so a ReadWrite call here also
// briefly blocks writes to unrelated collections at the storage-engine
// level, same as it would with a single bbolt file in production use.
func (b *BoltBackend) WithTx(_ context.Context, fxaUID string, collectionID int64, mode TxMode, fn func(Tx) error) error {
	key := collectionKey(fxaUID, collectionID)
	return b.locks.withLock(key, mode, func() error {
		if mode == ReadOnly {
			return b.db.View(func(tx *bolt.Tx) error {
				return fn(&boltTx{tx: tx, fxaUID: fxaUID, collectionID: collectionID})
			})
		}
		return b.db.Update(func(tx *bolt.Tx) error {
			return fn(&boltTx{tx: tx, fxaUID: fxaUID, collectionID: collectionID})
		})
	})
}

type boltTx struct {
	tx           *bolt.Tx
	fxaUID       string
	collectionID int64
}

func (t *boltTx) Modified() (clock.SyncTimestamp, bool, error) {
	data := t.tx.Bucket(bucketCollections).Get(collectionMetaKey(t.fxaUID, t.collectionID))
	if data == nil {
		return 0, false, nil
	}
	return clock.SyncTimestamp(int64(binary.BigEndian.Uint64(data))), true, nil
}

func (t *boltTx) SetModified(ts clock.SyncTimestamp) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return t.tx.Bucket(bucketCollections).Put(collectionMetaKey(t.fxaUID, t.collectionID), buf)
}

func (t *boltTx) GetBSO(id string) (types.BSO, error) {
	data := t.tx.Bucket(bucketBSOs).Get(bsoKey(t.fxaUID, t.collectionID, id))
	if data == nil {
		return types.BSO{}, fmt.Errorf("bso %q: %w", id, ErrNotFound)
	}
	var bso types.BSO
	if err := json.Unmarshal(data, &bso); err != nil {
		return types.BSO{}, fmt.Errorf("storage: decode bso %q: %w", id, err)
	}
	now := clock.FromTime(nowFunc())
	if clock.IsExpired(bso.Expiry, now) {
		return types.BSO{}, fmt.Errorf("bso %q: %w", id, ErrNotFound)
	}
	return bso, nil
}

func (t *boltTx) PutBSO(bso types.BSO) (bool, error) {
	bucket := t.tx.Bucket(bucketBSOs)
	key := bsoKey(t.fxaUID, t.collectionID, bso.ID)
	created := bucket.Get(key) == nil

	data, err := json.Marshal(bso)
	if err != nil {
		return false, fmt.Errorf("storage: encode bso %q: %w", bso.ID, err)
	}
	if err := bucket.Put(key, data); err != nil {
		return false, err
	}
	return created, nil
}

func (t *boltTx) DeleteBSO(id string) (bool, error) {
	bucket := t.tx.Bucket(bucketBSOs)
	key := bsoKey(t.fxaUID, t.collectionID, id)
	existed := bucket.Get(key) != nil
	if !existed {
		return false, nil
	}
	return true, bucket.Delete(key)
}

func (t *boltTx) DeleteBSOs(ids []string) ([]string, error) {
	var deleted []string
	for _, id := range ids {
		existed, err := t.DeleteBSO(id)
		if err != nil {
			return deleted, err
		}
		if existed {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (t *boltTx) DeleteCollection() error {
	bucket := t.tx.Bucket(bucketBSOs)
	prefix := []byte(bsoKeyPrefix(t.fxaUID, t.collectionID))
	c := bucket.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return t.tx.Bucket(bucketCollections).Delete(collectionMetaKey(t.fxaUID, t.collectionID))
}

func (t *boltTx) GetBSOs(q types.GetBSOsQuery) (types.GetBSOsResult, error) {
	now := clock.FromTime(nowFunc())
	bucket := t.tx.Bucket(bucketBSOs)
	prefix := []byte(bsoKeyPrefix(t.fxaUID, t.collectionID))

	wantIDs := make(map[string]bool, len(q.IDs))
	for _, id := range q.IDs {
		wantIDs[id] = true
	}

	var all []types.BSO
	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var bso types.BSO
		if err := json.Unmarshal(v, &bso); err != nil {
			return types.GetBSOsResult{}, fmt.Errorf("storage: decode bso: %w", err)
		}
		if clock.IsExpired(bso.Expiry, now) {
			continue
		}
		if len(wantIDs) > 0 && !wantIDs[bso.ID] {
			continue
		}
		if q.Newer != nil && !(bso.Modified > *q.Newer) {
			continue
		}
		if q.Older != nil && !(bso.Modified < *q.Older) {
			continue
		}
		all = append(all, bso)
	}

	sortBSOs(all, q.Sort)

	offset, err := pagination.Decode(q.Offset)
	if err != nil {
		return types.GetBSOsResult{}, err
	}

	limit := q.Limit
	if limit <= 0 || limit > types.MaxGetBSOsLimit {
		limit = types.MaxGetBSOsLimit
	}

	var page []types.BSO
	if offset < int64(len(all)) {
		end := offset + limit
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		page = all[offset:end]
	}

	result := types.GetBSOsResult{BSOs: page}
	if offset+limit < int64(len(all)) {
		next := pagination.Encode(offset + limit)
		result.Offset = &next
	}
	return result, nil
}

func sortBSOs(bsos []types.BSO, order types.SortOrder) {
	switch order {
	case types.SortNewest:
		sort.SliceStable(bsos, func(i, j int) bool { return bsos[i].Modified > bsos[j].Modified })
	case types.SortOldest:
		sort.SliceStable(bsos, func(i, j int) bool { return bsos[i].Modified < bsos[j].Modified })
	case types.SortIndexDesc:
		sort.SliceStable(bsos, func(i, j int) bool { return bsos[i].SortIndex > bsos[j].SortIndex })
	}
}

// --- account-wide operations ---------------------------------------------

func (b *BoltBackend) CollectionMeta(_ context.Context, fxaUID string) (map[int64]CollectionMeta, error) {
	out := make(map[int64]CollectionMeta)
	prefix := []byte(fxaUID + "\x00")
	now := clock.FromTime(nowFunc())

	err := b.db.View(func(tx *bolt.Tx) error {
		mc := tx.Bucket(bucketCollections).Cursor()
		for k, v := mc.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = mc.Next() {
			idStr := strings.TrimPrefix(string(k), string(prefix))
			var id int64
			if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
				continue
			}
			out[id] = CollectionMeta{Modified: clock.SyncTimestamp(int64(binary.BigEndian.Uint64(v)))}
		}

		bc := tx.Bucket(bucketBSOs).Cursor()
		for k, v := bc.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = bc.Next() {
			rest := strings.TrimPrefix(string(k), string(prefix))
			parts := strings.SplitN(rest, "\x00", 2)
			if len(parts) != 2 {
				continue
			}
			var id int64
			if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
				continue
			}
			var bso types.BSO
			if err := json.Unmarshal(v, &bso); err != nil {
				continue
			}
			if clock.IsExpired(bso.Expiry, now) {
				continue
			}
			meta := out[id]
			meta.Count++
			meta.Bytes += int64(len(bso.Payload))
			out[id] = meta
		}
		return nil
	})
	return out, err
}

func (b *BoltBackend) AccountUsage(ctx context.Context, fxaUID string) (quota.Usage, error) {
	meta, err := b.CollectionMeta(ctx, fxaUID)
	if err != nil {
		return quota.Usage{}, err
	}
	var total int64
	for _, m := range meta {
		total += m.Bytes
	}
	return quota.Usage{TotalBytes: total}, nil
}

func (b *BoltBackend) DeleteAll(_ context.Context, fxaUID string) error {
	prefix := []byte(fxaUID + "\x00")
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCollections, bucketBSOs, bucketIDMap, bucketBatches} {
			bucket := tx.Bucket(name)
			c := bucket.Cursor()
			var keys [][]byte
			for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := bucket.Delete(k); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketIDSeq).Delete([]byte(fxaUID))
	})
}

func (b *BoltBackend) Batches() BatchStore {
	return (*boltBatchStore)(b)
}
