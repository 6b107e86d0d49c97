package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/pagination"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// SpannerBackend implements Backend against Cloud Spanner. Unlike the SQL
// backends it does not go through database/sql: Spanner's native mutation
// and ReadWriteTransaction API has no useful database/sql driver, so this
// talks to cloud.google.com/go/spanner directly. The schema (tables
// Collections, CollectionNames, CollectionSeq, Bsos, Batches, BatchItems,
// mirroring the SQL backends' tables) is expected to already exist,
// applied through Spanner's own DDL migration tooling rather than at
// startup the way the embedded and SQL backends do it.
type SpannerBackend struct {
	client *spanner.Client
	locks  *KeyedMutex
}

// NewSpannerBackend opens a SpannerBackend against database, a fully
// qualified Spanner database path
// ("projects/P/instances/I/databases/D").
func NewSpannerBackend(ctx context.Context, database string) (*SpannerBackend, error) {
	client, err := spanner.NewClient(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("storage: open spanner database: %w", err)
	}
	return &SpannerBackend{client: client, locks: NewKeyedMutex()}, nil
}

func (b *SpannerBackend) Close() error {
	b.client.Close()
	return nil
}

// --- idmap.Resolver -----------------------------------------------------

func (b *SpannerBackend) Lookup(ctx context.Context, fxaUID, name string) (int64, bool, error) {
	row, err := b.client.Single().ReadRow(ctx, "CollectionNames", spanner.Key{fxaUID, name}, []string{"CollectionID"})
	if spanner.ErrCode(err) == codes.NotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id int64
	if err := row.Column(0, &id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (b *SpannerBackend) Allocate(ctx context.Context, fxaUID, name string) (int64, error) {
	var id int64
	_, err := b.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
		row, err := tx.ReadRow(ctx, "CollectionNames", spanner.Key{fxaUID, name}, []string{"CollectionID"})
		if err == nil {
			return row.Column(0, &id)
		}
		if spanner.ErrCode(err) != codes.NotFound {
			return err
		}

		next := int64(types.FirstUserDefinedCollectionID)
		seqRow, err := tx.ReadRow(ctx, "CollectionSeq", spanner.Key{fxaUID}, []string{"NextID"})
		if err == nil {
			if err := seqRow.Column(0, &next); err != nil {
				return err
			}
		} else if spanner.ErrCode(err) != codes.NotFound {
			return err
		}

		id = next
		return tx.BufferWrite([]*spanner.Mutation{
			spanner.InsertOrUpdate("CollectionSeq", []string{"FxaUID", "NextID"}, []interface{}{fxaUID, next + 1}),
			spanner.InsertOrUpdate("CollectionNames", []string{"FxaUID", "Name", "CollectionID"}, []interface{}{fxaUID, name, id}),
		})
	})
	return id, err
}

func (b *SpannerBackend) Names(ctx context.Context, fxaUID string) (map[string]int64, error) {
	out := make(map[string]int64)
	iter := b.client.Single().Query(ctx, spanner.Statement{
		SQL:    `SELECT Name, CollectionID FROM CollectionNames WHERE FxaUID = @fxaUID`,
		Params: map[string]interface{}{"fxaUID": fxaUID},
	})
	defer iter.Stop()
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var name string
		var id int64
		if err := row.Columns(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, nil
}

// --- per-collection transaction ------------------------------------------

func (b *SpannerBackend) WithTx(ctx context.Context, fxaUID string, collectionID int64, mode TxMode, fn func(Tx) error) error {
	key := collectionKey(fxaUID, collectionID)
	return b.locks.withLock(key, mode, func() error {
		if mode == ReadOnly {
			roTx := b.client.Single()
			defer roTx.Close()
			return fn(&spannerTx{ctx: ctx, read: roTx, fxaUID: fxaUID, collectionID: collectionID})
		}

		_, err := b.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
			return fn(&spannerTx{ctx: ctx, read: tx, write: tx, fxaUID: fxaUID, collectionID: collectionID})
		})
		return err
	})
}

// spannerTx implements Tx. read is either a *spanner.ReadOnlyTransaction or
// a *spanner.ReadWriteTransaction (both satisfy the reader methods used
// here); write is non-nil only in ReadWrite mode.
type spannerTx struct {
	ctx          context.Context
	read         interface {
		ReadRow(ctx context.Context, table string, key spanner.Key, columns []string) (*spanner.Row, error)
		Query(ctx context.Context, stmt spanner.Statement) *spanner.RowIterator
	}
	write        *spanner.ReadWriteTransaction
	fxaUID       string
	collectionID int64
}

func (t *spannerTx) requireWrite() error {
	if t.write == nil {
		return fmt.Errorf("storage: write attempted on a read-only spanner transaction")
	}
	return nil
}

func (t *spannerTx) Modified() (clock.SyncTimestamp, bool, error) {
	row, err := t.read.ReadRow(t.ctx, "Collections", spanner.Key{t.fxaUID, t.collectionID}, []string{"Modified"})
	if spanner.ErrCode(err) == codes.NotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var modified int64
	if err := row.Column(0, &modified); err != nil {
		return 0, false, err
	}
	return clock.SyncTimestamp(modified), true, nil
}

func (t *spannerTx) SetModified(ts clock.SyncTimestamp) error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	return t.write.BufferWrite([]*spanner.Mutation{
		spanner.InsertOrUpdate("Collections", []string{"FxaUID", "CollectionID", "Modified"},
			[]interface{}{t.fxaUID, t.collectionID, int64(ts)}),
	})
}

func (t *spannerTx) GetBSO(id string) (types.BSO, error) {
	row, err := t.read.ReadRow(t.ctx, "Bsos", spanner.Key{t.fxaUID, t.collectionID, id},
		[]string{"SortIndex", "Payload", "Modified", "Expiry"})
	if spanner.ErrCode(err) == codes.NotFound {
		return types.BSO{}, fmt.Errorf("bso %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.BSO{}, err
	}
	var bso types.BSO
	var modified, expiry int64
	if err := row.Columns(&bso.SortIndex, &bso.Payload, &modified, &expiry); err != nil {
		return types.BSO{}, err
	}
	bso.ID = id
	bso.Modified = clock.SyncTimestamp(modified)
	bso.Expiry = clock.SyncTimestamp(expiry)
	now := clock.FromTime(nowFunc())
	if clock.IsExpired(bso.Expiry, now) {
		return types.BSO{}, fmt.Errorf("bso %q: %w", id, ErrNotFound)
	}
	return bso, nil
}

func (t *spannerTx) PutBSO(bso types.BSO) (bool, error) {
	if err := t.requireWrite(); err != nil {
		return false, err
	}
	_, err := t.read.ReadRow(t.ctx, "Bsos", spanner.Key{t.fxaUID, t.collectionID, bso.ID}, []string{"BsoID"})
	created := spanner.ErrCode(err) == codes.NotFound
	if err != nil && !created {
		return false, err
	}

	writeErr := t.write.BufferWrite([]*spanner.Mutation{
		spanner.InsertOrUpdate("Bsos",
			[]string{"FxaUID", "CollectionID", "BsoID", "SortIndex", "Payload", "Modified", "Expiry"},
			[]interface{}{t.fxaUID, t.collectionID, bso.ID, bso.SortIndex, bso.Payload, int64(bso.Modified), int64(bso.Expiry)}),
	})
	return created, writeErr
}

func (t *spannerTx) DeleteBSO(id string) (bool, error) {
	if err := t.requireWrite(); err != nil {
		return false, err
	}
	_, err := t.read.ReadRow(t.ctx, "Bsos", spanner.Key{t.fxaUID, t.collectionID, id}, []string{"BsoID"})
	if spanner.ErrCode(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := t.write.BufferWrite([]*spanner.Mutation{
		spanner.Delete("Bsos", spanner.Key{t.fxaUID, t.collectionID, id}),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (t *spannerTx) DeleteBSOs(ids []string) ([]string, error) {
	var deleted []string
	for _, id := range ids {
		ok, err := t.DeleteBSO(id)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (t *spannerTx) DeleteCollection() error {
	if err := t.requireWrite(); err != nil {
		return err
	}
	rowRange := spanner.KeyRange{
		Start: spanner.Key{t.fxaUID, t.collectionID},
		End:   spanner.Key{t.fxaUID, t.collectionID},
		Kind:  spanner.ClosedClosed,
	}
	return t.write.BufferWrite([]*spanner.Mutation{
		spanner.Delete("Bsos", rowRange),
		spanner.Delete("Collections", spanner.Key{t.fxaUID, t.collectionID}),
	})
}

func (t *spannerTx) GetBSOs(q types.GetBSOsQuery) (types.GetBSOsResult, error) {
	now := clock.FromTime(nowFunc())
	sql := `SELECT BsoID, SortIndex, Payload, Modified, Expiry FROM Bsos
		WHERE FxaUID = @fxaUID AND CollectionID = @collectionID AND Expiry > @now`
	params := map[string]interface{}{
		"fxaUID": t.fxaUID, "collectionID": t.collectionID, "now": int64(now),
	}

	if len(q.IDs) > 0 {
		ids := q.IDs
		if len(ids) > 100 {
			ids = ids[:100]
		}
		sql += ` AND BsoID IN UNNEST(@ids)`
		params["ids"] = ids
	}
	if q.Newer != nil {
		sql += ` AND Modified > @newer`
		params["newer"] = int64(*q.Newer)
	}
	if q.Older != nil {
		sql += ` AND Modified < @older`
		params["older"] = int64(*q.Older)
	}
	switch q.Sort {
	case types.SortNewest:
		sql += ` ORDER BY Modified DESC`
	case types.SortOldest:
		sql += ` ORDER BY Modified ASC`
	case types.SortIndexDesc:
		sql += ` ORDER BY SortIndex DESC`
	}

	iter := t.read.Query(t.ctx, spanner.Statement{SQL: sql, Params: params})
	defer iter.Stop()

	var all []types.BSO
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return types.GetBSOsResult{}, err
		}
		var bso types.BSO
		var modified, expiry int64
		if err := row.Columns(&bso.ID, &bso.SortIndex, &bso.Payload, &modified, &expiry); err != nil {
			return types.GetBSOsResult{}, err
		}
		bso.Modified = clock.SyncTimestamp(modified)
		bso.Expiry = clock.SyncTimestamp(expiry)
		all = append(all, bso)
	}

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

// --- account-wide operations ---------------------------------------------

func (b *SpannerBackend) CollectionMeta(ctx context.Context, fxaUID string) (map[int64]CollectionMeta, error) {
	out := make(map[int64]CollectionMeta)

	iter := b.client.Single().Query(ctx, spanner.Statement{
		SQL:    `SELECT CollectionID, Modified FROM Collections WHERE FxaUID = @fxaUID`,
		Params: map[string]interface{}{"fxaUID": fxaUID},
	})
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			iter.Stop()
			return nil, err
		}
		var id, modified int64
		if err := row.Columns(&id, &modified); err != nil {
			iter.Stop()
			return nil, err
		}
		out[id] = CollectionMeta{Modified: clock.SyncTimestamp(modified)}
	}
	iter.Stop()

	now := clock.FromTime(nowFunc())
	iter = b.client.Single().Query(ctx, spanner.Statement{
		SQL: `SELECT CollectionID, COUNT(1), COALESCE(SUM(LENGTH(Payload)), 0) FROM Bsos
			WHERE FxaUID = @fxaUID AND Expiry > @now GROUP BY CollectionID`,
		Params: map[string]interface{}{"fxaUID": fxaUID, "now": int64(now)},
	})
	defer iter.Stop()
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var id, count, bytes int64
		if err := row.Columns(&id, &count, &bytes); err != nil {
			return nil, err
		}
		meta := out[id]
		meta.Count = count
		meta.Bytes = bytes
		out[id] = meta
	}
	return out, nil
}

func (b *SpannerBackend) AccountUsage(ctx context.Context, fxaUID string) (quota.Usage, error) {
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

func (b *SpannerBackend) DeleteAll(ctx context.Context, fxaUID string) error {
	_, err := b.client.ReadWriteTransaction(ctx, func(ctx context.Context, tx *spanner.ReadWriteTransaction) error {
		rowRange := spanner.KeyRange{
			Start: spanner.Key{fxaUID},
			End:   spanner.Key{fxaUID},
			Kind:  spanner.ClosedClosed,
		}
		return tx.BufferWrite([]*spanner.Mutation{
			spanner.Delete("Bsos", rowRange),
			spanner.Delete("Collections", rowRange),
			spanner.Delete("CollectionNames", rowRange),
			spanner.Delete("CollectionSeq", rowRange),
			spanner.Delete("BatchItems", rowRange),
			spanner.Delete("Batches", rowRange),
		})
	})
	return err
}

func (b *SpannerBackend) Batches() BatchStore {
	return &spannerBatchStore{client: b.client}
}
