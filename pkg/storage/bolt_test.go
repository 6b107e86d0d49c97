package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

func newTestBackend(t *testing.T) *BoltBackend {
	t.Helper()
	b, err := NewBoltBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestAllocateAndLookupIDMap(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id, err := b.Allocate(ctx, "user1", "widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(types.FirstUserDefinedCollectionID), id)

	got, ok, err := b.Lookup(ctx, "user1", "widgets")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	id2, err := b.Allocate(ctx, "user1", "gadgets")
	require.NoError(t, err)
	assert.Equal(t, id+1, id2)
}

func TestAllocateIsIdempotentForSameName(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id1, err := b.Allocate(ctx, "user1", "widgets")
	require.NoError(t, err)
	id2, err := b.Allocate(ctx, "user1", "widgets")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestWithTxPutAndGetBSO(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		_, err := tx.PutBSO(types.BSO{ID: "abc", Payload: "hello", Expiry: clock.Never})
		return err
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		bso, err := tx.GetBSO("abc")
		require.NoError(t, err)
		assert.Equal(t, "hello", bso.Payload)
		return nil
	})
	require.NoError(t, err)
}

func TestPutBSOReportsCreatedVsUpdated(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	var created bool
	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		var err error
		created, err = tx.PutBSO(types.BSO{ID: "abc", Payload: "v1", Expiry: clock.Never})
		return err
	})
	require.NoError(t, err)
	assert.True(t, created)

	err = b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		var err error
		created, err = tx.PutBSO(types.BSO{ID: "abc", Payload: "v2", Expiry: clock.Never})
		return err
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGetBSOsFiltersExpiredRows(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := clock.FromTime(time.Now())

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		if _, err := tx.PutBSO(types.BSO{ID: "live", Payload: "x", Modified: now, Expiry: clock.Never}); err != nil {
			return err
		}
		_, err := tx.PutBSO(types.BSO{ID: "dead", Payload: "x", Modified: now, Expiry: now - 100})
		return err
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		result, err := tx.GetBSOs(types.GetBSOsQuery{Limit: 100})
		require.NoError(t, err)
		require.Len(t, result.BSOs, 1)
		assert.Equal(t, "live", result.BSOs[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestGetBSOOnExpiredRowReturnsErrNotFound(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := clock.FromTime(time.Now())

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		_, err := tx.PutBSO(types.BSO{ID: "dead", Payload: "x", Modified: now, Expiry: now - 100})
		return err
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		_, err := tx.GetBSO("dead")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestGetBSOOnMissingIDReturnsErrNotFound(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		_, err := tx.GetBSO("nope")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestGetBSOsPaginates(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := clock.FromTime(time.Now())

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		for i := 0; i < 5; i++ {
			id := string(rune('a' + i))
			if _, err := tx.PutBSO(types.BSO{ID: id, Payload: "x", Modified: now + clock.SyncTimestamp(i), Expiry: clock.Never}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		page1, err := tx.GetBSOs(types.GetBSOsQuery{Limit: 2, Sort: types.SortOldest})
		require.NoError(t, err)
		require.Len(t, page1.BSOs, 2)
		require.NotNil(t, page1.Offset)

		page2, err := tx.GetBSOs(types.GetBSOsQuery{Limit: 2, Sort: types.SortOldest, Offset: page1.Offset})
		require.NoError(t, err)
		require.Len(t, page2.BSOs, 2)
		assert.NotEqual(t, page1.BSOs[0].ID, page2.BSOs[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteBSORemovesRow(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		_, err := tx.PutBSO(types.BSO{ID: "abc", Payload: "v1", Expiry: clock.Never})
		return err
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		existed, err := tx.DeleteBSO("abc")
		require.NoError(t, err)
		assert.True(t, existed)
		existed, err = tx.DeleteBSO("abc")
		require.NoError(t, err)
		assert.False(t, existed)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteCollectionRemovesAllRowsAndMeta(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		if _, err := tx.PutBSO(types.BSO{ID: "a", Expiry: clock.Never}); err != nil {
			return err
		}
		if _, err := tx.PutBSO(types.BSO{ID: "b", Expiry: clock.Never}); err != nil {
			return err
		}
		return tx.SetModified(clock.SyncTimestamp(123))
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		return tx.DeleteCollection()
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 7, ReadOnly, func(tx Tx) error {
		_, ok, err := tx.Modified()
		require.NoError(t, err)
		assert.False(t, ok)
		result, err := tx.GetBSOs(types.GetBSOsQuery{Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, result.BSOs)
		return nil
	})
	require.NoError(t, err)
}

func TestCollectionMetaAggregatesAcrossCollections(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		if _, err := tx.PutBSO(types.BSO{ID: "a", Payload: "12345", Expiry: clock.Never}); err != nil {
			return err
		}
		return tx.SetModified(clock.SyncTimestamp(100))
	})
	require.NoError(t, err)

	err = b.WithTx(ctx, "user1", 1, ReadWrite, func(tx Tx) error {
		if _, err := tx.PutBSO(types.BSO{ID: "b", Payload: "ab", Expiry: clock.Never}); err != nil {
			return err
		}
		return tx.SetModified(clock.SyncTimestamp(50))
	})
	require.NoError(t, err)

	meta, err := b.CollectionMeta(ctx, "user1")
	require.NoError(t, err)
	require.Contains(t, meta, int64(7))
	require.Contains(t, meta, int64(1))
	assert.Equal(t, int64(1), meta[7].Count)
	assert.Equal(t, int64(5), meta[7].Bytes)
	assert.Equal(t, int64(2), meta[1].Bytes)
}

func TestDeleteAllRemovesEveryCollectionForUser(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.WithTx(ctx, "user1", 7, ReadWrite, func(tx Tx) error {
		_, err := tx.PutBSO(types.BSO{ID: "a", Expiry: clock.Never})
		return err
	}))
	require.NoError(t, b.WithTx(ctx, "user2", 7, ReadWrite, func(tx Tx) error {
		_, err := tx.PutBSO(types.BSO{ID: "z", Expiry: clock.Never})
		return err
	}))

	require.NoError(t, b.DeleteAll(ctx, "user1"))

	meta, err := b.CollectionMeta(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, meta)

	meta2, err := b.CollectionMeta(ctx, "user2")
	require.NoError(t, err)
	assert.NotEmpty(t, meta2, "deleting user1 must not affect user2's rows")
}

func TestBatchLifecycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	batches := b.Batches()

	require.NoError(t, batches.CreateBatch(ctx, "user1", 7, "batch-1", clock.FromTime(time.Now().Add(time.Hour))))

	payload := "hello"
	require.NoError(t, batches.AppendBatch(ctx, "user1", "batch-1", []types.BSOInput{
		{ID: "a", Payload: &payload},
	}))

	items, collectionID, err := batches.LoadBatch(ctx, "user1", "batch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), collectionID)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)

	require.NoError(t, batches.DeleteBatch(ctx, "user1", "batch-1"))
	_, _, err = batches.LoadBatch(ctx, "user1", "batch-1")
	assert.Error(t, err)
}

func TestExpiredBatchIsNotFound(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	batches := b.Batches()

	require.NoError(t, batches.CreateBatch(ctx, "user1", 7, "batch-1", clock.FromTime(time.Now().Add(-time.Minute))))

	_, _, err := batches.LoadBatch(ctx, "user1", "batch-1")
	assert.ErrorIs(t, err, ErrNotFound)

	payload := "hello"
	err = batches.AppendBatch(ctx, "user1", "batch-1", []types.BSOInput{{ID: "a", Payload: &payload}})
	assert.ErrorIs(t, err, ErrNotFound)
}
