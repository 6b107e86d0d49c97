package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

func TestBatchCommitAppliesAllStagedItems(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", Payload: ptr("1")},
		{ID: "b", Payload: ptr("2")},
	})
	require.NoError(t, err)

	require.NoError(t, eng.AppendBatch(ctx, p, batchID, []types.BSOInput{
		{ID: "c", Payload: ptr("3")},
	}))

	result, err := eng.CommitBatch(ctx, p, batchID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Success)
	assert.Empty(t, result.Failed)

	for _, id := range []string{"a", "b", "c"} {
		_, err := eng.GetBSO(ctx, p, "bookmarks", id)
		assert.NoError(t, err)
	}
}

func TestBatchCommitAppliesMergeSemanticsPerItem(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("original"), SortIndex: i64(1)}, nil)
	require.NoError(t, err)

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", SortIndex: i64(42)},
	})
	require.NoError(t, err)

	_, err = eng.CommitBatch(ctx, p, batchID)
	require.NoError(t, err)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "a")
	require.NoError(t, err)
	assert.Equal(t, "original", bso.Payload, "batch merge must preserve untouched fields same as PutBSO")
	assert.Equal(t, int64(42), bso.SortIndex)
}

func TestCommitBatchTwiceFailsWithBatchNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", nil)
	require.NoError(t, err)

	_, err = eng.CommitBatch(ctx, p, batchID)
	require.NoError(t, err)

	_, err = eng.CommitBatch(ctx, p, batchID)
	assert.True(t, syncerr.Is(err, syncerr.BatchNotFound))
}

func TestAppendToUnknownBatchFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	err := eng.AppendBatch(ctx, p, "does-not-exist", []types.BSOInput{{ID: "a", Payload: ptr("x")}})
	assert.True(t, syncerr.Is(err, syncerr.BatchNotFound))
}

func TestBatchCommitLeavesModifiedUntouchedForTTLOnlyItemAgainstExistingRecord(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("original")}, nil)
	require.NoError(t, err)

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", TTL: i64(3600)},
	})
	require.NoError(t, err)

	_, err = eng.CommitBatch(ctx, p, batchID)
	require.NoError(t, err)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "a")
	require.NoError(t, err)
	assert.Equal(t, m1, bso.Modified, "a ttl-only staged item must not bump the bso's own modified timestamp")
	assert.Equal(t, "original", bso.Payload)
}

func TestCommitBatchFailsQuotaWithoutWritingAnyStagedItem(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.quota = quota.Policy{Limit: 10}
	ctx := context.Background()
	p := testPrincipal()

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", Payload: ptr("this payload is far too large for the quota")},
	})
	require.NoError(t, err)

	_, err = eng.CommitBatch(ctx, p, batchID)
	assert.True(t, syncerr.Is(err, syncerr.Quota))

	_, err = eng.GetBSO(ctx, p, "bookmarks", "a")
	assert.True(t, syncerr.Is(err, syncerr.BsoNotFound), "a quota-rejected commit must not leave the staged item written")
}

func TestAppendToExpiredBatchFailsWithBatchNotFound(t *testing.T) {
	eng, fc := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", nil)
	require.NoError(t, err)

	fc.Advance(clock.SyncTimestamp(3 * 60 * 60 * 100)) // past the 2 hour default batch ttl

	err = eng.AppendBatch(ctx, p, batchID, []types.BSOInput{{ID: "a", Payload: ptr("x")}})
	assert.True(t, syncerr.Is(err, syncerr.BatchNotFound))

	_, err = eng.CommitBatch(ctx, p, batchID)
	assert.True(t, syncerr.Is(err, syncerr.BatchNotFound))
}

func TestBatchCommitBumpsCollectionModifiedOnce(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	before, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "seed", Payload: ptr("x")}, nil)
	require.NoError(t, err)

	batchID, err := eng.BeginBatch(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", Payload: ptr("1")},
		{ID: "b", Payload: ptr("2")},
	})
	require.NoError(t, err)

	result, err := eng.CommitBatch(ctx, p, batchID)
	require.NoError(t, err)
	assert.Greater(t, int64(result.Modified), int64(before))

	after, err := eng.GetCollectionModified(ctx, p, "bookmarks")
	require.NoError(t, err)
	assert.Equal(t, result.Modified, after)
}
