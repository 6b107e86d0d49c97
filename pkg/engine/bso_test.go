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

func ptr(s string) *string { return &s }
func i64(n int64) *int64   { return &n }

func TestPutBSOCreatesRecord(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "item1", Payload: ptr("hello")}, nil)
	require.NoError(t, err)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "item1")
	require.NoError(t, err)
	assert.Equal(t, "hello", bso.Payload)
	assert.Equal(t, clock.Never, bso.Expiry)
}

func TestPutBSOModifiedStrictlyIncreasesEvenWithoutWallClockAdvance(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)
	m2, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "b", Payload: ptr("2")}, nil)
	require.NoError(t, err)

	assert.Greater(t, int64(m2), int64(m1), "modified must strictly increase across writes to the same collection")
}

func TestPutBSOPreservesUntouchedFields(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "item1", Payload: ptr("v1"), SortIndex: i64(5)}, nil)
	require.NoError(t, err)

	// Second PUT supplies only sortindex; payload must be preserved.
	_, err = eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "item1", SortIndex: i64(9)}, nil)
	require.NoError(t, err)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "item1")
	require.NoError(t, err)
	assert.Equal(t, "v1", bso.Payload, "payload must survive a sortindex-only PUT")
	assert.Equal(t, int64(9), bso.SortIndex)
}

func TestPutBSOTTLOnlyAgainstNewRecordCreatesEmptyPayload(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "fresh", TTL: i64(3600)}, nil)
	require.NoError(t, err)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "", bso.Payload)
	assert.NotEqual(t, clock.Never, bso.Expiry)
}

func TestPutBSORejectsInvalidID(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "", Payload: ptr("x")}, nil)
	assert.True(t, syncerr.Is(err, syncerr.Invalid))
}

func TestPutBSORejectsOversizedPayload(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	huge := make([]byte, eng.limits.MaxRecordPayloadBytes+1)
	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "big", Payload: ptr(string(huge))}, nil)
	assert.True(t, syncerr.Is(err, syncerr.TooLarge))
}

func TestPutBSOConditionalRequestConflict(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)

	staleModified := m1 - 1
	_, err = eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "b", Payload: ptr("2")}, &staleModified)
	assert.True(t, syncerr.Is(err, syncerr.Conflict))
}

func TestPutBSOConditionalRequestSucceedsWhenUpToDate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)

	_, err = eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "b", Payload: ptr("2")}, &m1)
	assert.NoError(t, err)
}

func TestGetBSOMissingReturnsNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.GetBSO(ctx, p, "bookmarks", "nope")
	assert.True(t, syncerr.Is(err, syncerr.BsoNotFound))
}

func TestGetBSOsOnNeverWrittenCollectionIsEmptyNotError(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	result, err := eng.GetBSOs(ctx, p, "bookmarks", types.GetBSOsQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, result.BSOs)
}

func TestDeleteBSONoOpReturnsNotFoundWithoutTouchingModified(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)

	_, err = eng.DeleteBSO(ctx, p, "bookmarks", "does-not-exist")
	assert.True(t, syncerr.Is(err, syncerr.BsoNotFound))

	m2, err := eng.GetCollectionModified(ctx, p, "bookmarks")
	require.NoError(t, err)
	assert.Equal(t, m1, m2, "a no-op delete must not bump the collection's modified timestamp")
}

func TestDeleteBSORemovesRowAndBumpsModified(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	m1, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)

	m2, err := eng.DeleteBSO(ctx, p, "bookmarks", "a")
	require.NoError(t, err)
	assert.Greater(t, int64(m2), int64(m1))

	_, err = eng.GetBSO(ctx, p, "bookmarks", "a")
	assert.True(t, syncerr.Is(err, syncerr.BsoNotFound))
}

func TestDeleteCollectionRemovesEverything(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)

	require.NoError(t, eng.DeleteCollection(ctx, p, "bookmarks"))

	_, err = eng.GetCollectionModified(ctx, p, "bookmarks")
	assert.True(t, syncerr.Is(err, syncerr.CollectionNotFound))
}

func TestDeleteAllClearsEveryCollection(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("1")}, nil)
	require.NoError(t, err)
	_, err = eng.PutBSO(ctx, p, "history", types.BSOInput{ID: "b", Payload: ptr("2")}, nil)
	require.NoError(t, err)

	require.NoError(t, eng.DeleteAll(ctx, p))

	collections, err := eng.InfoCollections(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, collections)
}

func TestQuotaExceededRejectsWrite(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.quota = quota.Policy{Limit: 10}
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "a", Payload: ptr("this payload is too large for the quota")}, nil)
	assert.True(t, syncerr.Is(err, syncerr.Quota))
}
