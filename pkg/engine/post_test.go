package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

func TestPostBSOsAppliesAllItems(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	result, err := eng.PostBSOs(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "a", Payload: ptr("1")},
		{ID: "b", Payload: ptr("2")},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Success)
	assert.Empty(t, result.Failed)

	bso, err := eng.GetBSO(ctx, p, "bookmarks", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", bso.Payload)
}

func TestPostBSOsRecordsPerItemValidationFailureWithoutAbortingOthers(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	p := testPrincipal()

	result, err := eng.PostBSOs(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "", Payload: ptr("bad id")},
		{ID: "good", Payload: ptr("ok")},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"good"}, result.Success)
	assert.Equal(t, syncerr.Invalid.String(), result.Failed[""])
}

func TestPostBSOsQuotaExceededFailsRemainingItemsWithoutAdvancingModified(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.quota = quota.Policy{Limit: 100}
	ctx := context.Background()
	p := testPrincipal()

	_, err := eng.PutBSO(ctx, p, "bookmarks", types.BSOInput{ID: "seed", Payload: ptr(string(make([]byte, 90)))}, nil)
	require.NoError(t, err)
	before, err := eng.GetCollectionModified(ctx, p, "bookmarks")
	require.NoError(t, err)

	result, err := eng.PostBSOs(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "id", Payload: ptr(string(make([]byte, 20)))},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Success)
	assert.Equal(t, "quota", result.Failed["id"])
	assert.Equal(t, before, result.Modified, "modified must not advance when every item failed")
}

func TestPostBSOsFailsFastOnceQuotaExceededButKeepsEarlierSuccesses(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.quota = quota.Policy{Limit: 30}
	ctx := context.Background()
	p := testPrincipal()

	result, err := eng.PostBSOs(ctx, p, "bookmarks", []types.BSOInput{
		{ID: "fits", Payload: ptr(string(make([]byte, 20)))},
		{ID: "overflows", Payload: ptr(string(make([]byte, 20)))},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fits"}, result.Success)
	assert.Equal(t, "quota", result.Failed["overflows"])
}
