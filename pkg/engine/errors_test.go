package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// brokenTx wraps a real storage.Tx but makes GetBSO fail with something
// other than storage.ErrNotFound, simulating a genuine backend failure
// (a decode error, a dropped connection) rather than a missing row.
type brokenTx struct {
	storage.Tx
	failWith error
}

func (t *brokenTx) GetBSO(id string) (types.BSO, error) {
	return types.BSO{}, t.failWith
}

// brokenBackend wraps a BoltBackend and injects brokenTx into every
// WithTx call.
type brokenBackend struct {
	*storage.BoltBackend
	failWith error
}

func (b *brokenBackend) WithTx(ctx context.Context, fxaUID string, collectionID int64, mode storage.TxMode, fn func(storage.Tx) error) error {
	return b.BoltBackend.WithTx(ctx, fxaUID, collectionID, mode, func(tx storage.Tx) error {
		return fn(&brokenTx{Tx: tx, failWith: b.failWith})
	})
}

func TestGetBSODistinguishesRealErrorsFromNotFound(t *testing.T) {
	bolt, err := storage.NewBoltBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	dbDown := errors.New("connection reset by peer")
	eng, err := New(Config{Backend: &brokenBackend{BoltBackend: bolt, failWith: dbDown}, Quota: quota.Unlimited})
	require.NoError(t, err)

	_, err = eng.GetBSO(context.Background(), testPrincipal(), "bookmarks", "a")
	require.Error(t, err)
	assert.False(t, syncerr.Is(err, syncerr.BsoNotFound), "a real backend failure must not be reported as BsoNotFound")
	assert.ErrorIs(t, err, dbDown)
}
