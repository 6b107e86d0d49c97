package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// fakeClock lets tests control wall-clock advancement precisely, so
// monotonic-bump behavior is deterministic instead of
// depending on how fast the test happens to run.
type fakeClock struct {
	mu  sync.Mutex
	now clock.SyncTimestamp
}

func (c *fakeClock) Now() clock.SyncTimestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ticks clock.SyncTimestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ticks
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	backend, err := storage.NewBoltBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	fc := &fakeClock{now: clock.SyncTimestamp(1_700_000_000 * 100)}
	eng, err := New(Config{Backend: backend, Clock: fc, Quota: quota.Unlimited})
	require.NoError(t, err)
	return eng, fc
}

func testPrincipal() types.Principal {
	return types.Principal{FxaUID: "test-user", FxaKID: "key-1"}
}
