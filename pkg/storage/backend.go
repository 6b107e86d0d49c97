package storage

import (
	"context"
	"errors"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/idmap"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// ErrNotFound is the sentinel every backend's Tx.GetBSO wraps its error
// with when the row genuinely doesn't exist (or has expired), so
// pkg/engine can tell a missing row apart from a real storage failure
// with errors.Is instead of matching on an error string.
var ErrNotFound = errors.New("storage: not found")

// TxMode tells a backend whether a transaction needs to take the
// (user, collection) write lock or can proceed with a consistent read.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

// CollectionMeta is the per-collection summary InfoCollections,
// InfoCollectionCounts, and InfoCollectionUsage are built from.
type CollectionMeta struct {
	Modified clock.SyncTimestamp
	Count    int64
	Bytes    int64
}

// Backend is the capability set every storage backend implements. It is
// deliberately the only interface the engine depends on: MySQL, Postgres,
// Spanner, and the embedded bbolt backend each satisfy it in whatever way
// is idiomatic for that store, and the engine never branches on which one
// it was given.
type Backend interface {
	idmap.Resolver

	// WithTx runs fn against the single BSO store for (fxaUID,
	// collectionID), holding whatever lock the backend uses to realize
	// the CollectionLocker contract for the duration of fn. A ReadWrite
	// mode must exclude concurrent writers to the same (user, collection)
	// pair; a ReadOnly mode may run concurrently with other readers.
	WithTx(ctx context.Context, fxaUID string, collectionID int64, mode TxMode, fn func(Tx) error) error

	// CollectionMeta reports the summary of every collection fxaUID has
	// written rows to.
	CollectionMeta(ctx context.Context, fxaUID string) (map[int64]CollectionMeta, error)

	// AccountUsage reports fxaUID's total storage consumption across all
	// collections, for quota enforcement.
	AccountUsage(ctx context.Context, fxaUID string) (quota.Usage, error)

	// DeleteAll removes every collection and BSO belonging to fxaUID.
	DeleteAll(ctx context.Context, fxaUID string) error

	// Batches exposes the batch-staging half of the backend, used by
	// pkg/engine's batch upload support.
	Batches() BatchStore

	Close() error
}

// Tx is the per-(user, collection) capability set a Backend hands to
// WithTx. Every method operates on the single collection WithTx was
// called with.
type Tx interface {
	// Modified returns the collection's current modified timestamp, and
	// false if the collection has never been written to.
	Modified() (clock.SyncTimestamp, bool, error)

	// SetModified persists a new modified timestamp for the collection.
	SetModified(clock.SyncTimestamp) error

	GetBSO(id string) (types.BSO, error)
	GetBSOs(q types.GetBSOsQuery) (types.GetBSOsResult, error)

	// PutBSO writes bso, inserting it if absent and overwriting the given
	// fields if present. Callers (pkg/engine) have already resolved
	// "absent means preserve" merge semantics before calling this: by the
	// time Tx sees it, bso is the complete record to persist.
	PutBSO(bso types.BSO) (created bool, err error)

	DeleteBSO(id string) (existed bool, err error)
	DeleteBSOs(ids []string) (deleted []string, err error)

	// DeleteCollection removes every BSO in the collection and the
	// collection's own modified row.
	DeleteCollection() error
}

// BatchStore is the staging area multi-request batch uploads accumulate
// rows into before BatchEngine commits them as one Tx.
type BatchStore interface {
	// CreateBatch opens a batch that expires at expiry; AppendBatch and
	// LoadBatch both treat a batch whose expiry has passed as if it did
	// not exist.
	CreateBatch(ctx context.Context, fxaUID string, collectionID int64, batchID string, expiry clock.SyncTimestamp) error
	AppendBatch(ctx context.Context, fxaUID, batchID string, items []types.BSOInput) error
	LoadBatch(ctx context.Context, fxaUID, batchID string) (items []types.BSOInput, collectionID int64, err error)
	DeleteBatch(ctx context.Context, fxaUID, batchID string) error
}
