package types

import (
	"github.com/mozilla-services/syncstorage-go/pkg/clock"
)

// Principal identifies the account a request is scoped to. FxaKID is the
// key ID of the encryption key the client is currently using; it is opaque
// to storage and carried only for the engine's bookkeeping.
type Principal struct {
	FxaUID string
	FxaKID string
}

// WellKnownCollections maps the fixed collection names every client
// understands to their pre-registered IDs. Anything not in this table is a
// user-defined collection, allocated starting at 100 by the IdMap.
var WellKnownCollections = map[string]int64{
	"clients":     1,
	"crypto":      2,
	"forms":       3,
	"history":     4,
	"keys":        5,
	"meta":        6,
	"bookmarks":   7,
	"prefs":       8,
	"tabs":        9,
	"passwords":   10,
	"addons":      11,
	"addresses":   12,
	"creditcards": 13,
}

// FirstUserDefinedCollectionID is the lowest ID the IdMap will allocate to
// a collection name outside WellKnownCollections.
const FirstUserDefinedCollectionID = 100

// BSO is a stored basic storage object, keyed by (user, collection, id).
type BSO struct {
	ID        string
	Modified  clock.SyncTimestamp
	Payload   string
	SortIndex int64
	Expiry    clock.SyncTimestamp
}

// BSOInput is the mutable subset of a BSO's fields on a PUT or POST. Fields
// are pointers so a nil field means "leave this unchanged" rather than
// "clear it": a PUT that supplies only a sortindex must not
// clobber an existing payload.
type BSOInput struct {
	ID        string
	Payload   *string
	SortIndex *int64
	TTL       *int64
}

// UserCollectionState is the per-(user, collection) bookkeeping row: its
// last-modified timestamp.
type UserCollectionState struct {
	CollectionID int64
	Modified     clock.SyncTimestamp
}

// SortOrder controls the ordering of a GetBSOs listing.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortNewest
	SortOldest
	SortIndexDesc
)

// MaxGetBSOsLimit is the absolute maximum number of rows a single GetBSOs
// call can return, regardless of the caller-supplied limit.
const MaxGetBSOsLimit = 1000

// GetBSOsQuery carries the parameters of a collection listing.
type GetBSOsQuery struct {
	IDs           []string
	Newer         *clock.SyncTimestamp
	Older         *clock.SyncTimestamp
	Sort          SortOrder
	Limit         int64
	Offset        *Offset
	FullBSO       bool
}

// GetBSOsResult is the paginated result of a collection listing.
type GetBSOsResult struct {
	BSOs   []BSO
	Offset *Offset
}

// Offset is an opaque, backend-chosen pagination cursor. Callers must treat
// it as an opaque token: encode/decode it with pkg/pagination rather than
// constructing one directly.
type Offset struct {
	Value string
}

// PostResult is the per-batch outcome of a POST or a batch commit: which
// BSO ids were written successfully, which failed and why, and the
// collection's new modified timestamp.
type PostResult struct {
	Modified clock.SyncTimestamp
	Success  []string
	Failed   map[string]string
}

// NewPostResult returns an empty PostResult stamped with modified.
func NewPostResult(modified clock.SyncTimestamp) *PostResult {
	return &PostResult{
		Modified: modified,
		Success:  make([]string, 0),
		Failed:   make(map[string]string),
	}
}

// AddSuccess records a successfully written BSO id.
func (p *PostResult) AddSuccess(id string) {
	p.Success = append(p.Success, id)
}

// AddFailure records a rejected BSO id together with the reason it failed.
func (p *PostResult) AddFailure(id, reason string) {
	p.Failed[id] = reason
}

// Batch is an in-progress multi-request upload: a set of staged BSOInputs
// accumulated across AppendBatch calls, committed atomically by CommitBatch.
type Batch struct {
	ID           string
	CollectionID int64
	Committed    bool
}

// BatchItem is a single staged row within a Batch, recorded in the order it
// was appended so CommitBatch can apply them as one ordered transaction.
type BatchItem struct {
	BatchID string
	BSOInput
}

// ConfigLimits reports the server-side limits a client should respect,
// returned from /info/configuration.
type ConfigLimits struct {
	MaxPostRecords        int64
	MaxPostBytes          int64
	MaxTotalRecords       int64
	MaxTotalBytes         int64
	MaxRecordPayloadBytes int64
	MaxRequestBytes       int64
	MaxBatchByteSize      int64
	MaxBatchRecords       int64
}
