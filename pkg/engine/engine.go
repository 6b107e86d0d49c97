package engine

import (
	"fmt"

	"github.com/mozilla-services/syncstorage-go/pkg/clock"
	"github.com/mozilla-services/syncstorage-go/pkg/idmap"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
	"github.com/mozilla-services/syncstorage-go/pkg/storage"
	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// Config holds the configuration for creating an Engine.
type Config struct {
	Backend storage.Backend
	Clock   clock.Clock
	Quota   quota.Policy
	Limits  types.ConfigLimits
}

// DefaultLimits mirrors the limits a production Sync 1.5 deployment
// advertises through /info/configuration. MaxBatchByteSize and
// MaxBatchRecords have no separately-named default in the protocol; they
// track MaxTotalBytes and MaxTotalRecords, since a batch can never
// legitimately grow a collection past its own total ceiling.
var DefaultLimits = types.ConfigLimits{
	MaxPostRecords:        100,
	MaxPostBytes:          2*1024*1024 + 1024*512, // 2.5 MiB
	MaxTotalRecords:       10000,
	MaxTotalBytes:         250 * 1024 * 1024,
	MaxRecordPayloadBytes: 2 * 1024 * 1024,
	MaxRequestBytes:       2*1024*1024 + 1024*512 + 4096, // max_post_bytes + overhead
	MaxBatchByteSize:      250 * 1024 * 1024,
	MaxBatchRecords:       10000,
}

// Engine is the storage engine's facade over a single backend.
type Engine struct {
	backend storage.Backend
	idmap   *idmap.IdMap
	clock   clock.Clock
	quota   quota.Policy
	limits  types.ConfigLimits
}

// New creates an Engine from cfg. If cfg.Clock is nil, it defaults to
// clock.System. If cfg.Limits is the zero value, it defaults to
// DefaultLimits.
func New(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	limits := cfg.Limits
	if limits == (types.ConfigLimits{}) {
		limits = DefaultLimits
	}

	return &Engine{
		backend: cfg.Backend,
		idmap:   idmap.New(cfg.Backend),
		clock:   c,
		quota:   cfg.Quota,
		limits:  limits,
	}, nil
}

// Close releases the underlying backend's resources.
func (e *Engine) Close() error {
	return e.backend.Close()
}
