package idmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// Resolver is the durable half of collection id allocation: it is asked to
// look up or allocate an id for a user, and is the backend's responsibility
// to implement (a SQL table, a bbolt bucket, a Spanner table).
type Resolver interface {
	// Lookup returns the id already allocated to name for user, or
	// ok == false if none exists yet.
	Lookup(ctx context.Context, fxaUID, name string) (id int64, ok bool, err error)

	// Allocate assigns and persists the next available id for name,
	// starting at types.FirstUserDefinedCollectionID. Allocate must be
	// safe to call concurrently for different names; concurrent calls for
	// the same name may race, but exactly one must win and all callers
	// must observe the same winning id afterward.
	Allocate(ctx context.Context, fxaUID, name string) (id int64, err error)

	// Names returns every name currently allocated for user. Well-known
	// names are never allocated through a Resolver, so they are not
	// included.
	Names(ctx context.Context, fxaUID string) (map[string]int64, error)
}

// IdMap resolves collection names to ids, caching the well-known table and
// any per-user allocations it has already seen.
type IdMap struct {
	resolver Resolver

	mu    sync.RWMutex
	cache map[string]map[string]int64 // fxaUID -> name -> id
}

// New returns an IdMap backed by resolver.
func New(resolver Resolver) *IdMap {
	return &IdMap{
		resolver: resolver,
		cache:    make(map[string]map[string]int64),
	}
}

// CollectionID resolves name to its id for fxaUID, allocating one if this
// is the first time the user has written to that name.
func (m *IdMap) CollectionID(ctx context.Context, fxaUID, name string) (int64, error) {
	if id, ok := types.WellKnownCollections[name]; ok {
		m.remember(fxaUID, name, id)
		return id, nil
	}

	if id, ok := m.lookupCache(fxaUID, name); ok {
		return id, nil
	}

	id, ok, err := m.resolver.Lookup(ctx, fxaUID, name)
	if err != nil {
		return 0, fmt.Errorf("idmap: lookup %q: %w", name, err)
	}
	if ok {
		m.remember(fxaUID, name, id)
		return id, nil
	}

	id, err = m.resolver.Allocate(ctx, fxaUID, name)
	if err != nil {
		return 0, fmt.Errorf("idmap: allocate %q: %w", name, err)
	}
	m.remember(fxaUID, name, id)
	return id, nil
}

// CollectionName reverse-resolves id back to its name for fxaUID, used when
// rendering a per-collection listing. It consults the well-known table
// first, then falls back to a full resolver Names lookup; the cache is not
// read.
func (m *IdMap) CollectionName(ctx context.Context, fxaUID string, id int64) (string, error) {
	for name, wellKnownID := range types.WellKnownCollections {
		if wellKnownID == id {
			return name, nil
		}
	}

	names, err := m.resolver.Names(ctx, fxaUID)
	if err != nil {
		return "", fmt.Errorf("idmap: names for %q: %w", fxaUID, err)
	}
	for name, gotID := range names {
		if gotID == id {
			m.remember(fxaUID, name, id)
			return name, nil
		}
	}
	return "", fmt.Errorf("idmap: no collection named for id %d", id)
}

// Names returns every collection name currently allocated for fxaUID, as
// reported by resolver.Names, and replaces fxaUID's cache with it.
// Well-known names are not added to the result.
func (m *IdMap) Names(ctx context.Context, fxaUID string) (map[string]int64, error) {
	names, err := m.resolver.Names(ctx, fxaUID)
	if err != nil {
		return nil, fmt.Errorf("idmap: names for %q: %w", fxaUID, err)
	}
	m.mu.Lock()
	m.cache[fxaUID] = cloneMap(names)
	m.mu.Unlock()
	return names, nil
}

func (m *IdMap) lookupCache(fxaUID, name string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.cache[fxaUID]
	if !ok {
		return 0, false
	}
	id, ok := byName[name]
	return id, ok
}

func (m *IdMap) remember(fxaUID, name string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.cache[fxaUID]
	if !ok {
		byName = make(map[string]int64)
		m.cache[fxaUID] = byName
	}
	byName[name] = id
}

// Forget drops fxaUID's cached allocations, forcing the next lookup back
// to the Resolver. Used by tests and by DeleteAll.
func (m *IdMap) Forget(fxaUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, fxaUID)
}

func cloneMap(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
