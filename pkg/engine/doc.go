/*
Package engine is the storage engine's facade: the BsoStore and
BatchEngine components from the outside, composed into a single Engine so
callers only need to wire up one thing.

Engine owns a Clock, an IdMap, a quota.Policy, and a storage.Backend, and
every method here is what an eventual HTTP layer would call directly: the
shapes returned mirror the Sync 1.5 JSON responses without this package
knowing anything about HTTP itself. All merge semantics for "absent field
means preserve", quota enforcement, payload/ttl/sortindex
validation, and the monotonic modified-timestamp bump on every write live
here; pkg/storage only ever sees the fully-resolved row to persist.
*/
package engine
