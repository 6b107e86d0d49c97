/*
Package idmap resolves collection names to the stable integer ids the rest
of the storage engine keys its rows on.

The thirteen well-known collection names resolve to fixed ids from a static
table, without consulting the Resolver. Any other name is allocated the next available id,
starting at 100, the first time it is seen for a given user; the
allocation is durable (persisted through a Resolver) so later requests for
the same name keep resolving to the same id.

IdMap keeps an in-memory cache in front of the Resolver so repeat lookups
for the same (user, name) pair don't round-trip to the backend, following
the same read-mostly, RWMutex-guarded cache shape used elsewhere in this
codebase for short-lived lookup tables.
*/
package idmap
