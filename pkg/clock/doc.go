/*
Package clock defines SyncTimestamp, the monotonic per-collection
modification clock the rest of syncstorage is built on.

A SyncTimestamp is a count of 10ms ticks since the Unix epoch. It is never
allowed to go backwards for a given (user, collection): Next computes the
timestamp a write should use given the wall clock and the collection's
previous modified value, bumping forward by at least one tick when the wall
clock has not advanced enough on its own (invariant I1 in the storage
engine's write path).

On the wire, a SyncTimestamp is rendered as decimal seconds with exactly two
fractional digits (e.g. "1609459200.25"); String and ParseSyncTimestamp are
the only places that conversion happens, so arithmetic everywhere else stays
in integer ticks and never drifts through a float round-trip.
*/
package clock
