/*
Package types defines the wire-independent data model shared by every
storage backend and by the engine that sits on top of them: principals,
collections, BSOs, user-collection state, and batches.

# Core types

User identity:
  - Principal: the (fxa_uid, fxa_kid) pair that scopes all storage

Collections:
  - well-known collection names are pre-registered with fixed IDs (1-13);
    anything else is allocated starting at 100 by the IdMap

BSOs:
  - BSO: a stored record, keyed by (user, collection, id)
  - BSOInput: the mutable subset of a BSO's fields on a write, using
    pointers so a nil field means "leave unchanged" rather than "clear"

Queries and results:
  - GetBSOsQuery / GetBSOsResult: the parameters and paginated result of a
    collection listing
  - PostResult: the per-item success/failure outcome of a batched POST

These types carry no backend-specific detail (no SQL, no bbolt bucket
names); pkg/storage maps them onto whichever backend it is given.
*/
package types
