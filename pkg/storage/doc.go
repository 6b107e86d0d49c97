/*
Package storage defines the Backend capability-set interface every
storage engine backend implements, and the embedded bbolt backend used for
single-process deployments and tests.

Backend intentionally exposes only what pkg/engine needs: a per-(user,
collection) transaction (WithTx, realizing the CollectionLocker contract),
account-wide summaries, and a staging area for batch uploads (BatchStore).
The engine never branches on which concrete Backend it was given; MySQL,
Postgres, and Spanner backends satisfy the same interface in whatever way
is idiomatic for that store (SELECT ... FOR UPDATE, a native
ReadWriteTransaction) without changing engine code.

BoltBackend, in this file's bolt.go, lays its data out across five flat
bbolt buckets keyed by byte-string concatenation, the same bucket-per-kind
shape used throughout this codebase's embedded storage, rather than nested
per-user buckets: a cursor prefix scan over "fxaUID\x00paddedCollectionID\x00"
is enough to enumerate one collection's rows without touching any other
user's data.
*/
package storage
