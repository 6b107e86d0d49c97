/*
Package quota holds the pure accounting policy that decides whether a
write would exceed an account's storage quota.

Policy itself touches no storage: it is handed the account's current usage
(as reported by a backend's own counters) and the size of the write being
attempted, and returns whether the write is allowed. This keeps the
decision testable without a backend and keeps each backend's counting
logic (which varies: a SQL SUM query, a bbolt running total, a Spanner
aggregate) out of the policy itself.
*/
package quota
