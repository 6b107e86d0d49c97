package quota

import "github.com/mozilla-services/syncstorage-go/pkg/syncerr"

// Usage is an account's current storage consumption, as reported by a
// backend's own counters.
type Usage struct {
	TotalBytes int64
}

// Policy is the quota limit an account is held to. A zero Limit means
// unlimited.
type Policy struct {
	Limit int64
}

// Unlimited is the Policy applied to accounts with no quota enforcement.
var Unlimited = Policy{Limit: 0}

// CheckWrite returns a *syncerr.Error with Kind Quota if writing
// additionalBytes on top of current would exceed the policy's limit.
func (p Policy) CheckWrite(current Usage, additionalBytes int64) error {
	if p.Limit <= 0 {
		return nil
	}
	if current.TotalBytes+additionalBytes > p.Limit {
		return syncerr.New(syncerr.Quota, "write would exceed account quota")
	}
	return nil
}

// Remaining returns how many bytes current can still grow by before
// hitting the policy's limit. It is negative if already over quota. An
// Unlimited policy has no ceiling, so Remaining returns a sentinel large
// value rather than a meaningless one.
func (p Policy) Remaining(current Usage) int64 {
	if p.Limit <= 0 {
		return 1<<62 - 1
	}
	return p.Limit - current.TotalBytes
}
