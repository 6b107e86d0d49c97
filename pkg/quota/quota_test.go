package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mozilla-services/syncstorage-go/pkg/syncerr"
)

func TestUnlimitedPolicyNeverRejects(t *testing.T) {
	err := Unlimited.CheckWrite(Usage{TotalBytes: 1 << 40}, 1<<40)
	assert.NoError(t, err)
}

func TestCheckWriteAllowsUnderLimit(t *testing.T) {
	p := Policy{Limit: 1000}
	err := p.CheckWrite(Usage{TotalBytes: 500}, 400)
	assert.NoError(t, err)
}

func TestCheckWriteRejectsOverLimit(t *testing.T) {
	p := Policy{Limit: 1000}
	err := p.CheckWrite(Usage{TotalBytes: 500}, 600)
	assert.True(t, syncerr.Is(err, syncerr.Quota))
}

func TestCheckWriteAllowsExactlyAtLimit(t *testing.T) {
	p := Policy{Limit: 1000}
	err := p.CheckWrite(Usage{TotalBytes: 900}, 100)
	assert.NoError(t, err)
}

func TestRemaining(t *testing.T) {
	p := Policy{Limit: 1000}
	assert.Equal(t, int64(600), p.Remaining(Usage{TotalBytes: 400}))
	assert.Equal(t, int64(-100), p.Remaining(Usage{TotalBytes: 1100}))
	assert.Greater(t, Unlimited.Remaining(Usage{TotalBytes: 1 << 50}), int64(1<<50))
}
