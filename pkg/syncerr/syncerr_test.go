package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClassifiesWrappedError(t *testing.T) {
	base := New(BsoNotFound, "bso missing")
	wrapped := fmt.Errorf("engine.GetBSO: %w", base)

	assert.True(t, Is(wrapped, BsoNotFound))
	assert.False(t, Is(wrapped, Conflict))
	assert.Equal(t, BsoNotFound, KindOf(wrapped))
}

func TestKindOfPlainErrorIsUnknown(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(DbInternal, "insert bso", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestErrorIsMatchesSameKindOnly(t *testing.T) {
	a := New(Quota, "over quota")
	b := New(Quota, "a different message")
	c := New(TooLarge, "payload too large")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKindStringIsStable(t *testing.T) {
	cases := map[Kind]string{
		BsoNotFound:        "bso_not_found",
		CollectionNotFound: "collection_not_found",
		BatchNotFound:      "batch_not_found",
		Conflict:           "conflict",
		Quota:              "quota",
		TooLarge:           "too_large",
		Invalid:            "invalid",
		PoolTimeout:        "pool_timeout",
		DbInternal:         "db_internal",
		Integrity:          "integrity",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
