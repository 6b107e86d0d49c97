package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/mozilla-services/syncstorage-go/pkg/types"
)

// Encode returns an opaque Offset token for resuming a listing after n rows.
func Encode(n int64) types.Offset {
	raw := strconv.FormatInt(n, 10)
	return types.Offset{Value: base64.RawURLEncoding.EncodeToString([]byte(raw))}
}

// Decode recovers the row offset from a token produced by Encode. An empty
// Offset decodes to 0, the offset of the first page.
func Decode(o *types.Offset) (int64, error) {
	if o == nil || o.Value == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(o.Value)
	if err != nil {
		return 0, fmt.Errorf("pagination: malformed offset: %w", err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pagination: malformed offset: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("pagination: negative offset")
	}
	return n, nil
}
