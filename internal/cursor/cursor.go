// Package cursor encodes keyset-pagination positions as opaque strings.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is returned for cursors that were not produced by Encode.
var ErrMalformed = errors.New("malformed cursor")

// Encode produces an opaque cursor from a sort timestamp and a tie-breaking id.
func Encode(ts time.Time, id string) string {
	raw := ts.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor produced by Encode.
func Decode(c string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", ErrMalformed)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrMalformed
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", ErrMalformed)
	}
	return ts, parts[1], nil
}
