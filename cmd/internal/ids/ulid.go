// Package ids provides ID primitives (ULID) used across the chat services.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Monotonic entropy keeps ids strictly increasing within one process even for
// same-millisecond calls. The log store relies on this: zset score ties are
// broken lexicographically by member, so id order is insertion order.
var entropy = ulid.LockedMonotonicReader{
	MonotonicReader: ulid.Monotonic(rand.Reader, 0),
}

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps message ids ordered in
// logs and traces without a separate sequence.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), &entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
