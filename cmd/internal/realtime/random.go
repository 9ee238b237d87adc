package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns a random hex string of length 2*nBytes, used for
// session and envelope ids at the websocket edge. nBytes <= 0 defaults to
// 16 bytes (32 hex chars).
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal; an empty id surfaces
		// quickly in logs rather than masking the condition.
		return ""
	}

	return hex.EncodeToString(b)
}
