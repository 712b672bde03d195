package protocol

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewMUID generates a random message identifier
func NewMUID() GUID {
	return GUID(uuid.New())
}

// ServentGUID derives a stable servent GUID from a seed, so that a node
// keeps the same identity (and its push-proxy routes) across restarts.
// An empty seed yields a random GUID.
func ServentGUID(seed string) GUID {
	if seed == "" {
		return NewMUID()
	}

	sum := blake2b.Sum256([]byte(seed))
	var g GUID
	copy(g[:], sum[:16])
	return g
}
