package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTokenID returns a random identifier for signed credentials (the jti claim).
func NewTokenID() string {
	return uuid.NewString()
}

// LooksLikeID reports whether a path segment is a row or token identifier
// rather than a resource name: a ULID, a UUID or a plain integer.
func LooksLikeID(segment string) bool {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return false
	}
	if len(segment) == ulid.EncodedSize {
		if _, err := ulid.ParseStrict(segment); err == nil {
			return true
		}
	}
	if _, err := uuid.Parse(segment); err == nil && len(segment) >= 32 {
		return true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
