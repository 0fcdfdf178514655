package capture

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDLength is the length of a canonical ULID string.
const IDLength = ulid.EncodedSize

// Monotonic entropy keeps ids minted within the same millisecond in
// creation order. MonotonicEntropy is not safe for concurrent use.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a time-ordered ULID. Ids sharing a millisecond sort in
// the order they were generated.
func NewID(now time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidID reports whether id is a well-formed 26-character ULID.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil
}
