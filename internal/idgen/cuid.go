package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// cuidCounter is incremented on every call so that two CUIDs minted within
// the same nanosecond still differ, matching the "monotonic time + counter
// + random entropy" shape described for the cuid generated-field strategy.
var cuidCounter uint64

// NewCUID returns a collision-resistant identifier: prefix "c" followed by
// at least 32 hex characters derived from the current monotonic time, a
// process-local counter, and random entropy.
func NewCUID() string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], atomic.AddUint64(&cuidCounter, 1))
	if _, err := rand.Read(buf[16:24]); err != nil {
		// crypto/rand failing is effectively fatal for process entropy;
		// fall back to the counter value stretched across the remaining
		// bytes rather than panicking mid-insert.
		binary.BigEndian.PutUint64(buf[16:24], atomic.AddUint64(&cuidCounter, 1))
	}
	return "c" + hex.EncodeToString(buf[:])
}
