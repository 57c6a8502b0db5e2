// Package clock provides the monotonic timestamps and opaque identifiers
// consumed by every other component. All timestamps are UTC; the sequence
// counter breaks ties between two Stamp calls landing in the same
// millisecond on this process so that per-user server-timestamp ordering
// (sync engine invariant: strictly increasing per user) holds even under
// concurrent acceptance.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock is the interface consumed by components that need time or identity,
// so tests can substitute a deterministic fake.
type Clock interface {
	Now() time.Time
	NewID() string
	Stamp() int64
}

// System is the production Clock backed by wall-clock time and a
// process-wide monotonic counter.
type System struct {
	seq atomic.Uint64
}

func New() *System { return &System{} }

func (s *System) Now() time.Time { return time.Now().UTC() }

func (s *System) NewID() string { return uuid.NewString() }

// Stamp returns a value that is strictly increasing across calls on this
// process, encoded as milliseconds-since-epoch in the high bits and the
// tie-breaking sequence in the low 16 bits. Two Stamp calls within the same
// millisecond on this process therefore still compare ordered; ordering
// across processes is not guaranteed, matching the per-user (not global)
// ordering guarantee in the concurrency model.
func (s *System) Stamp() int64 {
	millis := time.Now().UTC().UnixMilli()
	seq := s.seq.Add(1) & 0xFFFF
	return millis<<16 | int64(seq)
}

// StampToMillis recovers the millisecond component of a value returned by Stamp.
func StampToMillis(stamp int64) int64 {
	return stamp >> 16
}
