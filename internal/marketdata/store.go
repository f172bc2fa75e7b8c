package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Store publishes immutable, versioned snapshots.
// Readers take the current pointer and must treat the value as read-only;
// a gate and a trigger holding the same pointer always agree on account state.
type Store struct {
	current atomic.Pointer[types.Snapshot]
	mu      sync.Mutex // serializes publishers
	version uint64
	now     func() time.Time
}

// NewStore creates an empty store. Latest returns nil until the first Publish.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Latest returns the most recently published snapshot, or nil
func (s *Store) Latest() *types.Snapshot {
	return s.current.Load()
}

// Version returns the version of the latest snapshot, zero when none
func (s *Store) Version() uint64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

// Publish stamps snap with the next version and makes it current.
// The caller must not modify snap afterwards.
func (s *Store) Publish(snap *types.Snapshot) *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	snap.Version = s.version
	if snap.Quotes == nil {
		snap.Quotes = map[string]types.Quote{}
	}
	s.current.Store(snap)
	return snap
}

// PublishFailure publishes a copy of the last snapshot flagged with the feed error.
// Quotes keep their old timestamps so staleness keeps growing.
func (s *Store) PublishFailure(reason string) *types.Snapshot {
	prev := s.current.Load()
	next := &types.Snapshot{FeedError: reason}
	if prev != nil {
		next.Timestamp = prev.Timestamp
		next.Quotes = make(map[string]types.Quote, len(prev.Quotes))
		for k, q := range prev.Quotes {
			next.Quotes[k] = q
		}
		next.Account = cloneAccount(prev.Account)
	}
	return s.Publish(next)
}

// Age returns how old the latest snapshot is; ok is false when there is none
func (s *Store) Age() (time.Duration, bool) {
	snap := s.current.Load()
	if !snap.HasTimestamp() {
		return 0, false
	}
	return s.now().Sub(snap.Timestamp), true
}

func cloneAccount(a types.Account) types.Account {
	out := a
	out.Positions = append([]types.Position(nil), a.Positions...)
	return out
}
