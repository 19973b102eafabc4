package session

import (
	"sort"
	"time"
)

// Store maps outstanding message ids to their send times.
//
// A Store belongs to exactly one session and is only touched by that
// session's goroutine, so it has no locking. Every tracked id leaves the
// store at most once, either through Resolve or Supersede.
type Store struct {
	pending map[string]time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{pending: make(map[string]time.Time)}
}

// Track records id as sent at sentAt. Tracking an id twice keeps the first
// send time.
func (s *Store) Track(id string, sentAt time.Time) {
	if _, ok := s.pending[id]; ok {
		return
	}
	s.pending[id] = sentAt
}

// Resolve removes id and returns the round-trip latency to receivedAt. It
// returns false if id is not pending, so a duplicate reply never produces a
// second sample. Latencies are never negative.
func (s *Store) Resolve(id string, receivedAt time.Time) (time.Duration, bool) {
	sentAt, ok := s.pending[id]
	if !ok {
		return 0, false
	}
	delete(s.pending, id)

	latency := receivedAt.Sub(sentAt)
	if latency < 0 {
		latency = 0
	}
	return latency, true
}

// Supersede replaces the oldest pending entry with id sent at sentAt. It
// returns the id that was dropped, or false if nothing was pending, in
// which case id is simply tracked.
func (s *Store) Supersede(id string, sentAt time.Time) (string, bool) {
	var (
		oldest   string
		oldestAt time.Time
		found    bool
	)
	for pid, at := range s.pending {
		if !found || at.Before(oldestAt) || (at.Equal(oldestAt) && pid < oldest) {
			oldest, oldestAt, found = pid, at, true
		}
	}
	if found {
		delete(s.pending, oldest)
	}
	s.Track(id, sentAt)
	return oldest, found
}

// SentAt returns when id was sent.
func (s *Store) SentAt(id string) (time.Time, bool) {
	t, ok := s.pending[id]
	return t, ok
}

// Len returns the number of outstanding ids.
func (s *Store) Len() int {
	return len(s.pending)
}

// Outstanding returns the pending ids ordered by send time.
func (s *Store) Outstanding() []string {
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.pending[ids[i]], s.pending[ids[j]]
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.Before(b)
	})
	return ids
}
