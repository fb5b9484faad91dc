// Package presence tracks who is viewing the open trip.
package presence

import (
	"sync"

	"github.com/roach88/tripsync/internal/model"
)

// Tracker holds the member list of one trip.
//
// Every broadcast carries the full list, so Replace swaps it wholesale; the
// broadcast's action and uid only describe what triggered it.
type Tracker struct {
	mu      sync.RWMutex
	tripID  int64
	members []model.Member
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Watch sets the trip whose broadcasts are accepted and empties the set.
func (t *Tracker) Watch(tripID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tripID = tripID
	t.members = nil
}

// Replace installs the broadcast's member list if it is for the watched
// trip. Reports whether the set changed hands.
func (t *Tracker) Replace(tripID int64, pb model.PresenceBroadcast) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tripID != t.tripID {
		return false
	}
	t.members = dedupe(pb.Users)
	return true
}

// Members returns a copy of the current set in broadcast order.
func (t *Tracker) Members() []model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.Member(nil), t.members...)
}

// Len returns the number of members.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Clear empties the set. The watched trip is kept.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = nil
}

// dedupe keeps the first occurrence of each connection id.
func dedupe(users []model.Member) []model.Member {
	seen := make(map[string]struct{}, len(users))
	out := make([]model.Member, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u.ConnectionID]; ok {
			continue
		}
		seen[u.ConnectionID] = struct{}{}
		out = append(out, u)
	}
	return out
}
