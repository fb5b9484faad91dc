package trip

import "github.com/roach88/tripsync/internal/model"

// Plan returns the trip metadata.
func (s *Store) Plan() model.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// TripID returns the durable id of the loaded plan, or 0.
func (s *Store) TripID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.DurableID
}

// Days returns a copy of all days in order.
func (s *Store) Days() []model.Day {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Day, len(s.days))
	for i, d := range s.days {
		out[i] = d.Clone()
	}
	return out
}

// Day returns a copy of the day at index i.
func (s *Store) Day(i int) (model.Day, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.days) {
		return model.Day{}, false
	}
	return s.days[i].Clone(), true
}

// Find returns the day index and entry with localID.
func (s *Store) Find(localID string) (int, model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	di, ei := s.find(localID)
	if di < 0 {
		return -1, model.Entry{}, false
	}
	return di, s.days[di].Entries[ei], true
}

// LastAdded returns the id of the most recently added entry, for
// scroll-to-reveal. Empty once that entry is deleted.
func (s *Store) LastAdded() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAdded
}

// find must be called with s.mu held.
func (s *Store) find(localID string) (int, int) {
	for di := range s.days {
		if ei := s.days[di].IndexOf(localID); ei >= 0 {
			return di, ei
		}
	}
	return -1, -1
}
