package trip

import (
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/scheduler"
)

// The methods in this file apply server-confirmed state and never send
// messages. Reflow that would spill past midnight wraps and is logged.

// DayByDurableID returns the index of the day with the given server id.
func (s *Store) DayByDurableID(id int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dayByDurableID(id)
}

func (s *Store) dayByDurableID(id int64) (int, bool) {
	if id <= 0 {
		return -1, false
	}
	for i := range s.days {
		if s.days[i].DurableID == id {
			return i, true
		}
	}
	return -1, false
}

// HasEntry reports whether any day holds an entry with localID.
func (s *Store) HasEntry(localID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	di, _ := s.find(localID)
	return di >= 0
}

// RebindID rewrites a temporary id to its durable id in place. Times are not
// touched, so there is no reflow. Returns false if tempID is not held.
func (s *Store) RebindID(tempID string, durableID int64) bool {
	if !model.IsTemporaryID(tempID) || durableID <= 0 {
		return false
	}

	s.mu.Lock()
	di, ei := s.find(tempID)
	if di < 0 {
		s.mu.Unlock()
		return false
	}
	newID := model.FormatDurableID(durableID)
	s.days[di].Entries[ei].LocalID = newID
	if s.lastAdded == tempID {
		s.lastAdded = newID
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEntries, Source: SourceRemote, DayIndex: di, LocalID: newID})
	return true
}

// TakeTombstone reports whether tempID was deleted locally before its create
// was confirmed, and forgets it.
func (s *Store) TakeTombstone(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstones[tempID]; !ok {
		return false
	}
	delete(s.tombstones, tempID)
	return true
}

// MergeRemote inserts an entry created elsewhere and reflows the day with the
// no-anchor pass. Returns false if the day is unknown or an entry with the
// same id already exists.
func (s *Store) MergeRemote(dayIndex int, e model.Entry) bool {
	s.mu.Lock()
	if dayIndex < 0 || dayIndex >= len(s.days) || e.LocalID == "" {
		s.mu.Unlock()
		return false
	}
	if di, _ := s.find(e.LocalID); di >= 0 {
		s.mu.Unlock()
		return false
	}
	day := &s.days[dayIndex]
	day.Entries = s.reflow(day, append(append([]model.Entry(nil), day.Entries...), e), "")
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEntries, Source: SourceRemote, DayIndex: dayIndex, LocalID: e.LocalID})
	return true
}

// ApplyRemoteUpdate overwrites an existing entry with the authoritative
// fields of e and reflows the day anchored on it. A field is taken when it
// is non-zero or listed in present, so a wire update can clear a memo or
// reset the category to custom. The window is taken when both ends are set.
// If the entry lives on another day it is moved to dayIndex. Returns false
// if the entry or day is unknown.
func (s *Store) ApplyRemoteUpdate(dayIndex int, e model.Entry, present model.Fields) bool {
	s.mu.Lock()
	if dayIndex < 0 || dayIndex >= len(s.days) {
		s.mu.Unlock()
		return false
	}
	fromDay, ei := s.find(e.LocalID)
	if fromDay < 0 {
		s.mu.Unlock()
		return false
	}

	merged := overlay(s.days[fromDay].Entries[ei], e, present)
	if fromDay != dayIndex {
		src := &s.days[fromDay]
		src.Entries = append(src.Entries[:ei:ei], src.Entries[ei+1:]...)
		dst := &s.days[dayIndex]
		dst.Entries = s.reflow(dst, append(append([]model.Entry(nil), dst.Entries...), merged), merged.LocalID)
	} else {
		day := &s.days[dayIndex]
		entries := append([]model.Entry(nil), day.Entries...)
		entries[ei] = merged
		day.Entries = s.reflow(day, entries, merged.LocalID)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEntries, Source: SourceRemote, DayIndex: dayIndex, LocalID: e.LocalID})
	return true
}

// RemoveRemote deletes an entry wherever it is. Absence is not an error.
func (s *Store) RemoveRemote(localID string) bool {
	s.mu.Lock()
	di, ei := s.find(localID)
	if di < 0 {
		s.mu.Unlock()
		return false
	}
	day := &s.days[di]
	day.Entries = append(day.Entries[:ei:ei], day.Entries[ei+1:]...)
	if s.lastAdded == localID {
		s.lastAdded = ""
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEntries, Source: SourceRemote, DayIndex: di, LocalID: localID})
	return true
}

// ApplyPlan takes the title and date range from p. Empty fields are kept.
func (s *Store) ApplyPlan(p model.Plan) {
	s.mu.Lock()
	if p.DurableID > 0 && s.plan.DurableID == 0 {
		s.plan.DurableID = p.DurableID
	}
	if p.Title != "" {
		s.plan.Title = p.Title
	}
	if p.StartDate != "" {
		s.plan.StartDate = p.StartDate
	}
	if p.EndDate != "" {
		s.plan.EndDate = p.EndDate
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePlan, Source: SourceRemote, DayIndex: -1})
}

// AddRemoteDay inserts a day keeping days ordered by date and renumbers.
// Returns false if a day with the same durable id exists.
func (s *Store) AddRemoteDay(d model.Day) bool {
	s.mu.Lock()
	if _, ok := s.dayByDurableID(d.DurableID); ok {
		s.mu.Unlock()
		return false
	}
	d = d.Clone()
	d.Entries = scheduler.Resolve(d.Entries, "")

	at := len(s.days)
	for i := range s.days {
		if d.Date != "" && d.Date < s.days[i].Date {
			at = i
			break
		}
	}
	s.days = append(s.days, model.Day{})
	copy(s.days[at+1:], s.days[at:])
	s.days[at] = d
	renumber(s.days)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDays, Source: SourceRemote, DayIndex: at})
	return true
}

// RemoveRemoteDay drops the day with durableID and renumbers.
func (s *Store) RemoveRemoteDay(durableID int64) bool {
	s.mu.Lock()
	i, ok := s.dayByDurableID(durableID)
	if !ok {
		s.mu.Unlock()
		return false
	}
	if s.days[i].IndexOf(s.lastAdded) >= 0 {
		s.lastAdded = ""
	}
	s.days = append(s.days[:i], s.days[i+1:]...)
	renumber(s.days)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDays, Source: SourceRemote, DayIndex: i})
	return true
}

// reflow must be called with s.mu held.
func (s *Store) reflow(day *model.Day, entries []model.Entry, anchorID string) []model.Entry {
	out, err := scheduler.ResolveWithinDay(entries, anchorID)
	if err == nil {
		return out
	}
	s.logger.Warn("remote reflow wrapped past midnight",
		"day", day.Number,
		"date", day.Date,
		"anchor", anchorID)
	return scheduler.Resolve(entries, anchorID)
}

// overlay copies the fields of src that are non-zero or in present onto
// dst. LocalID is kept.
func overlay(dst, src model.Entry, present model.Fields) model.Entry {
	take := func(f model.Fields, nonZero bool) bool { return nonZero || present.Has(f) }

	if src.StartTime != "" && src.EndTime != "" {
		dst.StartTime, dst.EndTime = src.StartTime, src.EndTime
	}
	if take(model.FieldPlace, src.ExternalRefID != "") {
		dst.ExternalRefID = src.ExternalRefID
	}
	if take(model.FieldCategory, src.CategoryID != 0) {
		dst.CategoryID = src.CategoryID
	}
	if take(model.FieldName, src.Name != "") {
		dst.Name = src.Name
	}
	if take(model.FieldAddress, src.Address != "") {
		dst.Address = src.Address
	}
	if take(model.FieldRating, src.Rating != 0) {
		dst.Rating = src.Rating
	}
	if take(model.FieldImage, src.ImageURL != "") {
		dst.ImageURL = src.ImageURL
	}
	if take(model.FieldLocation, src.Longitude != 0 || src.Latitude != 0) {
		dst.Longitude, dst.Latitude = src.Longitude, src.Latitude
	}
	if take(model.FieldMemo, src.Memo != "") {
		dst.Memo = src.Memo
	}
	return dst
}
