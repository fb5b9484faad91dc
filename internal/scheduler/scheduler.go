// Package scheduler reflows a day's entries so that no two overlap.
//
// Resolve is a pure function: it never adds, removes or splits entries, only
// shifts their windows while preserving each entry's duration. Given an
// anchor (the entry the user just placed), everything else is pushed outward
// from it; without an anchor, entries are packed left to right.
//
// Entries with zero or negative duration are invalid input. Callers enforce
// timeslot.MinDuration before calling.
package scheduler

import (
	"errors"
	"sort"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/timeslot"
)

// ErrSpillsPastMidnight is returned by ResolveWithinDay when reflow would
// push an entry to start before 00:00 or end at or after 24:00.
var ErrSpillsPastMidnight = errors.New("reflow spills past midnight")

// slot carries an entry through reflow in minute arithmetic. Formatting back
// to "HH:MM" happens once at the end, and only for entries that moved.
type slot struct {
	entry      model.Entry
	start, end int
	moved      bool
}

func (s *slot) shiftTo(start int) {
	d := s.end - s.start
	s.start = start
	s.end = start + d
	s.moved = true
}

// Resolve returns entries re-timed so that none overlap, sorted by start.
//
// If anchorID names an entry, that entry keeps its window and the others are
// pushed away from it: later entries forward from its end, earlier entries
// backward from its start. An empty or unknown anchorID selects the
// left-to-right pass used for merging remote state.
//
// Reflow past midnight wraps modulo 24h; use ResolveWithinDay to reject it.
func Resolve(entries []model.Entry, anchorID string) []model.Entry {
	out, _ := resolve(entries, anchorID)
	return out
}

// ResolveWithinDay is Resolve but fails with ErrSpillsPastMidnight instead of
// wrapping entries around midnight.
func ResolveWithinDay(entries []model.Entry, anchorID string) ([]model.Entry, error) {
	out, spilled := resolve(entries, anchorID)
	if spilled {
		return nil, ErrSpillsPastMidnight
	}
	return out, nil
}

func resolve(entries []model.Entry, anchorID string) ([]model.Entry, bool) {
	slots := make([]slot, len(entries))
	for i, e := range entries {
		slots[i] = slot{entry: e, start: e.StartMinutes(), end: e.EndMinutes()}
	}
	// Ties keep input order.
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].start < slots[j].start })

	anchor := -1
	if anchorID != "" {
		for i := range slots {
			if slots[i].entry.LocalID == anchorID {
				anchor = i
				break
			}
		}
	}

	if anchor < 0 {
		packForward(slots)
	} else {
		pushForward(slots, anchor)
		pushBackward(slots, anchor)
	}

	spilled := false
	out := make([]model.Entry, len(slots))
	for i := range slots {
		s := slots[i]
		if s.start < 0 || s.end >= timeslot.MinutesPerDay {
			spilled = true
		}
		if s.moved {
			s.entry.StartTime = timeslot.Format(s.start)
			s.entry.EndTime = timeslot.Format(s.end)
		}
		out[i] = s.entry
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMinutes() < out[j].StartMinutes() })
	return out, spilled
}

// packForward starts each entry no earlier than its predecessor's end.
func packForward(slots []slot) {
	for i := 1; i < len(slots); i++ {
		if prevEnd := slots[i-1].end; slots[i].start < prevEnd {
			slots[i].shiftTo(prevEnd)
		}
	}
}

// pushForward moves entries after the anchor so each starts at or after the
// running end.
func pushForward(slots []slot, anchor int) {
	lastEnd := slots[anchor].end
	for i := anchor + 1; i < len(slots); i++ {
		if slots[i].start < lastEnd {
			slots[i].shiftTo(lastEnd)
		}
		lastEnd = slots[i].end
	}
}

// pushBackward moves entries before the anchor, nearest first, so each ends
// at or before the running start.
func pushBackward(slots []slot, anchor int) {
	lastStart := slots[anchor].start
	for i := anchor - 1; i >= 0; i-- {
		if slots[i].end > lastStart {
			slots[i].shiftTo(lastStart - (slots[i].end - slots[i].start))
		}
		lastStart = slots[i].start
	}
}

// Overlaps reports whether any two entries' [start, end) windows intersect.
func Overlaps(entries []model.Entry) bool {
	sorted := append([]model.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartMinutes() < sorted[j].StartMinutes() })

	maxEnd := -1
	for i, e := range sorted {
		if i > 0 && e.StartMinutes() < maxEnd {
			return true
		}
		maxEnd = max(maxEnd, e.EndMinutes())
	}
	return false
}
