package model

import (
	"strconv"
	"strings"

	"github.com/roach88/tripsync/internal/timeslot"
)

// TempIDPrefix marks a client-generated id that has not been confirmed by
// the server yet.
const TempIDPrefix = "tmp_"

// Category identifiers in the canonical 0..4 range.
const (
	CategoryCustom     = 0
	CategoryAttraction = 1
	CategoryRestaurant = 2
	CategoryCafe       = 3
	CategoryLodging    = 4
)

// Plan is the trip-level metadata.
type Plan struct {
	DurableID int64  `json:"durable_id"`
	Title     string `json:"title"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Day is one calendar day of the trip with its ordered entries.
// Number is derived from position and recomputed by the store.
type Day struct {
	DurableID   int64   `json:"durable_id,omitempty"`
	Date        string  `json:"date"`
	Number      int     `json:"number"`
	WindowStart string  `json:"window_start,omitempty"`
	WindowEnd   string  `json:"window_end,omitempty"`
	Entries     []Entry `json:"entries"`
}

// Clone returns a copy of d whose Entries slice is not shared.
func (d Day) Clone() Day {
	out := d
	out.Entries = append([]Entry(nil), d.Entries...)
	return out
}

// IndexOf returns the position of the entry with localID, or -1.
func (d Day) IndexOf(localID string) int {
	for i := range d.Entries {
		if d.Entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// Entry is a time-boxed place block on a day's timeline.
type Entry struct {
	LocalID       string  `json:"local_id"`
	ExternalRefID string  `json:"external_ref_id,omitempty"`
	CategoryID    int     `json:"category_id"`
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	Rating        float64 `json:"rating"`
	ImageURL      string  `json:"image_url,omitempty"`
	Longitude     float64 `json:"longitude"`
	Latitude      float64 `json:"latitude"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	Memo          string  `json:"memo,omitempty"`
}

// StartMinutes returns the start time as minutes since midnight.
func (e Entry) StartMinutes() int { return timeslot.TimeToMinutes(e.StartTime) }

// EndMinutes returns the end time as minutes since midnight.
func (e Entry) EndMinutes() int { return timeslot.TimeToMinutes(e.EndTime) }

// Duration returns the entry length in minutes.
func (e Entry) Duration() int { return e.EndMinutes() - e.StartMinutes() }

// IsTemporary reports whether the entry still carries a client-generated id.
func (e Entry) IsTemporary() bool { return IsTemporaryID(e.LocalID) }

// DurableID returns the server id of the entry, or 0 while it is temporary.
func (e Entry) DurableID() int64 {
	id, _ := ParseDurableID(e.LocalID)
	return id
}

// IsTemporaryID reports whether id is a client-generated token.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// FormatDurableID renders a server id as a LocalID.
func FormatDurableID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseDurableID parses a LocalID holding a server id.
// Returns false for temporary or malformed ids.
func ParseDurableID(s string) (int64, bool) {
	if s == "" || IsTemporaryID(s) {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Member is one connected collaborator.
type Member struct {
	ConnectionID string `json:"uid"`
	DisplayName  string `json:"userNickname"`
}

// Snapshot is the full state of a trip at one point in time: the REST read a
// client starts from, and the base a journal replay is applied on.
type Snapshot struct {
	Plan Plan  `json:"plan"`
	Days []Day `json:"days"`
}
