// Package trip holds the in-memory state of one open trip and is its single
// writer.
//
// Local edits (AddEntry, DeleteEntry, RetimeEntry, SetMemo, RenamePlan)
// update state, re-run the scheduler and hand a model.PendingMessage to the
// injected Sender. The remote-apply surface (remote.go) is used by the
// reconciliation listener and never emits messages.
//
// INVARIANTS:
//   - Every day's entries are sorted by start time and non-overlapping after
//     any exported method returns.
//   - Day numbers are 1-based and follow slice position.
//   - A temporary id is rewritten to a durable id at most once.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/scheduler"
	"github.com/roach88/tripsync/internal/timeslot"
)

// Default window for a newly added entry.
const (
	DefaultStart = "12:00"
	DefaultEnd   = "13:00"
)

var (
	ErrDayNotFound   = errors.New("day not found")
	ErrEntryNotFound = errors.New("entry not found")
	ErrInvalidWindow = errors.New("invalid time window")
	ErrEmptyTitle    = errors.New("plan title is empty")
)

// Sender receives every outbound mutation. Implemented by outbox.Dispatcher.
type Sender interface {
	Send(ctx context.Context, msg model.PendingMessage)
}

// Store is the entity store for one trip.
//
// Methods are safe to call from multiple goroutines, but the engine is the
// only writer in production. Subscribers are notified after the lock is
// released, so they may read from the store.
type Store struct {
	mu         sync.RWMutex
	plan       model.Plan
	days       []model.Day
	lastAdded  string
	tombstones map[string]struct{}

	sender Sender
	ids    IDGenerator
	logger *slog.Logger

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator overrides the temporary id generator (default TempIDs).
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) { s.ids = g }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store sending mutations to sender.
func New(sender Sender, opts ...StoreOption) *Store {
	s := &Store{
		sender:     sender,
		ids:        TempIDs{},
		logger:     slog.Default(),
		tombstones: make(map[string]struct{}),
		subs:       make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the whole trip state, typically with a fetched snapshot.
// Days keep the given order; each day is re-normalized with the no-anchor
// pass.
func (s *Store) Load(plan model.Plan, days []model.Day) {
	s.mu.Lock()
	s.plan = plan
	s.days = make([]model.Day, len(days))
	for i, d := range days {
		d = d.Clone()
		d.Entries = scheduler.Resolve(d.Entries, "")
		s.days[i] = d
	}
	renumber(s.days)
	s.lastAdded = ""
	s.tombstones = make(map[string]struct{})
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLoaded, Source: SourceRemote, DayIndex: -1})
}

// AddEntry inserts draft into the day at dayIndex under a fresh temporary id.
//
// A draft without a window gets DefaultStart-DefaultEnd. The new entry is the
// anchor for reflow; the create message carries the entry as drafted.
func (s *Store) AddEntry(ctx context.Context, dayIndex int, draft model.Entry) (model.Entry, error) {
	if draft.StartTime == "" || draft.EndTime == "" {
		draft.StartTime, draft.EndTime = DefaultStart, DefaultEnd
	}
	if !timeslot.WithinDay(draft.StartMinutes(), draft.EndMinutes()) {
		return model.Entry{}, fmt.Errorf("add entry %s-%s: %w", draft.StartTime, draft.EndTime, ErrInvalidWindow)
	}

	s.mu.Lock()
	if dayIndex < 0 || dayIndex >= len(s.days) {
		s.mu.Unlock()
		return model.Entry{}, fmt.Errorf("add entry to day %d: %w", dayIndex, ErrDayNotFound)
	}
	draft.LocalID = s.ids.NewTempID()
	day := &s.days[dayIndex]
	resolved, err := scheduler.ResolveWithinDay(append(append([]model.Entry(nil), day.Entries...), draft), draft.LocalID)
	if err != nil {
		s.mu.Unlock()
		return model.Entry{}, fmt.Errorf("add entry to day %d: %w", day.Number, err)
	}
	day.Entries = resolved
	s.lastAdded = draft.LocalID
	dayID := day.DurableID
	s.mu.Unlock()

	s.send(ctx, model.PendingMessage{
		Action:        model.ActionCreate,
		Target:        model.TargetPlaceBlock,
		Payload:       draft.DTO(dayID),
		CorrelationID: draft.LocalID,
	})
	s.notify(Change{Kind: ChangeEntries, Source: SourceLocal, DayIndex: dayIndex, LocalID: draft.LocalID})
	return draft, nil
}

// DeleteEntry removes an entry without reflowing the rest of the day.
// Deleting an absent id is a no-op and sends nothing.
func (s *Store) DeleteEntry(ctx context.Context, dayIndex int, localID string) error {
	s.mu.Lock()
	if dayIndex < 0 || dayIndex >= len(s.days) {
		s.mu.Unlock()
		return fmt.Errorf("delete entry from day %d: %w", dayIndex, ErrDayNotFound)
	}
	day := &s.days[dayIndex]
	i := day.IndexOf(localID)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := day.Entries[i]
	day.Entries = append(day.Entries[:i:i], day.Entries[i+1:]...)
	if removed.IsTemporary() {
		// The create may still be in flight; its echo must not resurrect it.
		s.tombstones[localID] = struct{}{}
	}
	if s.lastAdded == localID {
		s.lastAdded = ""
	}
	dayID := day.DurableID
	s.mu.Unlock()

	s.send(ctx, model.PendingMessage{
		Action:        model.ActionDelete,
		Target:        model.TargetPlaceBlock,
		Payload:       removed.DTO(dayID),
		CorrelationID: correlation(localID),
	})
	s.notify(Change{Kind: ChangeEntries, Source: SourceLocal, DayIndex: dayIndex, LocalID: localID})
	return nil
}

// RetimeEntry sets an entry's window and reflows the day around it. The
// update message carries the final window.
func (s *Store) RetimeEntry(ctx context.Context, dayIndex int, localID, start, end string) error {
	if !timeslot.WithinDay(timeslot.TimeToMinutes(start), timeslot.TimeToMinutes(end)) {
		return fmt.Errorf("retime %s to %s-%s: %w", localID, start, end, ErrInvalidWindow)
	}

	s.mu.Lock()
	day, i, err := s.locate(dayIndex, localID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("retime %s: %w", localID, err)
	}
	entries := append([]model.Entry(nil), day.Entries...)
	entries[i].StartTime, entries[i].EndTime = start, end
	resolved, err := scheduler.ResolveWithinDay(entries, localID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("retime %s: %w", localID, err)
	}
	day.Entries = resolved
	updated := day.Entries[day.IndexOf(localID)]
	dayID := day.DurableID
	s.mu.Unlock()

	s.send(ctx, model.PendingMessage{
		Action:        model.ActionUpdate,
		Target:        model.TargetPlaceBlock,
		Payload:       updated.DTO(dayID),
		CorrelationID: correlation(localID),
	})
	s.notify(Change{Kind: ChangeEntries, Source: SourceLocal, DayIndex: dayIndex, LocalID: localID})
	return nil
}

// SetMemo replaces an entry's memo. Times are untouched, so no reflow.
func (s *Store) SetMemo(ctx context.Context, dayIndex int, localID, memo string) error {
	s.mu.Lock()
	day, i, err := s.locate(dayIndex, localID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set memo on %s: %w", localID, err)
	}
	day.Entries[i].Memo = memo
	updated := day.Entries[i]
	dayID := day.DurableID
	s.mu.Unlock()

	s.send(ctx, model.PendingMessage{
		Action:        model.ActionUpdate,
		Target:        model.TargetPlaceBlock,
		Payload:       updated.DTO(dayID),
		CorrelationID: correlation(localID),
	})
	s.notify(Change{Kind: ChangeEntries, Source: SourceLocal, DayIndex: dayIndex, LocalID: localID})
	return nil
}

// RenamePlan changes the trip title.
func (s *Store) RenamePlan(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	s.plan.Title = title
	plan := s.plan
	s.mu.Unlock()

	s.send(ctx, model.PendingMessage{
		Action:  model.ActionUpdate,
		Target:  model.TargetPlan,
		Payload: plan.DTO(),
	})
	s.notify(Change{Kind: ChangePlan, Source: SourceLocal, DayIndex: -1})
	return nil
}

// locate must be called with s.mu held.
func (s *Store) locate(dayIndex int, localID string) (*model.Day, int, error) {
	if dayIndex < 0 || dayIndex >= len(s.days) {
		return nil, -1, fmt.Errorf("day %d: %w", dayIndex, ErrDayNotFound)
	}
	day := &s.days[dayIndex]
	i := day.IndexOf(localID)
	if i < 0 {
		return nil, -1, ErrEntryNotFound
	}
	return day, i, nil
}

func (s *Store) send(ctx context.Context, msg model.PendingMessage) {
	if s.sender == nil {
		return
	}
	s.sender.Send(ctx, msg)
}

// correlation returns the id to carry as eventId: only temporary ids need
// correlating with a later server echo.
func correlation(localID string) string {
	if model.IsTemporaryID(localID) {
		return localID
	}
	return ""
}

func renumber(days []model.Day) {
	for i := range days {
		days[i].Number = i + 1
	}
}
