// Package reconcile merges inbound broadcasts into the entity store.
//
// Events are applied one at a time against the state at arrival, in the
// order the channel delivers them. The listener never rejects an event as
// conflicting: unknown days or entries are dropped and logged, and every
// change that touches time fields goes through the store's reflow.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/trip"
)

// Store is the remote-apply surface of trip.Store.
type Store interface {
	DayByDurableID(id int64) (int, bool)
	Find(localID string) (int, model.Entry, bool)
	HasEntry(localID string) bool
	RebindID(tempID string, durableID int64) bool
	TakeTombstone(tempID string) bool
	MergeRemote(dayIndex int, e model.Entry) bool
	ApplyRemoteUpdate(dayIndex int, e model.Entry, present model.Fields) bool
	RemoveRemote(localID string) bool
	ApplyPlan(p model.Plan)
	AddRemoteDay(d model.Day) bool
	RemoveRemoteDay(durableID int64) bool
}

// Outcome names what an inbound item did to local state.
type Outcome string

const (
	Rebound     Outcome = "rebound"     // own create echoed; temp id rewritten
	Merged      Outcome = "merged"      // another client's create inserted
	Duplicate   Outcome = "duplicate"   // durable id already present
	Reaped      Outcome = "reaped"      // create echo for an entry deleted while in flight
	Updated     Outcome = "updated"     // authoritative fields applied
	Removed     Outcome = "removed"     // entry or day removed
	Absent      Outcome = "absent"      // delete for something not held
	PlanApplied Outcome = "plan"        // plan metadata applied
	DayAdded    Outcome = "day-added"   // timetable created
	Dropped     Outcome = "dropped"     // unknown day or entry
	Ignored     Outcome = "ignored"     // unhandled (action, target)
)

// Result reports one applied payload item.
type Result struct {
	Outcome Outcome
	ID      string
}

// Listener applies inbound envelopes.
type Listener struct {
	store  Store
	sender trip.Sender
	logger *slog.Logger
}

// New creates a listener writing to store. sender is used only to delete
// entries whose create was confirmed after they were deleted locally; it
// may be nil.
func New(store Store, sender trip.Sender, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{store: store, sender: sender, logger: logger}
}

// OnInboundEvent applies env and returns one Result per payload item.
func (l *Listener) OnInboundEvent(ctx context.Context, env model.Envelope) []Result {
	switch env.Entity {
	case model.TargetPlaceBlock:
		switch env.Action {
		case model.ActionCreate:
			return each(env.Blocks, func(b model.BlockDTO) Result { return l.createBlock(ctx, env.EventID, b) })
		case model.ActionUpdate:
			return each(env.Blocks, l.updateBlock)
		case model.ActionDelete:
			return each(env.Blocks, l.deleteBlock)
		}
	case model.TargetTimetable:
		switch env.Action {
		case model.ActionCreate:
			return each(env.Timetables, l.createDay)
		case model.ActionDelete:
			return each(env.Timetables, l.deleteDay)
		}
	case model.TargetPlan:
		if env.Action == model.ActionUpdate {
			return each(env.Plans, l.updatePlan)
		}
	}

	l.logger.Debug("ignoring inbound event", "entity", env.Entity, "action", env.Action)
	return []Result{{Outcome: Ignored}}
}

func (l *Listener) createBlock(ctx context.Context, eventID string, b model.BlockDTO) Result {
	if b.BlockID <= 0 {
		l.logger.Warn("dropping create without block id", "event_id", eventID)
		return Result{Outcome: Dropped}
	}
	durable := model.FormatDurableID(b.BlockID)

	dayIndex, ok := l.store.DayByDurableID(b.TimetableID)
	if !ok {
		l.logger.Info("dropping create for unknown day", "timetable_id", b.TimetableID, "block_id", b.BlockID)
		return Result{Outcome: Dropped, ID: durable}
	}

	if model.IsTemporaryID(eventID) {
		if l.store.RebindID(eventID, b.BlockID) {
			return Result{Outcome: Rebound, ID: durable}
		}
		if l.store.TakeTombstone(eventID) {
			l.reap(ctx, b)
			return Result{Outcome: Reaped, ID: durable}
		}
	}

	if l.store.HasEntry(durable) {
		return Result{Outcome: Duplicate, ID: durable}
	}
	if !l.store.MergeRemote(dayIndex, model.EntryFromDTO(b)) {
		return Result{Outcome: Dropped, ID: durable}
	}
	return Result{Outcome: Merged, ID: durable}
}

// reap deletes an entry the server created after the local user had already
// removed it.
func (l *Listener) reap(ctx context.Context, b model.BlockDTO) {
	l.logger.Info("deleting entry removed before its create was confirmed", "block_id", b.BlockID)
	if l.sender == nil {
		return
	}
	l.sender.Send(ctx, model.PendingMessage{
		Action:  model.ActionDelete,
		Target:  model.TargetPlaceBlock,
		Payload: model.BlockDTO{BlockID: b.BlockID, TimetableID: b.TimetableID},
	})
}

func (l *Listener) updateBlock(b model.BlockDTO) Result {
	durable := model.FormatDurableID(b.BlockID)
	fromDay, _, found := l.store.Find(durable)
	if b.BlockID <= 0 || !found {
		l.logger.Info("dropping update for unknown entry", "block_id", b.BlockID)
		return Result{Outcome: Dropped, ID: durable}
	}

	dayIndex := fromDay
	if b.TimetableID > 0 {
		i, ok := l.store.DayByDurableID(b.TimetableID)
		if !ok {
			l.logger.Info("dropping update for unknown day", "timetable_id", b.TimetableID, "block_id", b.BlockID)
			return Result{Outcome: Dropped, ID: durable}
		}
		dayIndex = i
	}

	if !l.store.ApplyRemoteUpdate(dayIndex, model.EntryFromDTO(b), b.Present) {
		return Result{Outcome: Dropped, ID: durable}
	}
	return Result{Outcome: Updated, ID: durable}
}

func (l *Listener) deleteBlock(b model.BlockDTO) Result {
	durable := model.FormatDurableID(b.BlockID)
	if b.BlockID > 0 && l.store.RemoveRemote(durable) {
		return Result{Outcome: Removed, ID: durable}
	}
	return Result{Outcome: Absent, ID: durable}
}

func (l *Listener) createDay(t model.TimetableDTO) Result {
	id := model.FormatDurableID(t.TimetableID)
	if t.TimetableID <= 0 {
		l.logger.Warn("dropping timetable create without id", "date", t.Date)
		return Result{Outcome: Dropped}
	}
	if !l.store.AddRemoteDay(model.DayFromDTO(t)) {
		return Result{Outcome: Duplicate, ID: id}
	}
	return Result{Outcome: DayAdded, ID: id}
}

func (l *Listener) deleteDay(t model.TimetableDTO) Result {
	id := model.FormatDurableID(t.TimetableID)
	if l.store.RemoveRemoteDay(t.TimetableID) {
		return Result{Outcome: Removed, ID: id}
	}
	return Result{Outcome: Absent, ID: id}
}

func (l *Listener) updatePlan(p model.PlanDTO) Result {
	l.store.ApplyPlan(model.PlanFromDTO(p))
	return Result{Outcome: PlanApplied, ID: model.FormatDurableID(p.PlanID)}
}

func each[T any](items []T, apply func(T) Result) []Result {
	out := make([]Result, 0, len(items))
	for _, item := range items {
		out = append(out, apply(item))
	}
	return out
}
