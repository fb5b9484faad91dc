package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tripsync/internal/channel"
	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/presence"
	"github.com/roach88/tripsync/internal/reconcile"
	"github.com/roach88/tripsync/internal/trip"
)

// ErrStopped is returned by Do once the engine has stopped.
var ErrStopped = errors.New("engine stopped")

// Journal is the subset of *journal.Journal the engine writes to.
type Journal interface {
	Append(ctx context.Context, rec journal.Record) error
	SaveSnapshot(ctx context.Context, tripID, seq int64, body []byte) error
}

// Applied describes one event after the Run loop processed it.
type Applied struct {
	Seq     int64
	Type    EventType
	TripID  int64
	Entity  model.Target
	Action  model.Action
	Results []reconcile.Result
	State   channel.State
	Members int
	Err     error
}

// Engine owns the trip store and applies every mutation to it.
//
// Thread-safety model:
//   - Do, Load, OnBroadcast, OnPresence, OnStateChange, RecordOutbound: safe
//     from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	store    *trip.Store
	listener *reconcile.Listener
	presence *presence.Tracker
	journal  Journal
	clock    *Clock
	queue    *eventQueue
	logger   *slog.Logger
	observer func(Applied)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the logical clock, e.g. NewClockAt(journal.LastSeq).
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithJournal records every inbound and outbound envelope to j.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithObserver registers fn to be called on the Run goroutine after each
// event is applied.
func WithObserver(fn func(Applied)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// New creates an engine applying inbound events through listener to store.
// tracker may be nil.
func New(store *trip.Store, listener *reconcile.Listener, tracker *presence.Tracker, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		listener: listener,
		presence: tracker,
		clock:    NewClock(),
		queue:    newEventQueue(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the trip store. Reads are safe from any goroutine; writes
// must go through Do.
func (e *Engine) Store() *trip.Store {
	return e.store
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of events waiting to be applied.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Enqueue submits ev for processing. Returns false if the engine stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Do runs cmd on the engine goroutine and returns its error. It blocks
// until cmd ran, ctx is done or the engine stopped.
func (e *Engine) Do(ctx context.Context, cmd Command) error {
	done := make(chan error, 1)
	if !e.queue.Enqueue(Event{Type: EventTypeCommand, Command: cmd, done: done}) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load replaces the store's state with snap, starts tracking presence for
// its trip and, with a journal, records snap as the base for replay.
func (e *Engine) Load(ctx context.Context, snap model.Snapshot) error {
	return e.Do(ctx, func(ctx context.Context, s *trip.Store) error {
		s.Load(snap.Plan, snap.Days)
		if e.presence != nil {
			e.presence.Watch(snap.Plan.DurableID)
		}
		if e.journal == nil {
			return nil
		}
		body, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := e.journal.SaveSnapshot(ctx, snap.Plan.DurableID, e.clock.Next(), body); err != nil {
			return fmt.Errorf("journal snapshot: %w", err)
		}
		return nil
	})
}

// Run is the single-writer event loop.
// Blocks until ctx is cancelled (returns ctx.Err()) or Stop is called and
// the queue is empty (returns nil).
//
// ERROR HANDLING: a failing event is logged with its context and processing
// continues with the next one.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")
	defer e.abandon()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			// The signal channel is closed by Stop and then fires forever.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued events are applied.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

// abandon fails commands left in the queue after Run returned.
func (e *Engine) abandon() {
	e.queue.Close()
	for _, ev := range e.queue.Drain() {
		if ev.done != nil {
			ev.done <- ErrStopped
		}
	}
}

// OnBroadcast implements channel.Handler.
func (e *Engine) OnBroadcast(tripID int64, body []byte) {
	env, err := model.DecodeEnvelope(body)
	if err != nil {
		e.logger.Warn("dropping undecodable broadcast", "trip_id", tripID, "error", err)
		return
	}
	raw := append([]byte(nil), body...)
	e.queue.Enqueue(Event{Type: EventTypeBroadcast, TripID: tripID, Envelope: env, Raw: raw})
}

// OnPresence implements channel.Handler.
func (e *Engine) OnPresence(tripID int64, body []byte) {
	pb, err := model.DecodePresence(body)
	if err != nil {
		e.logger.Warn("dropping undecodable presence", "trip_id", tripID, "error", err)
		return
	}
	e.queue.Enqueue(Event{Type: EventTypePresence, TripID: tripID, Presence: pb})
}

// OnStateChange implements channel.Handler.
func (e *Engine) OnStateChange(tripID int64, s channel.State) {
	e.queue.Enqueue(Event{Type: EventTypeState, TripID: tripID, State: s})
}

// RecordOutbound journals an envelope handed to the channel. It matches the
// outbox sent hook and may be called from any goroutine.
func (e *Engine) RecordOutbound(env model.Envelope, data []byte) {
	if e.journal == nil {
		return
	}
	rec := journal.NewRecord(e.store.TripID(), e.clock.Next(), journal.Outbound, env, data)
	if err := e.journal.Append(context.Background(), rec); err != nil {
		e.logger.Error("journal outbound envelope failed",
			"error", err,
			"trip_id", rec.TripID,
			"entity", rec.Entity,
			"action", rec.Action,
			"seq", rec.Seq,
		)
	}
}

// process applies one event. Called only from Run.
func (e *Engine) process(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventTypeCommand:
		err := ev.Command(ctx, e.store)
		seq := e.clock.Next()
		if err != nil {
			e.logger.Debug("command failed", "seq", seq, "error", err)
		}
		if ev.done != nil {
			ev.done <- err
		}
		e.observe(Applied{Seq: seq, Type: ev.Type, TripID: e.store.TripID(), Err: err})

	case EventTypeBroadcast:
		if ev.TripID != e.store.TripID() {
			e.logger.Debug("dropping broadcast for another trip",
				"trip_id", ev.TripID,
				"open_trip_id", e.store.TripID(),
			)
			return
		}
		seq := e.clock.Next()
		e.journalInbound(ctx, seq, ev)
		results := e.listener.OnInboundEvent(ctx, ev.Envelope)
		e.observe(Applied{
			Seq:     seq,
			Type:    ev.Type,
			TripID:  ev.TripID,
			Entity:  ev.Envelope.Entity,
			Action:  ev.Envelope.Action,
			Results: results,
		})

	case EventTypePresence:
		if e.presence == nil || !e.presence.Replace(ev.TripID, ev.Presence) {
			return
		}
		e.observe(Applied{
			Seq:     e.clock.Next(),
			Type:    ev.Type,
			TripID:  ev.TripID,
			Action:  ev.Presence.Action,
			Members: e.presence.Len(),
		})

	case EventTypeState:
		e.logger.Info("channel state changed", "trip_id", ev.TripID, "state", ev.State)
		e.observe(Applied{Seq: e.clock.Next(), Type: ev.Type, TripID: ev.TripID, State: ev.State})

	default:
		e.logger.Error("event processing failed",
			"error", fmt.Errorf("unknown event type: %d", ev.Type),
			"trip_id", ev.TripID,
		)
	}
}

func (e *Engine) journalInbound(ctx context.Context, seq int64, ev Event) {
	if e.journal == nil {
		return
	}
	rec := journal.NewRecord(ev.TripID, seq, journal.Inbound, ev.Envelope, ev.Raw)
	if err := e.journal.Append(ctx, rec); err != nil {
		e.logger.Error("journal inbound envelope failed",
			"error", err,
			"trip_id", ev.TripID,
			"entity", ev.Envelope.Entity,
			"action", ev.Envelope.Action,
			"seq", seq,
		)
	}
}

func (e *Engine) observe(a Applied) {
	if e.observer != nil {
		e.observer(a)
	}
}
