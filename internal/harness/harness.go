package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tripsync/internal/debounce"
	"github.com/roach88/tripsync/internal/engine"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/outbox"
	"github.com/roach88/tripsync/internal/presence"
	"github.com/roach88/tripsync/internal/reconcile"
	"github.com/roach88/tripsync/internal/testutil"
	"github.com/roach88/tripsync/internal/trip"
)

// Harness is the client under test for one scenario.
type Harness struct {
	tripID   int64
	engine   *engine.Engine
	store    *trip.Store
	outbox   *outbox.Dispatcher
	link     *testutil.FakeLink
	tracker  *presence.Tracker
	clock    *testutil.ManualClock
	memos    *debounce.Debouncer
	gestures *debounce.Debouncer

	mu    sync.Mutex
	trace []TraceEvent
}

func newHarness(s *Scenario, logger *slog.Logger) *Harness {
	h := &Harness{
		tripID:  s.Trip.ID,
		link:    testutil.NewFakeLink(!s.Offline),
		tracker: presence.New(),
		clock:   testutil.NewManualClock(time.Unix(0, 0).UTC()),
	}
	h.memos = debounce.New(debounce.MemoDelay, h.clock)
	h.gestures = debounce.New(debounce.GestureDelay, h.clock)

	h.outbox = outbox.New(outbox.WithLogger(logger), outbox.WithSentHook(h.onSent))
	h.outbox.Attach(h.link)
	h.store = trip.New(h.outbox,
		trip.WithIDGenerator(trip.NewFixedIDs(s.TempIDs...)),
		trip.WithLogger(logger),
	)
	listener := reconcile.New(h.store, h.outbox, logger)
	h.engine = engine.New(h.store, listener, h.tracker,
		engine.WithLogger(logger),
		engine.WithObserver(h.onApplied),
	)
	return h
}

// Run executes a scenario on a fresh client and evaluates its assertions.
// The error is non-nil only if the scenario itself cannot be executed;
// failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
	errc := make(chan error, 1)
	go func() { errc <- h.engine.Run(ctx) }()
	defer func() {
		h.engine.Stop()
		<-errc
	}()

	if err := h.engine.Load(ctx, scenario.Trip.snapshot()); err != nil {
		return nil, fmt.Errorf("load trip: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	h.memos.Stop()
	h.gestures.Stop()

	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()
	for _, d := range h.store.Days() {
		result.Days = append(result.Days, summarize(d))
	}
	result.Queued = h.outbox.Len()
	result.Members = h.tracker.Len()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, index int, st Step, result *Result) error {
	var err error
	switch {
	case st.Add != nil:
		a := st.Add
		var added model.Entry
		var idx int
		idx, err = h.local(ctx, "add", "", func(ctx context.Context, s *trip.Store) error {
			var err error
			added, err = s.AddEntry(ctx, a.Day, model.Entry{
				Name:       a.Name,
				CategoryID: a.Category,
				StartTime:  a.Start,
				EndTime:    a.End,
			})
			return err
		})
		if err == nil {
			h.update(idx, func(ev *TraceEvent) { ev.ID = added.LocalID })
		}

	case st.Retime != nil:
		r := *st.Retime
		retime := func() error {
			_, err := h.local(ctx, "retime", r.ID, func(ctx context.Context, s *trip.Store) error {
				return s.RetimeEntry(ctx, r.Day, r.ID, r.Start, r.End)
			})
			return err
		}
		if r.Gesture {
			h.gestures.Trigger(r.ID, func() { _ = retime() })
			return nil
		}
		err = retime()

	case st.Release != "":
		h.gestures.Flush(st.Release)
		return nil

	case st.Delete != nil:
		d := *st.Delete
		_, err = h.local(ctx, "delete", d.ID, func(ctx context.Context, s *trip.Store) error {
			return s.DeleteEntry(ctx, d.Day, d.ID)
		})

	case st.Memo != nil:
		m := *st.Memo
		h.memos.Trigger(m.ID, func() {
			_, _ = h.local(ctx, "memo", m.ID, func(ctx context.Context, s *trip.Store) error {
				return s.SetMemo(ctx, m.Day, m.ID, m.Text)
			})
		})
		return nil

	case st.Rename != "":
		title := st.Rename
		_, err = h.local(ctx, "rename", "", func(ctx context.Context, s *trip.Store) error {
			return s.RenamePlan(ctx, title)
		})

	case st.Inbound != "":
		h.engine.OnBroadcast(h.tripID, []byte(st.Inbound))
		return h.sync(ctx)

	case st.Echo != nil:
		body, err := h.echo(*st.Echo)
		if err != nil {
			return err
		}
		h.engine.OnBroadcast(h.tripID, body)
		return h.sync(ctx)

	case st.Presence != "":
		h.engine.OnPresence(h.tripID, []byte(st.Presence))
		return h.sync(ctx)

	case st.Connectivity == "offline":
		h.link.SetConnected(false)
		h.record(TraceEvent{Type: EventState, Op: "offline"})
		return nil

	case st.Connectivity == "online":
		h.link.SetConnected(true)
		h.record(TraceEvent{Type: EventState, Op: "online"})
		h.outbox.Flush(ctx)
		return nil

	case st.Advance != "":
		d, perr := time.ParseDuration(st.Advance)
		if perr != nil {
			return perr
		}
		h.clock.Advance(d)
		return nil
	}

	checkExpectedError(index, st.ExpectError, err, result)
	return nil
}

func checkExpectedError(index int, want string, err error, result *Result) {
	switch {
	case want == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d]: unexpected error: %v", index, err))
	case want != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got none", index, want))
	case want != "" && !strings.Contains(err.Error(), want):
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got %v", index, want, err))
	}
}

// local records a local step and runs cmd on the engine. The trace entry is
// written before cmd runs so it precedes the envelopes cmd sends.
func (h *Harness) local(ctx context.Context, op, id string, cmd engine.Command) (int, error) {
	idx := h.record(TraceEvent{Type: EventLocal, Op: op, ID: id})
	err := h.engine.Do(ctx, cmd)
	if err != nil {
		h.update(idx, func(ev *TraceEvent) { ev.Error = err.Error() })
	}
	return idx, err
}

// sync returns once every event enqueued so far has been applied.
func (h *Harness) sync(ctx context.Context) error {
	return h.engine.Do(ctx, func(context.Context, *trip.Store) error { return nil })
}

// echo builds the server's broadcast of the published create for eventID.
func (h *Harness) echo(e EchoStep) ([]byte, error) {
	envs := h.link.Envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		env := envs[i]
		if env.Action != model.ActionCreate || env.EventID != e.Event || len(env.Blocks) == 0 {
			continue
		}
		env.Blocks = append([]model.BlockDTO(nil), env.Blocks...)
		env.Blocks[0].BlockID = e.Block
		return json.Marshal(env)
	}
	return nil, fmt.Errorf("echo: no published create with eventId %q", e.Event)
}

func (h *Harness) record(ev TraceEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, ev)
	return len(h.trace) - 1
}

func (h *Harness) update(idx int, fn func(*TraceEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.trace[idx])
}

func (h *Harness) onSent(env model.Envelope, _ []byte) {
	h.record(TraceEvent{
		Type:    EventOutbound,
		Entity:  string(env.Entity),
		Action:  string(env.Action),
		EventID: env.EventID,
		Items:   envelopeItems(env),
	})
}

func (h *Harness) onApplied(a engine.Applied) {
	switch a.Type {
	case engine.EventTypeBroadcast:
		items := make([]string, 0, len(a.Results))
		for _, r := range a.Results {
			items = append(items, strings.TrimSpace(string(r.Outcome)+" "+r.ID))
		}
		h.record(TraceEvent{Type: EventInbound, Entity: string(a.Entity), Action: string(a.Action), Items: items})
	case engine.EventTypePresence:
		h.record(TraceEvent{Type: EventPresence, Op: string(a.Action), Members: a.Members})
	}
}

func envelopeItems(env model.Envelope) []string {
	var items []string
	for _, b := range env.Blocks {
		item := fmt.Sprintf("%d/%d %s-%s", b.TimetableID, b.BlockID, b.StartTime, b.EndTime)
		if b.Memo != "" {
			item += " memo=" + b.Memo
		}
		items = append(items, item)
	}
	for _, t := range env.Timetables {
		items = append(items, t.Date)
	}
	for _, p := range env.Plans {
		items = append(items, p.Title)
	}
	return items
}

// summarize renders a day's entries as "id start-end".
func summarize(d model.Day) []string {
	out := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, fmt.Sprintf("%s %s-%s", e.LocalID, e.StartTime, e.EndTime))
	}
	return out
}

func (f TripFixture) snapshot() model.Snapshot {
	snap := model.Snapshot{
		Plan: model.Plan{DurableID: f.ID, Title: f.Title},
		Days: make([]model.Day, 0, len(f.Days)),
	}
	for _, d := range f.Days {
		day := model.Day{DurableID: d.ID, Date: d.Date, Entries: []model.Entry{}}
		for _, e := range d.Entries {
			day.Entries = append(day.Entries, model.Entry{
				LocalID:    e.ID,
				Name:       e.Name,
				CategoryID: e.Category,
				StartTime:  e.Start,
				EndTime:    e.End,
				Memo:       e.Memo,
			})
		}
		snap.Days = append(snap.Days, day)
	}
	return snap
}
