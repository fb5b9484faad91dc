package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripsync/internal/channel"
	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/outbox"
	"github.com/roach88/tripsync/internal/presence"
	"github.com/roach88/tripsync/internal/reconcile"
	"github.com/roach88/tripsync/internal/testutil"
	"github.com/roach88/tripsync/internal/trip"
)

type fixture struct {
	engine  *Engine
	link    *testutil.FakeLink
	tracker *presence.Tracker

	mu      sync.Mutex
	applied []Applied
}

func kyoto() model.Snapshot {
	return model.Snapshot{
		Plan: model.Plan{DurableID: 7, Title: "Kyoto"},
		Days: []model.Day{{
			DurableID: 10,
			Date:      "2026-05-01",
			Entries:   []model.Entry{{LocalID: "101", Name: "Kinkaku-ji", StartTime: "09:00", EndTime: "10:00"}},
		}},
	}
}

func blockCreate(eventID string, blockID int64, name, start, end string) []byte {
	return []byte(fmt.Sprintf(`{"entity":"timetableplaceblock","action":"create","eventId":%q,`+
		`"timetablePlaceBlockDtos":[{"timetablePlaceBlockId":%d,"timetableId":10,"placeName":%q,`+
		`"placeCategoryId":0,"startTime":%q,"endTime":%q}]}`, eventID, blockID, name, start, end))
}

// newFixture starts an engine over a loaded Kyoto trip with a connected
// fake link.
func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{link: testutil.NewFakeLink(true), tracker: presence.New()}

	out := outbox.New(outbox.WithSentHook(func(env model.Envelope, data []byte) {
		f.engine.RecordOutbound(env, data)
	}))
	out.Attach(f.link)
	store := trip.New(out, trip.WithIDGenerator(trip.NewFixedIDs("tmp_1", "tmp_2")))
	listener := reconcile.New(store, out, nil)

	opts = append(opts, WithObserver(func(a Applied) {
		f.mu.Lock()
		f.applied = append(f.applied, a)
		f.mu.Unlock()
	}))
	f.engine = New(store, listener, f.tracker, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	require.NoError(t, f.engine.Load(context.Background(), kyoto()))
	return f
}

// sync waits until everything enqueued so far has been applied.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Do(context.Background(), func(context.Context, *trip.Store) error { return nil }))
}

func (f *fixture) ofType(typ EventType) []Applied {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Applied
	for _, a := range f.applied {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (f *fixture) addLunch(t *testing.T) model.Entry {
	t.Helper()
	var added model.Entry
	err := f.engine.Do(context.Background(), func(ctx context.Context, s *trip.Store) error {
		var err error
		added, err = s.AddEntry(ctx, 0, model.Entry{Name: "Lunch"})
		return err
	})
	require.NoError(t, err)
	return added
}

// summary renders a trip as "day: id start-end" lines.
func summary(days []model.Day) []string {
	var out []string
	for _, d := range days {
		for _, e := range d.Entries {
			out = append(out, fmt.Sprintf("%d: %s %s-%s", d.Number, e.LocalID, e.StartTime, e.EndTime))
		}
	}
	return out
}

func TestDo_RunsCommandAndPublishes(t *testing.T) {
	f := newFixture(t)

	added := f.addLunch(t)
	assert.Equal(t, "tmp_1", added.LocalID)

	_, e, ok := f.engine.Store().Find("tmp_1")
	require.True(t, ok)
	assert.Equal(t, "12:00", e.StartTime)

	envs := f.link.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, model.ActionCreate, envs[0].Action)
	assert.Equal(t, "tmp_1", envs[0].EventID)
}

func TestDo_ReturnsCommandError(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Do(context.Background(), func(ctx context.Context, s *trip.Store) error {
		return s.RetimeEntry(ctx, 5, "101", "10:00", "11:00")
	})
	assert.ErrorIs(t, err, trip.ErrDayNotFound)

	commands := f.ofType(EventTypeCommand)
	require.NotEmpty(t, commands)
	assert.ErrorIs(t, commands[len(commands)-1].Err, trip.ErrDayNotFound)
}

func TestBroadcast_EchoRebindsTemporaryID(t *testing.T) {
	f := newFixture(t)
	f.addLunch(t)

	f.engine.OnBroadcast(7, blockCreate("tmp_1", 555, "Lunch", "12:00", "13:00"))
	f.sync(t)

	_, _, ok := f.engine.Store().Find("tmp_1")
	assert.False(t, ok)
	_, _, ok = f.engine.Store().Find("555")
	assert.True(t, ok)

	broadcasts := f.ofType(EventTypeBroadcast)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, model.TargetPlaceBlock, broadcasts[0].Entity)
	assert.Equal(t, []reconcile.Result{{Outcome: reconcile.Rebound, ID: "555"}}, broadcasts[0].Results)
}

func TestBroadcast_RemoteCreateReflows(t *testing.T) {
	f := newFixture(t)

	f.engine.OnBroadcast(7, blockCreate("", 556, "Ryoan-ji", "09:30", "10:30"))
	f.sync(t)

	assert.Equal(t, []string{
		"1: 101 09:00-10:00",
		"1: 556 10:00-11:00",
	}, summary(f.engine.Store().Days()))
}

func TestBroadcast_DroppedBeforeApply(t *testing.T) {
	tests := []struct {
		name   string
		tripID int64
		body   string
	}{
		{"other trip", 8, string(blockCreate("", 556, "Ryoan-ji", "09:30", "10:30"))},
		{"undecodable", 7, `{"entity":`},
		{"missing entity", 7, `{"action":"create"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			f.engine.OnBroadcast(tt.tripID, []byte(tt.body))
			f.sync(t)

			assert.Empty(t, f.ofType(EventTypeBroadcast))
			assert.Equal(t, []string{"1: 101 09:00-10:00"}, summary(f.engine.Store().Days()))
		})
	}
}

func TestPresence_ReplacesMembers(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"action":"join","uid":"c2","userNickname":"Jun",` +
		`"users":[{"uid":"c1","userNickname":"Mina"},{"uid":"c2","userNickname":"Jun"}]}`)

	f.engine.OnPresence(8, body)
	f.engine.OnPresence(7, body)
	f.engine.OnPresence(7, []byte(`not json`))
	f.sync(t)

	assert.Equal(t, 2, f.tracker.Len())
	updates := f.ofType(EventTypePresence)
	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].Members)
	assert.Equal(t, model.Action("join"), updates[0].Action)
}

func TestStateChange_Observed(t *testing.T) {
	f := newFixture(t)

	f.engine.OnStateChange(7, channel.Connecting)
	f.engine.OnStateChange(7, channel.Connected)
	f.sync(t)

	states := f.ofType(EventTypeState)
	require.Len(t, states, 2)
	assert.Equal(t, channel.Connecting, states[0].State)
	assert.Equal(t, channel.Connected, states[1].State)
	assert.Less(t, states[0].Seq, states[1].Seq)
}

func TestStop_AppliesQueuedEventsThenReturns(t *testing.T) {
	var applied []Applied
	e := New(trip.New(nil), nil, nil, WithObserver(func(a Applied) { applied = append(applied, a) }))

	e.OnStateChange(0, channel.Connecting)
	e.OnStateChange(0, channel.Connected)
	e.Stop()

	require.NoError(t, e.Run(context.Background()))
	assert.Len(t, applied, 2)
	assert.ErrorIs(t, e.Do(context.Background(), func(context.Context, *trip.Store) error { return nil }), ErrStopped)
}

func TestRun_CancelledContext(t *testing.T) {
	e := New(trip.New(nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, e.Run(ctx), context.Canceled)
	assert.False(t, e.Enqueue(Event{Type: EventTypeState}), "queue closed after Run returns")
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordsBothDirections(t *testing.T) {
	j := openJournal(t)
	f := newFixture(t, WithJournal(j))
	ctx := context.Background()

	f.addLunch(t)
	f.engine.OnBroadcast(7, blockCreate("tmp_1", 555, "Lunch", "12:00", "13:00"))
	f.sync(t)

	records, err := j.ReadTrip(ctx, 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, journal.Outbound, records[0].Direction)
	assert.Equal(t, journal.Inbound, records[1].Direction)
	for _, rec := range records {
		assert.Equal(t, model.ActionCreate, rec.Action)
		assert.Equal(t, "tmp_1", rec.EventID)
	}
	assert.Less(t, records[0].Seq, records[1].Seq)

	seq, body, found, err := j.LoadSnapshot(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Less(t, seq, records[0].Seq)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "Kyoto", snap.Plan.Title)
}

func TestReplay_MatchesLiveState(t *testing.T) {
	j := openJournal(t)
	f := newFixture(t, WithJournal(j))
	ctx := context.Background()

	f.addLunch(t)
	f.engine.OnBroadcast(7, blockCreate("tmp_1", 555, "Lunch", "12:00", "13:00"))
	f.engine.OnBroadcast(7, blockCreate("", 556, "Ryoan-ji", "09:30", "10:30"))
	f.sync(t)

	_, body, _, err := j.LoadSnapshot(ctx, 7)
	require.NoError(t, err)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	records, err := j.ReadTrip(ctx, 7)
	require.NoError(t, err)

	replayed, applied, err := Replay(ctx, snap, records, nil)
	require.NoError(t, err)

	assert.Len(t, applied, 2, "only inbound records are applied")
	assert.Equal(t, summary(f.engine.Store().Days()), summary(replayed.Days()))
	assert.Equal(t, []string{
		"1: 101 09:00-10:00",
		"1: 556 10:00-11:00",
		"1: 555 12:00-13:00",
	}, summary(replayed.Days()))
}

func TestReplay_Errors(t *testing.T) {
	ctx := context.Background()
	rec := func(seq int64, body string) journal.Record {
		return journal.Record{TripID: 7, Seq: seq, Direction: journal.Inbound, Body: []byte(body)}
	}

	_, _, err := Replay(ctx, kyoto(), []journal.Record{rec(2, `{}`), rec(1, `{}`)}, nil)
	assert.Error(t, err, "out of order")

	store, applied, err := Replay(ctx, kyoto(), []journal.Record{
		rec(1, `garbage`),
		{TripID: 8, Seq: 2, Direction: journal.Inbound, Body: blockCreate("", 556, "Ryoan-ji", "09:30", "10:30")},
		rec(3, string(blockCreate("", 557, "Ginkaku-ji", "14:00", "15:00"))),
	}, nil)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Error(t, applied[0].Err)
	assert.Equal(t, []reconcile.Result{{Outcome: reconcile.Merged, ID: "557"}}, applied[1].Results)
	assert.Equal(t, []string{"1: 101 09:00-10:00", "1: 557 14:00-15:00"}, summary(store.Days()))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = Replay(cancelled, kyoto(), []journal.Record{rec(1, `{}`)}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
