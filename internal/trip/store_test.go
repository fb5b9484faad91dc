package trip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/scheduler"
)

type recordingSender struct {
	msgs []model.PendingMessage
}

func (r *recordingSender) Send(_ context.Context, msg model.PendingMessage) {
	r.msgs = append(r.msgs, msg)
}

func entry(id, start, end string) model.Entry {
	return model.Entry{LocalID: id, Name: id, StartTime: start, EndTime: end}
}

// setupTestStore loads a two-day trip: day 1 (id 10) holds the given
// entries, day 2 (id 20) is empty.
func setupTestStore(t *testing.T, entries ...model.Entry) (*Store, *recordingSender) {
	t.Helper()
	rec := &recordingSender{}
	s := New(rec, WithIDGenerator(NewFixedIDs("tmp_1", "tmp_2", "tmp_3")))
	s.Load(
		model.Plan{DurableID: 7, Title: "Kyoto"},
		[]model.Day{
			{DurableID: 10, Date: "2026-05-01", Entries: entries},
			{DurableID: 20, Date: "2026-05-02"},
		},
	)
	return s, rec
}

func windows(d model.Day) []string {
	out := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = e.LocalID + " " + e.StartTime + "-" + e.EndTime
	}
	return out
}

func mustDay(t *testing.T, s *Store, i int) model.Day {
	t.Helper()
	d, ok := s.Day(i)
	require.True(t, ok, "day %d", i)
	return d
}

func TestLoad_NumbersDaysAndNormalizes(t *testing.T) {
	s, _ := setupTestStore(t,
		entry("1", "10:00", "11:00"),
		entry("2", "10:30", "11:00"),
	)

	days := s.Days()
	require.Len(t, days, 2)
	assert.Equal(t, 1, days[0].Number)
	assert.Equal(t, 2, days[1].Number)
	assert.Equal(t, []string{"1 10:00-11:00", "2 11:00-11:30"}, windows(days[0]))
	assert.Equal(t, int64(7), s.TripID())
}

func TestAddEntry_EmptyDayGetsDefaultWindow(t *testing.T) {
	s, rec := setupTestStore(t)
	ctx := context.Background()

	got, err := s.AddEntry(ctx, 1, model.Entry{Name: "Ramen"})
	require.NoError(t, err)

	assert.Equal(t, "tmp_1", got.LocalID)
	assert.Equal(t, []string{"tmp_1 12:00-13:00"}, windows(mustDay(t, s, 1)))
	assert.Equal(t, "tmp_1", s.LastAdded())

	require.Len(t, rec.msgs, 1)
	msg := rec.msgs[0]
	assert.Equal(t, model.ActionCreate, msg.Action)
	assert.Equal(t, model.TargetPlaceBlock, msg.Target)
	assert.Equal(t, "tmp_1", msg.CorrelationID)
	dto := msg.Payload.(model.BlockDTO)
	assert.Equal(t, int64(20), dto.TimetableID)
	assert.Zero(t, dto.BlockID)
	assert.Equal(t, "12:00", dto.StartTime)
}

func TestAddEntry_AnchorsNewEntryAndSendsDraft(t *testing.T) {
	s, rec := setupTestStore(t, entry("1", "11:30", "12:30"))

	_, err := s.AddEntry(context.Background(), 0, model.Entry{Name: "Tea"})
	require.NoError(t, err)

	assert.Equal(t, []string{"1 11:00-12:00", "tmp_1 12:00-13:00"}, windows(mustDay(t, s, 0)))
	require.Len(t, rec.msgs, 1)
	dto := rec.msgs[0].Payload.(model.BlockDTO)
	assert.Equal(t, "12:00", dto.StartTime)
	assert.Equal(t, "13:00", dto.EndTime)
}

func TestAddEntry_Errors(t *testing.T) {
	s, rec := setupTestStore(t, entry("1", "23:00", "23:45"))
	ctx := context.Background()

	_, err := s.AddEntry(ctx, 5, model.Entry{})
	assert.ErrorIs(t, err, ErrDayNotFound)

	_, err = s.AddEntry(ctx, 0, model.Entry{StartTime: "10:00", EndTime: "10:10"})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = s.AddEntry(ctx, 0, model.Entry{StartTime: "22:30", EndTime: "23:30"})
	assert.ErrorIs(t, err, scheduler.ErrSpillsPastMidnight)

	assert.Equal(t, []string{"1 23:00-23:45"}, windows(mustDay(t, s, 0)))
	assert.Empty(t, rec.msgs)
	assert.Empty(t, s.LastAdded())
}

func TestDeleteEntry(t *testing.T) {
	s, rec := setupTestStore(t,
		entry("1", "10:00", "11:00"),
		entry("2", "11:00", "12:00"),
	)
	ctx := context.Background()

	require.NoError(t, s.DeleteEntry(ctx, 0, "1"))
	assert.Equal(t, []string{"2 11:00-12:00"}, windows(mustDay(t, s, 0)))

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, model.ActionDelete, rec.msgs[0].Action)
	assert.Equal(t, int64(1), rec.msgs[0].Payload.(model.BlockDTO).BlockID)
	assert.Empty(t, rec.msgs[0].CorrelationID)
}

func TestDeleteEntry_Idempotent(t *testing.T) {
	s, rec := setupTestStore(t, entry("1", "10:00", "11:00"))
	ctx := context.Background()

	before := s.Days()
	require.NoError(t, s.DeleteEntry(ctx, 0, "missing"))
	assert.Equal(t, before, s.Days())
	assert.Empty(t, rec.msgs)

	assert.ErrorIs(t, s.DeleteEntry(ctx, 9, "1"), ErrDayNotFound)
}

func TestDeleteEntry_TemporaryLeavesTombstone(t *testing.T) {
	s, rec := setupTestStore(t)
	ctx := context.Background()

	added, err := s.AddEntry(ctx, 0, model.Entry{})
	require.NoError(t, err)
	require.NoError(t, s.DeleteEntry(ctx, 0, added.LocalID))

	assert.Empty(t, s.LastAdded())
	require.Len(t, rec.msgs, 2)
	assert.Equal(t, added.LocalID, rec.msgs[1].CorrelationID)
	assert.True(t, s.TakeTombstone(added.LocalID))
	assert.False(t, s.TakeTombstone(added.LocalID), "tombstone is consumed")
}

func TestRetimeEntry_PushesLaterEntry(t *testing.T) {
	s, rec := setupTestStore(t,
		entry("A", "10:00", "11:00"),
		entry("B", "11:30", "12:00"),
	)

	require.NoError(t, s.RetimeEntry(context.Background(), 0, "A", "10:30", "12:30"))

	assert.Equal(t, []string{"A 10:30-12:30", "B 12:30-13:00"}, windows(mustDay(t, s, 0)))
	require.Len(t, rec.msgs, 1)
	msg := rec.msgs[0]
	assert.Equal(t, model.ActionUpdate, msg.Action)
	dto := msg.Payload.(model.BlockDTO)
	assert.Equal(t, "10:30", dto.StartTime)
	assert.Equal(t, "12:30", dto.EndTime)
}

func TestRetimeEntry_PreservesDurationOfMovedEntry(t *testing.T) {
	s, _ := setupTestStore(t,
		entry("A", "09:00", "10:00"),
		entry("B", "10:00", "11:45"),
	)

	require.NoError(t, s.RetimeEntry(context.Background(), 0, "A", "09:30", "10:30"))

	_, b, ok := s.Find("B")
	require.True(t, ok)
	assert.Equal(t, "10:30", b.StartTime)
	assert.Equal(t, 105, b.Duration())
}

func TestRetimeEntry_Errors(t *testing.T) {
	s, rec := setupTestStore(t,
		entry("A", "22:00", "23:00"),
		entry("B", "23:00", "23:45"),
	)
	ctx := context.Background()

	assert.ErrorIs(t, s.RetimeEntry(ctx, 0, "A", "11:00", "11:05"), ErrInvalidWindow)
	assert.ErrorIs(t, s.RetimeEntry(ctx, 0, "A", "11:00", "10:00"), ErrInvalidWindow)
	assert.ErrorIs(t, s.RetimeEntry(ctx, 0, "nope", "11:00", "12:00"), ErrEntryNotFound)
	assert.ErrorIs(t, s.RetimeEntry(ctx, 3, "A", "11:00", "12:00"), ErrDayNotFound)
	assert.ErrorIs(t, s.RetimeEntry(ctx, 0, "A", "22:30", "23:30"), scheduler.ErrSpillsPastMidnight)

	assert.Equal(t, []string{"A 22:00-23:00", "B 23:00-23:45"}, windows(mustDay(t, s, 0)))
	assert.Empty(t, rec.msgs)
}

func TestRetimeEntry_TemporaryCarriesCorrelation(t *testing.T) {
	s, rec := setupTestStore(t)
	ctx := context.Background()

	added, err := s.AddEntry(ctx, 0, model.Entry{})
	require.NoError(t, err)
	require.NoError(t, s.RetimeEntry(ctx, 0, added.LocalID, "14:00", "15:00"))

	require.Len(t, rec.msgs, 2)
	assert.Equal(t, added.LocalID, rec.msgs[1].CorrelationID)
}

func TestSetMemo(t *testing.T) {
	s, rec := setupTestStore(t, entry("A", "10:00", "11:00"))
	ctx := context.Background()

	require.NoError(t, s.SetMemo(ctx, 0, "A", "book ahead"))
	_, a, _ := s.Find("A")
	assert.Equal(t, "book ahead", a.Memo)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "book ahead", rec.msgs[0].Payload.(model.BlockDTO).Memo)

	assert.ErrorIs(t, s.SetMemo(ctx, 0, "B", "x"), ErrEntryNotFound)
}

func TestSetMemo_ClearIsSent(t *testing.T) {
	a := entry("A", "10:00", "11:00")
	a.Memo = "book ahead"
	s, rec := setupTestStore(t, a)

	require.NoError(t, s.SetMemo(context.Background(), 0, "A", ""))
	require.Len(t, rec.msgs, 1)

	data, err := rec.msgs[0].Encode()
	require.NoError(t, err)
	env, err := model.DecodeEnvelope(data)
	require.NoError(t, err)
	require.Len(t, env.Blocks, 1)
	assert.True(t, env.Blocks[0].Present.Has(model.FieldMemo), "memo key must be on the wire")
	assert.Empty(t, env.Blocks[0].Memo)
}

func TestRenamePlan(t *testing.T) {
	s, rec := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RenamePlan(ctx, "  Osaka  "))
	assert.Equal(t, "Osaka", s.Plan().Title)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, model.TargetPlan, rec.msgs[0].Target)
	assert.Equal(t, model.PlanDTO{PlanID: 7, Title: "Osaka"}, rec.msgs[0].Payload)

	assert.ErrorIs(t, s.RenamePlan(ctx, " "), ErrEmptyTitle)
}

func TestSubscribe(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	var got []Change
	unsubscribe := s.Subscribe(func(c Change) {
		// Reading from a subscriber must not deadlock.
		_ = s.Days()
		got = append(got, c)
	})

	_, err := s.AddEntry(ctx, 0, model.Entry{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Change{Kind: ChangeEntries, Source: SourceLocal, DayIndex: 0, LocalID: "tmp_1"}, got[0])

	unsubscribe()
	_, err = s.AddEntry(ctx, 1, model.Entry{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDaysReturnsCopies(t *testing.T) {
	s, _ := setupTestStore(t, entry("A", "10:00", "11:00"))

	days := s.Days()
	days[0].Entries[0].StartTime = "00:00"

	assert.Equal(t, "10:00", mustDay(t, s, 0).Entries[0].StartTime)
}

func TestTempIDs(t *testing.T) {
	id := TempIDs{}.NewTempID()
	assert.True(t, model.IsTemporaryID(id))
	assert.NotEqual(t, id, TempIDs{}.NewTempID())
}

func TestFixedIDs_FallsBackWhenExhausted(t *testing.T) {
	g := NewFixedIDs("tmp_a")
	assert.Equal(t, "tmp_a", g.NewTempID())
	assert.Equal(t, "tmp_2", g.NewTempID())
}
