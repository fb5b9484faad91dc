package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tripsync/internal/debounce"
	"github.com/roach88/tripsync/internal/testutil"
)

func TestTrigger_OnlyLastActionRuns(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	d := debounce.New(debounce.MemoDelay, clock)

	var got []string
	for _, memo := range []string{"b", "bo", "boo", "book"} {
		d.Trigger("memo:42", func() { got = append(got, memo) })
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, got, "still inside the quiet period")

	clock.Advance(debounce.MemoDelay)
	assert.Equal(t, []string{"book"}, got)
	assert.Zero(t, d.Pending())
}

func TestTrigger_KeysAreIndependent(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	d := debounce.New(debounce.GestureDelay, clock)

	var got []string
	d.Trigger("a", func() { got = append(got, "a") })
	d.Trigger("b", func() { got = append(got, "b") })
	assert.Equal(t, 2, d.Pending())

	clock.Advance(debounce.GestureDelay)
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestFlush_RunsImmediately(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	d := debounce.New(debounce.GestureDelay, clock)

	var runs int
	d.Trigger("drag", func() { runs++ })

	assert.True(t, d.Flush("drag"))
	assert.Equal(t, 1, runs)

	clock.Advance(time.Second)
	assert.Equal(t, 1, runs, "flushed action does not run again")
	assert.False(t, d.Flush("drag"))
}

func TestCancelAndStop(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	d := debounce.New(debounce.MemoDelay, clock)

	var runs int
	d.Trigger("a", func() { runs++ })
	d.Cancel("a")
	d.Trigger("b", func() { runs++ })
	d.Stop()
	d.Trigger("c", func() { runs++ })

	clock.Advance(time.Second)
	assert.Zero(t, runs)
	assert.Zero(t, d.Pending())
}

func TestRealClock(t *testing.T) {
	d := debounce.New(50*time.Millisecond, nil)

	var runs atomic.Int32
	done := make(chan struct{})
	d.Trigger("k", func() { runs.Add(1) })
	d.Trigger("k", func() {
		runs.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced action did not run")
	}
	assert.Equal(t, int32(1), runs.Load())
}
