package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventLocal, Op: "add", ID: "tmp_1"},
		{Type: EventOutbound, Entity: "timetableplaceblock", Action: "create", EventID: "tmp_1", Items: []string{"10/0 12:00-13:00"}},
		{Type: EventPresence, Op: "ENTER", Members: 2},
		{Type: EventInbound, Entity: "timetableplaceblock", Action: "create", Items: []string{"rebound 301"}},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Match: &TraceMatch{Type: EventOutbound, EventID: "tmp_1"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Match: &TraceMatch{Type: EventOutbound, Action: "delete"},
	})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "{type=outbound action=delete}", ae.Expected)
}

func TestAssertTraceContains_ItemMustBePresent(t *testing.T) {
	trace := sampleTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Match: &TraceMatch{Item: "rebound 301"}}))
	assert.Error(t, assertTraceContains(trace, Assertion{Match: &TraceMatch{Item: "rebound 302"}}))
}

func TestAssertTraceContains_EmptyMatchesAnything(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Match: &TraceMatch{}}))
	assert.Error(t, assertTraceContains(nil, Assertion{Match: &TraceMatch{}}))
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Sequence: []TraceMatch{
		{Type: EventLocal},
		{Type: EventOutbound},
		{Type: EventInbound},
	}})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Sequence: []TraceMatch{
		{Type: EventInbound},
		{Type: EventLocal},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence[1]")
}

func TestAssertTraceOrder_SameMatchTwiceNeedsTwoEvents(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Sequence: []TraceMatch{
		{Type: EventOutbound},
		{Type: EventOutbound},
	}})
	assert.Error(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name  string
		match TraceMatch
		count int
		ok    bool
	}{
		{"exact", TraceMatch{Entity: "timetableplaceblock"}, 2, true},
		{"too few", TraceMatch{Entity: "timetableplaceblock"}, 3, false},
		{"too many", TraceMatch{}, 1, false},
		{"zero", TraceMatch{Type: EventState}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(sampleTrace(), Assertion{Match: &tt.match, Count: tt.count})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertFinalState(t *testing.T) {
	days := [][]string{{"101 10:00-11:00"}, {}}

	assert.NoError(t, assertFinalState(days, Assertion{Day: 0, Entries: []string{"101 10:00-11:00"}}))
	assert.NoError(t, assertFinalState(days, Assertion{Day: 1, Entries: []string{}}))
	assert.Error(t, assertFinalState(days, Assertion{Day: 0, Entries: []string{"101 10:00-11:30"}}))
	assert.Error(t, assertFinalState(days, Assertion{Day: 2, Entries: []string{}}))
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	result := &Result{Trace: sampleTrace(), Days: [][]string{{"301 12:00-13:00"}}, Members: 2}
	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Match: &TraceMatch{Op: "add"}},
		{Type: AssertFinalState, Day: 0, Entries: []string{"301 12:00-13:00"}},
		{Type: AssertQueueLength, Count: 0},
		{Type: AssertMembers, Count: 2},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	result := &Result{Trace: sampleTrace(), Queued: 1}
	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Match: &TraceMatch{Op: "add"}},
		{Type: AssertQueueLength, Count: 0},
		{Type: AssertMembers, Count: 1},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[0], "1 queued messages")
	assert.Contains(t, failures[1], "assertions[2]")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(&Result{}, []Assertion{{Type: "bogus"}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "unknown assertion type")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of {type=outbound}",
		Actual:   "0 occurrences",
		Trace:    []TraceEvent{{Type: EventLocal, Op: "retime", ID: "101", Error: "entry not found"}},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 1 occurrences of {type=outbound}")
	assert.Contains(t, msg, "Actual: 0 occurrences")
	assert.Contains(t, msg, "[1] local retime 101 error=entry not found")
}

func TestTraceMatchString(t *testing.T) {
	assert.Equal(t, "{any}", (&TraceMatch{}).String())
	assert.Equal(t, "{type=inbound item=merged 201}", (&TraceMatch{Type: EventInbound, Item: "merged 201"}).String())
}
