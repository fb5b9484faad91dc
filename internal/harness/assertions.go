package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, describe(ev))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result.Days, a)
	case AssertQueueLength:
		return assertNumber(AssertQueueLength, "queued messages", a.Count, result.Queued)
	case AssertMembers:
		return assertNumber(AssertMembers, "members", a.Count, result.Members)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that at least one event matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.Match.matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Match.String(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the matches occur in sequence. Events need
// not be adjacent; each match is searched for after the previous one.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for i, m := range a.Sequence {
		found := false
		for ; pos < len(trace); pos++ {
			if m.matches(trace[pos]) {
				found = true
				pos++
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("sequence[%d] %s after sequence[%d]", i, m.String(), i-1),
				Actual:   "not found in the remaining trace",
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the exact number of matching events.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.Match.matches(ev) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Match.String()),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares one day's entries, in order.
func assertFinalState(days [][]string, a Assertion) error {
	if a.Day < 0 || a.Day >= len(days) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("day %d", a.Day),
			Actual:   fmt.Sprintf("trip has %d days", len(days)),
		}
	}
	if !slices.Equal(days[a.Day], a.Entries) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("day %d entries %v", a.Day, a.Entries),
			Actual:   fmt.Sprintf("%v", days[a.Day]),
		}
	}
	return nil
}

func assertNumber(kind, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
	}
}

func (m *TraceMatch) matches(ev TraceEvent) bool {
	switch {
	case m.Type != "" && m.Type != ev.Type:
		return false
	case m.Op != "" && m.Op != ev.Op:
		return false
	case m.Entity != "" && m.Entity != ev.Entity:
		return false
	case m.Action != "" && m.Action != ev.Action:
		return false
	case m.EventID != "" && m.EventID != ev.EventID:
		return false
	case m.Item != "" && !slices.Contains(ev.Items, m.Item):
		return false
	}
	return true
}

func (m *TraceMatch) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("type", m.Type)
	add("op", m.Op)
	add("entity", m.Entity)
	add("action", m.Action)
	add("event_id", m.EventID)
	add("item", m.Item)
	if len(parts) == 0 {
		return "{any}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func describe(ev TraceEvent) string {
	var b strings.Builder
	b.WriteString(ev.Type)
	for _, s := range []string{ev.Op, ev.ID, ev.Entity, ev.Action, ev.EventID} {
		if s != "" {
			b.WriteString(" " + s)
		}
	}
	if len(ev.Items) > 0 {
		fmt.Fprintf(&b, " %v", ev.Items)
	}
	if ev.Error != "" {
		b.WriteString(" error=" + ev.Error)
	}
	return b.String()
}
