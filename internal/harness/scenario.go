package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted collaboration session against one trip.
// Steps run in order on a fresh client; assertions check the resulting trace
// and final state.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Trip is the snapshot the client starts from.
	Trip TripFixture `yaml:"trip"`

	// TempIDs are handed out in order by AddEntry. Exhausted or empty, ids
	// continue as tmp_<n>.
	TempIDs []string `yaml:"temp_ids,omitempty"`

	// Offline starts the session with the channel down.
	Offline bool `yaml:"offline,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// TripFixture is the initial snapshot.
type TripFixture struct {
	ID    int64        `yaml:"id"`
	Title string       `yaml:"title"`
	Days  []DayFixture `yaml:"days"`
}

type DayFixture struct {
	ID      int64          `yaml:"id"`
	Date    string         `yaml:"date"`
	Entries []EntryFixture `yaml:"entries,omitempty"`
}

type EntryFixture struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category int    `yaml:"category,omitempty"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Memo     string `yaml:"memo,omitempty"`
}

// Step is one action of the session. Exactly one action field is set.
type Step struct {
	Add     *EntryStep `yaml:"add,omitempty"`
	Retime  *EntryStep `yaml:"retime,omitempty"`
	Delete  *EntryStep `yaml:"delete,omitempty"`
	Memo    *EntryStep `yaml:"memo,omitempty"`
	Release string     `yaml:"release,omitempty"` // end a debounced gesture on an entry id
	Rename  string     `yaml:"rename,omitempty"`

	// Inbound is a raw broadcast body delivered on the trip topic.
	Inbound string `yaml:"inbound,omitempty"`
	// Echo replays the server's answer to an outbound create.
	Echo *EchoStep `yaml:"echo,omitempty"`
	// Presence is a raw presence broadcast body.
	Presence string `yaml:"presence,omitempty"`

	// Connectivity is "offline" or "online". Going online flushes the queue.
	Connectivity string `yaml:"connectivity,omitempty"`
	// Advance moves the debounce clock forward, e.g. "500ms".
	Advance string `yaml:"advance,omitempty"`

	// ExpectError is a substring the step's error must contain.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// EntryStep addresses an entry on a day (0-based index).
type EntryStep struct {
	Day      int    `yaml:"day"`
	ID       string `yaml:"id,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Category int    `yaml:"category,omitempty"`
	Start    string `yaml:"start,omitempty"`
	End      string `yaml:"end,omitempty"`
	Text     string `yaml:"text,omitempty"`
	// Gesture routes a retime through the gesture debouncer.
	Gesture bool `yaml:"gesture,omitempty"`
}

// EchoStep answers the outbound create whose eventId is Event by
// broadcasting it back with Block as its durable id.
type EchoStep struct {
	Event string `yaml:"event"`
	Block int64  `yaml:"block"`
}

// TraceMatch selects trace events. Empty fields match anything; Item must
// be one of the event's items.
type TraceMatch struct {
	Type    string `yaml:"type,omitempty"`
	Op      string `yaml:"op,omitempty"`
	Entity  string `yaml:"entity,omitempty"`
	Action  string `yaml:"action,omitempty"`
	EventID string `yaml:"event_id,omitempty"`
	Item    string `yaml:"item,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Match is used by trace_contains and trace_count.
	Match *TraceMatch `yaml:"match,omitempty"`

	// Sequence is used by trace_order: each match must occur after the
	// previous one, not necessarily adjacent.
	Sequence []TraceMatch `yaml:"sequence,omitempty"`

	// Count is used by trace_count, queue_length and members.
	Count int `yaml:"count"`

	// Day and Entries are used by final_state: the day's entries rendered
	// as "id start-end" in order.
	Day     int      `yaml:"day,omitempty"`
	Entries []string `yaml:"entries,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertQueueLength   = "queue_length"
	AssertMembers       = "members"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Trip.ID <= 0 {
		return fmt.Errorf("trip.id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st Step) error {
	set := 0
	for _, ok := range []bool{
		st.Add != nil, st.Retime != nil, st.Delete != nil, st.Memo != nil,
		st.Release != "", st.Rename != "", st.Inbound != "", st.Echo != nil,
		st.Presence != "", st.Connectivity != "", st.Advance != "",
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, set)
	}

	switch {
	case st.Retime != nil && (st.Retime.ID == "" || st.Retime.Start == "" || st.Retime.End == ""):
		return fmt.Errorf("steps[%d]: retime needs id, start and end", index)
	case st.Delete != nil && st.Delete.ID == "":
		return fmt.Errorf("steps[%d]: delete needs id", index)
	case st.Memo != nil && st.Memo.ID == "":
		return fmt.Errorf("steps[%d]: memo needs id", index)
	case st.Echo != nil && (st.Echo.Event == "" || st.Echo.Block <= 0):
		return fmt.Errorf("steps[%d]: echo needs event and a positive block", index)
	case st.Connectivity != "" && st.Connectivity != "offline" && st.Connectivity != "online":
		return fmt.Errorf("steps[%d]: connectivity must be offline or online", index)
	}
	if st.Advance != "" {
		if _, err := time.ParseDuration(st.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains, AssertTraceCount:
		if a.Match == nil {
			return fmt.Errorf("assertions[%d]: match is required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Sequence) == 0 {
			return fmt.Errorf("assertions[%d]: sequence is required for trace_order", index)
		}
	case AssertFinalState:
		if a.Entries == nil {
			return fmt.Errorf("assertions[%d]: entries is required for final_state (use [] for an empty day)", index)
		}
	case AssertQueueLength, AssertMembers:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
