package harness

// Trace event types.
const (
	EventLocal    = "local"
	EventOutbound = "outbound"
	EventInbound  = "inbound"
	EventPresence = "presence"
	EventState    = "state"
)

// TraceEvent is one observable effect of a scenario step.
//
// Items summarize payloads: outbound blocks as "day/block start-end",
// inbound results as "outcome id", plans by title and days by date.
type TraceEvent struct {
	Type    string   `json:"type"`
	Op      string   `json:"op,omitempty"`
	ID      string   `json:"id,omitempty"`
	Entity  string   `json:"entity,omitempty"`
	Action  string   `json:"action,omitempty"`
	EventID string   `json:"event_id,omitempty"`
	Items   []string `json:"items,omitempty"`
	Members int      `json:"members,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists step effects in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed step expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Days is the final state, one "id start-end" list per day.
	Days [][]string `json:"days"`

	// Queued is the outbox length at the end of the session.
	Queued int `json:"queued"`

	// Members is the presence set size at the end of the session.
	Members int `json:"members"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Days:   [][]string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
