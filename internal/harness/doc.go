// Package harness runs scripted collaboration sessions against the real
// client stack and records what each step did.
//
// A scenario drives one client: local edits go through engine.Do exactly as
// UI calls would, broadcasts are delivered through the engine's channel
// handler, and outbound envelopes are captured from a testutil.FakeLink.
// Debounce timers run on a testutil.ManualClock so time only moves on
// "advance" steps.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: retime_reflows_neighbour
//	description: "Moving an entry pushes the next one later"
//	trip:
//	  id: 7
//	  title: Kyoto
//	  days:
//	    - id: 10
//	      date: "2025-04-01"
//	      entries:
//	        - {id: "101", name: A, start: "10:00", end: "11:00"}
//	steps:
//	  - retime: {day: 0, id: "101", start: "10:30", end: "12:30"}
//	  - inbound: '{"entity":"timetableplaceblock","action":"create",...}'
//	  - echo: {event: tmp_1, block: 301}
//	  - connectivity: offline
//	  - advance: 500ms
//	assertions:
//	  - type: trace_contains
//	    match: {type: outbound, action: update, item: "10/101 10:30-12:30"}
//	  - type: final_state
//	    day: 0
//	    entries: ["101 10:30-12:30"]
//
// # Assertion Types
//
//   - trace_contains: at least one trace event matches
//   - trace_order: the matches occur in sequence, gaps allowed
//   - trace_count: exactly count events match
//   - final_state: a day's entries, rendered "id start-end", in order
//   - queue_length: messages still waiting in the outbox
//   - members: size of the presence set
//
// # Deterministic Testing
//
// Temporary ids come from temp_ids (then tmp_<n>), the channel is a
// testutil.FakeLink and debounce timers only fire on advance steps, so the
// trace of a scenario is identical across runs and can be compared against
// a golden file.
package harness
