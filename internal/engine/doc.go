// Package engine is the single-threaded event loop of a trip client.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Local commands, inbound broadcasts, presence updates and channel state
// changes are enqueued to one FIFO and applied by Engine.Run in a single
// goroutine. This ensures:
//   - Local edits and remote merges never interleave inside one mutation
//   - Inbound events are applied in delivery order against the state at
//     arrival
//   - A journaled session replays to the same state
//
// Event Processing Flow:
//  1. The channel goroutine calls OnBroadcast/OnPresence/OnStateChange;
//     payloads are decoded there and undecodable ones are dropped
//  2. UI callers and debounce timers submit commands with Do
//  3. Run dequeues events one at a time and stamps each with Clock.Next
//  4. Broadcasts for the open trip are journaled and handed to the
//     reconciliation listener; local commands run against trip.Store, which
//     hands outbound messages to the outbox
//
// Failures are logged and processing continues. There is no backpressure.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All applied events and journal records carry a seq from Clock.Next().
// Wall time is never used for ordering.
package engine
