// Package model defines the trip data model and the wire envelopes exchanged
// with the collaboration server.
//
// This package contains types and boundary conversions only. All other
// internal packages import model; model imports nothing internal.
//
// Key constraints:
//   - Entry.LocalID is either a durable id (decimal string) or a temporary
//     token with TempIDPrefix, never both
//   - Raw provider aliasing (coordinate casings, category codes) is collapsed
//     during decoding; the core never sees it
//   - Times are "HH:MM" strings; arithmetic lives in package timeslot
package model
