package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	TripID    int64
	Direction string // optional - "in" or "out"
	Entity    string // optional - filter to one entity kind
}

// JournalEntry is one envelope in the trace timeline.
type JournalEntry struct {
	Seq       int64    `json:"seq"`
	Direction string   `json:"direction"`
	Entity    string   `json:"entity"`
	Action    string   `json:"action"`
	EventID   string   `json:"event_id,omitempty"`
	Items     []string `json:"items,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Total    int `json:"total"`
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	TripID   int64          `json:"trip_id"`
	Timeline []JournalEntry `json:"timeline"`
	Stats    TraceStats     `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List the journaled envelopes of a trip",
		Long: `List every envelope journaled for a trip in seq order.

Inbound envelopes are broadcasts received on the trip topic; outbound
envelopes are local mutations handed to the channel. Correlation ids
(event_id) link a local create to the broadcast that confirmed it.

Examples:
  tripsync trace --db ./trips.db --trip 7
  tripsync trace --db ./trips.db --trip 7 --direction out
  tripsync trace --db ./trips.db --trip 7 --entity timetableplaceblock --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.TripID, "trip", 0, "trip id to trace (required)")
	_ = cmd.MarkFlagRequired("trip")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "filter by direction (in|out)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter by entity (timetableplaceblock|timetable|plan)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch journal.Direction(opts.Direction) {
	case "", journal.Inbound, journal.Outbound:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid direction %q: must be in or out", opts.Direction))
	}

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.ReadTrip(ctx, opts.TripID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{TripID: opts.TripID, Timeline: buildTimeline(records, opts)}
	for _, e := range result.Timeline {
		result.Stats.Total++
		if e.Direction == string(journal.Inbound) {
			result.Stats.Inbound++
		} else {
			result.Stats.Outbound++
		}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, opts.RootOptions, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTimeline converts journal records into timeline entries, applying
// the direction and entity filters.
func buildTimeline(records []journal.Record, opts *TraceOptions) []JournalEntry {
	timeline := []JournalEntry{}
	for _, rec := range records {
		if opts.Direction != "" && string(rec.Direction) != opts.Direction {
			continue
		}
		if opts.Entity != "" && string(rec.Entity) != opts.Entity {
			continue
		}

		entry := JournalEntry{
			Seq:       rec.Seq,
			Direction: string(rec.Direction),
			Entity:    string(rec.Entity),
			Action:    string(rec.Action),
			EventID:   rec.EventID,
		}
		env, err := model.DecodeEnvelope(rec.Body)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Items = envelopeSummary(env)
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

// envelopeSummary renders the payload of env one item per line.
func envelopeSummary(env model.Envelope) []string {
	var items []string
	for _, b := range env.Blocks {
		item := fmt.Sprintf("block %d day %d %s-%s", b.BlockID, b.TimetableID, b.StartTime, b.EndTime)
		if b.Name != "" {
			item += " " + b.Name
		}
		items = append(items, item)
	}
	for _, t := range env.Timetables {
		items = append(items, fmt.Sprintf("timetable %d %s", t.TimetableID, t.Date))
	}
	for _, p := range env.Plans {
		items = append(items, fmt.Sprintf("plan %d %q", p.PlanID, p.Title))
	}
	return items
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, opts *RootOptions, result TraceResult) error {
	f := newFormatter(opts, cmd)
	f.Indent = true
	return f.Success(result)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Journal for trip %d\n", result.TripID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, e := range result.Timeline {
		arrow := "<-"
		if e.Direction == string(journal.Outbound) {
			arrow = "->"
		}
		line := fmt.Sprintf("  [%d] %s %s %s", e.Seq, arrow, e.Entity, e.Action)
		if e.EventID != "" {
			line += " event=" + e.EventID
		}
		fmt.Fprintln(w, line)
		if e.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", e.Error)
		}
		if verbose && len(e.Items) > 0 {
			fmt.Fprintf(w, "       %s\n", strings.Join(e.Items, "\n       "))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:    %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Inbound:  %d\n", result.Stats.Inbound)
	fmt.Fprintf(w, "  Outbound: %d\n", result.Stats.Outbound)

	return nil
}
