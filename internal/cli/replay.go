package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/tripsync/internal/engine"
	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	TripID   int64
}

// ReplayResult holds the replay result for one trip.
type ReplayResult struct {
	TripID        int64      `json:"trip_id"`
	Title         string     `json:"title"`
	SnapshotSeq   int64      `json:"snapshot_seq"`
	Records       int        `json:"records"`
	Applied       int        `json:"applied"`
	Skipped       int        `json:"skipped"`
	Days          [][]string `json:"days"`
	Deterministic bool       `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a trip from its journal and verify determinism",
		Long: `Rebuild a trip from its journaled snapshot and inbound envelopes.

The journal is replayed twice and both results are compared. The final
days of the rebuilt trip are printed.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (journal not found, no snapshot, etc.)

Examples:
  tripsync replay --db ./trips.db --trip 7
  tripsync replay --db ./trips.db --trip 7 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.TripID, "trip", 0, "trip id to replay (required)")
	_ = cmd.MarkFlagRequired("trip")

	return cmd
}

// openJournal opens an existing journal. Unlike journal.Open it fails on a
// missing file.
func openJournal(path string) (*journal.Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.newLogger(cmd.ErrOrStderr())

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	seq, body, found, err := j.LoadSnapshot(ctx, opts.TripID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}
	if !found {
		return NewExitError(ExitCommandError, fmt.Sprintf("no snapshot journaled for trip %d", opts.TripID))
	}
	var snap model.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return WrapExitError(ExitCommandError, "failed to decode snapshot", err)
	}

	records, err := j.ReadTrip(ctx, opts.TripID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	// Records journaled before the snapshot describe state it already holds.
	after := records[:0:0]
	for _, rec := range records {
		if rec.Seq > seq {
			after = append(after, rec)
		}
	}

	first, applied1, err := engine.Replay(ctx, snap, after, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	second, applied2, err := engine.Replay(ctx, snap, after, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}

	deterministic := reflect.DeepEqual(first.Days(), second.Days()) &&
		reflect.DeepEqual(first.Plan(), second.Plan()) &&
		reflect.DeepEqual(applied1, applied2)

	result := ReplayResult{
		TripID:        opts.TripID,
		Title:         first.Plan().Title,
		SnapshotSeq:   seq,
		Records:       len(after),
		Days:          dayLines(first.Days()),
		Deterministic: deterministic,
	}
	for _, a := range applied1 {
		if a.Err != nil {
			result.Skipped++
		} else {
			result.Applied++
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, opts.RootOptions, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// dayLines renders each day as "id start-end name" lines.
func dayLines(days []model.Day) [][]string {
	out := make([][]string, len(days))
	for i, d := range days {
		out[i] = []string{}
		for _, e := range d.Entries {
			out[i] = append(out[i], fmt.Sprintf("%s %s-%s %s", e.LocalID, e.StartTime, e.EndTime, e.Name))
		}
	}
	return out
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, opts *RootOptions, result ReplayResult) error {
	f := newFormatter(opts, cmd)
	f.Indent = true
	return f.Result(result, !result.Deterministic, ErrCodeDeterminism, "determinism verification failed")
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay of trip %d %q\n", result.TripID, result.Title)
	fmt.Fprintf(w, "  Records: %d applied, %d skipped\n", result.Applied, result.Skipped)
	if verbose {
		fmt.Fprintf(w, "  Snapshot seq: %d\n", result.SnapshotSeq)
		fmt.Fprintf(w, "  Journal records after snapshot: %d\n", result.Records)
	}
	fmt.Fprintln(w)

	for i, day := range result.Days {
		fmt.Fprintf(w, "Day %d:\n", i+1)
		if len(day) == 0 {
			fmt.Fprintln(w, "  (empty)")
		}
		for _, line := range day {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
