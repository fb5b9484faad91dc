package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/scheduler"
	"github.com/roach88/tripsync/internal/timeslot"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Anchor    string
	WithinDay bool
}

// dayFile is the YAML input of the resolve command.
type dayFile struct {
	Entries []dayFileEntry `yaml:"entries"`
}

type dayFileEntry struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ResolvedEntry is one entry of the resolve output.
type ResolvedEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
	Moved bool   `json:"moved"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <day-file>",
		Short: "Reflow a day's entries so none overlap",
		Long: `Run the overlap scheduler over a day described in YAML and print the
re-timed entries. Nothing is sent anywhere.

  entries:
    - {id: "101", name: Kiyomizu-dera, start: "10:00", end: "11:00"}
    - {id: "102", name: Nishiki Market, start: "10:30", end: "11:30"}

With --anchor the named entry keeps its window and the others are pushed
away from it; without it entries are packed left to right.

Examples:
  tripsync resolve day.yaml
  tripsync resolve day.yaml --anchor 102 --within-day`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Anchor, "anchor", "", "id of the entry that keeps its window")
	cmd.Flags().BoolVar(&opts.WithinDay, "within-day", false, "fail instead of wrapping past midnight")

	return cmd
}

func runResolve(opts *ResolveOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	entries, err := loadDayFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid day file", err)
	}
	formatter.VerboseLog("Loaded %d entries from %s", len(entries), path)

	var resolved []model.Entry
	if opts.WithinDay {
		resolved, err = scheduler.ResolveWithinDay(entries, opts.Anchor)
		if errors.Is(err, scheduler.ErrSpillsPastMidnight) {
			_ = formatter.Error(ErrCodeSchedule, err.Error(), nil)
			return WrapExitError(ExitFailure, "cannot resolve day", err)
		}
	} else {
		resolved = scheduler.Resolve(entries, opts.Anchor)
	}

	original := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		original[e.LocalID] = e
	}
	out := make([]ResolvedEntry, len(resolved))
	for i, e := range resolved {
		before := original[e.LocalID]
		out[i] = ResolvedEntry{
			ID:    e.LocalID,
			Name:  e.Name,
			Start: e.StartTime,
			End:   e.EndTime,
			Moved: before.StartTime != e.StartTime || before.EndTime != e.EndTime,
		}
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	for _, e := range out {
		mark := " "
		if e.Moved {
			mark = "*"
		}
		fmt.Fprintf(formatter.Writer, "%s %s %s-%s %s\n", mark, e.ID, e.Start, e.End, e.Name)
	}
	return nil
}

// loadDayFile reads and checks a resolve input file.
func loadDayFile(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var day dayFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&day); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(day.Entries))
	entries := make([]model.Entry, 0, len(day.Entries))
	for i, e := range day.Entries {
		if e.ID == "" {
			return nil, fmt.Errorf("entries[%d]: id is required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("entries[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
		if timeslot.Duration(e.Start, e.End) <= 0 {
			return nil, fmt.Errorf("entries[%d]: window %s-%s is empty", i, e.Start, e.End)
		}
		entries = append(entries, model.Entry{LocalID: e.ID, Name: e.Name, StartTime: e.Start, EndTime: e.End})
	}
	return entries, nil
}
