package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tripsync/internal/channel"
	"github.com/roach88/tripsync/internal/config"
	"github.com/roach88/tripsync/internal/engine"
	"github.com/roach88/tripsync/internal/journal"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/outbox"
	"github.com/roach88/tripsync/internal/presence"
	"github.com/roach88/tripsync/internal/reconcile"
	"github.com/roach88/tripsync/internal/snapshot"
	"github.com/roach88/tripsync/internal/trip"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string // overrides journal.path

	// Dialer allows overriding the websocket dialer (for testing).
	// If nil, a channel.WebsocketDialer for server.websocket_url is used.
	Dialer channel.Dialer
}

// ChangeLine is one reported store change in JSON output.
type ChangeLine struct {
	Source  string   `json:"source"`
	Kind    string   `json:"kind"`
	Day     int      `json:"day,omitempty"`
	ID      string   `json:"id,omitempty"`
	Entries []string `json:"entries,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <trip-id>",
		Short: "Join a trip and follow its live changes",
		Long: `Fetch the trip snapshot, open the trip's real-time channel and print
every change applied to the local copy until interrupted.

With a journal configured (journal.path or --journal), the snapshot and every
inbound and outbound envelope are recorded for later replay.

Example:
  tripsync run 7
  tripsync run 7 --journal ./trips.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || tripID <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid trip id %q", args[0]))
			}
			return runSession(opts, tripID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides journal.path)")

	return cmd
}

// session wires one client for one trip.
type session struct {
	engine  *engine.Engine
	manager *channel.Manager
	outbox  *outbox.Dispatcher
	tracker *presence.Tracker
	journal *journal.Journal
	logger  *slog.Logger
}

func newSession(ctx context.Context, cfg *config.Config, opts *RunOptions, logger *slog.Logger) (*session, error) {
	s := &session{tracker: presence.New(), logger: logger}

	path := cfg.Journal.Path
	if opts.Journal != "" {
		path = opts.Journal
	}
	engineOpts := []engine.EngineOption{engine.WithLogger(logger)}
	if path != "" {
		j, err := journal.Open(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		last, err := j.LastSeq(ctx)
		if err != nil {
			_ = j.Close()
			return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		s.journal = j
		engineOpts = append(engineOpts, engine.WithJournal(j), engine.WithClock(engine.NewClockAt(last)))
		logger.Info("journal ready", "path", path, "last_seq", last)
	}

	var eng *engine.Engine
	s.outbox = outbox.New(
		outbox.WithLogger(logger),
		outbox.WithSentHook(func(env model.Envelope, data []byte) { eng.RecordOutbound(env, data) }),
	)
	store := trip.New(s.outbox, trip.WithLogger(logger))
	listener := reconcile.New(store, s.outbox, logger)
	eng = engine.New(store, listener, s.tracker, engineOpts...)
	s.engine = eng

	dialer := opts.Dialer
	if dialer == nil {
		dialer = channel.WebsocketDialer{URL: cfg.Server.WebsocketURL, Nickname: cfg.User.Nickname}
	}
	s.manager = channel.New(dialer, s.outbox, s.tracker, eng,
		channel.WithFlushDelay(cfg.Sync.FlushDelay),
		channel.WithReconnectInterval(cfg.Sync.ReconnectInterval),
		channel.WithLogger(logger),
	)
	s.outbox.Attach(s.manager)
	return s, nil
}

func (s *session) close() {
	_ = s.manager.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("error closing journal", "error", err)
		}
	}
}

func runSession(opts *RunOptions, tripID int64, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cmd.ErrOrStderr())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("fetching snapshot", "trip_id", tripID, "api", cfg.Server.APIBaseURL)
	snap, err := snapshot.New(cfg.Server.APIBaseURL, snapshot.WithLogger(logger)).Fetch(ctx, tripID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fetch snapshot", err)
	}

	s, err := newSession(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer s.close()

	errc := make(chan error, 1)
	go func() { errc <- s.engine.Run(ctx) }()

	printer := &changePrinter{w: cmd.OutOrStdout(), format: opts.Format, store: s.engine.Store()}
	unsubscribe := s.engine.Store().Subscribe(printer.change)
	defer unsubscribe()

	if err := s.engine.Load(ctx, snap); err != nil {
		return WrapExitError(ExitFailure, "failed to load snapshot", err)
	}
	if err := s.manager.Connect(ctx, tripID); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	logger.Info("session started", "trip_id", tripID, "title", snap.Plan.Title, "days", len(snap.Days))

	err = <-errc
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	logger.Info("session stopped", "trip_id", tripID, "queued", s.outbox.Len())
	return nil
}

// changePrinter reports store changes. It runs on the engine goroutine.
type changePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	store  *trip.Store
}

func (p *changePrinter) change(c trip.Change) {
	line := ChangeLine{Source: string(c.Source), Kind: string(c.Kind), ID: c.LocalID}
	if c.DayIndex >= 0 {
		line.Day = c.DayIndex + 1
		if d, ok := p.store.Day(c.DayIndex); ok {
			for _, e := range d.Entries {
				line.Entries = append(line.Entries, fmt.Sprintf("%s %s-%s %s", e.LocalID, e.StartTime, e.EndTime, e.Name))
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		_ = json.NewEncoder(p.w).Encode(line)
		return
	}
	switch {
	case c.Kind == trip.ChangeLoaded:
		fmt.Fprintf(p.w, "Loaded %q: %d day(s)\n", p.store.Plan().Title, len(p.store.Days()))
	case c.Kind == trip.ChangePlan:
		fmt.Fprintf(p.w, "[%s] plan: %s\n", c.Source, p.store.Plan().Title)
	case c.DayIndex >= 0:
		fmt.Fprintf(p.w, "[%s] day %d:\n", c.Source, line.Day)
		for _, e := range line.Entries {
			fmt.Fprintf(p.w, "  %s\n", e)
		}
	default:
		fmt.Fprintf(p.w, "[%s] %s\n", c.Source, c.Kind)
	}
}
