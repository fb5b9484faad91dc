// Package channel owns the one live real-time connection of a client.
//
// Manager is a small lifecycle state machine:
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//
// Each successful (re)connect subscribes to the trip's broadcast and presence
// topics, reports Connected, and after FlushDelay flushes the outbox. An
// unexpected close drops back to Disconnected and redials after a fixed
// ReconnectInterval. Disconnect tears everything down and discards what is
// still queued.
//
// Thread-safety: all exported methods are safe for concurrent use. Handler
// callbacks run on the manager's receive goroutine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for Manager timing.
const (
	DefaultFlushDelay        = 100 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second
)

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("channel manager closed")
	// ErrNotConnected is returned by Publish when no channel is up.
	ErrNotConnected = errors.New("channel not connected")
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TripTopic is the broadcast topic of a trip.
func TripTopic(tripID int64) string { return fmt.Sprintf("/topic/trips/%d", tripID) }

// PresenceTopic is the presence topic of a trip.
func PresenceTopic(tripID int64) string { return fmt.Sprintf("/topic/trips/%d/presence", tripID) }

// PublishDestination is where outbound envelopes for a trip are sent.
func PublishDestination(tripID int64) string { return fmt.Sprintf("/app/trips/%d", tripID) }

// Frame is one inbound message.
type Frame struct {
	Topic string
	Body  []byte
}

// Conn is an established transport connection.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Send(ctx context.Context, destination string, body []byte) error
	// Receive blocks until a frame arrives or the connection fails.
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens connections for a trip.
type Dialer interface {
	Dial(ctx context.Context, tripID int64) (Conn, error)
}

// Handler receives inbound traffic and state transitions.
type Handler interface {
	OnBroadcast(tripID int64, body []byte)
	OnPresence(tripID int64, body []byte)
	OnStateChange(tripID int64, state State)
}

// Queue is the outbox as seen by the manager.
type Queue interface {
	Flush(ctx context.Context) int
	Clear() int
}

// Presence is the presence set as seen by the manager.
type Presence interface {
	Clear()
}

// Manager implements outbox.Link.
type Manager struct {
	dialer   Dialer
	queue    Queue
	presence Presence
	handler  Handler
	logger   *slog.Logger

	flushDelay        time.Duration
	reconnectInterval time.Duration

	mu     sync.Mutex
	state  State
	tripID int64
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithFlushDelay sets the pause between subscribing and flushing the outbox.
func WithFlushDelay(d time.Duration) Option {
	return func(m *Manager) { m.flushDelay = d }
}

// WithReconnectInterval sets the fixed redial backoff.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) { m.reconnectInterval = d }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a disconnected manager. queue, presence and handler may be nil.
func New(dialer Dialer, queue Queue, presence Presence, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		dialer:            dialer,
		queue:             queue,
		presence:          presence,
		handler:           handler,
		logger:            slog.Default(),
		flushDelay:        DefaultFlushDelay,
		reconnectInterval: DefaultReconnectInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts the lifecycle for tripID and returns without waiting for
// the first dial. Connecting to the trip already open is a no-op; any other
// trip is disconnected first.
func (m *Manager) Connect(ctx context.Context, tripID int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.cancel != nil && m.tripID == tripID {
		m.mu.Unlock()
		return nil
	}
	switching := m.cancel != nil
	m.mu.Unlock()

	if switching {
		m.Disconnect()
	}

	// The session outlives the caller's ctx; only values are inherited.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	m.tripID = tripID
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(sessCtx, tripID)
	}()
	return nil
}

// Disconnect tears down the channel, clears presence and drops every queued
// message. It waits for the lifecycle goroutine to exit, so it must not be
// called from a Handler callback.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, tripID := m.cancel, m.done, m.tripID
	m.cancel, m.done, m.tripID = nil, nil, 0
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if m.presence != nil {
		m.presence.Clear()
	}
	if m.queue != nil {
		if n := m.queue.Clear(); n > 0 {
			m.logger.Info("dropped queued messages on disconnect", "trip_id", tripID, "count", n)
		}
	}
	m.setState(tripID, Disconnected)
}

// Close disconnects and makes later Connect calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Disconnect()
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TripID returns the trip the manager is attached to, or 0.
func (m *Manager) TripID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripID
}

// Connected implements outbox.Link.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected && m.conn != nil
}

// Publish implements outbox.Link.
func (m *Manager) Publish(ctx context.Context, data []byte) error {
	m.mu.Lock()
	conn, tripID, state := m.conn, m.tripID, m.state
	m.mu.Unlock()

	if conn == nil || state != Connected {
		return ErrNotConnected
	}
	if err := conn.Send(ctx, PublishDestination(tripID), data); err != nil {
		return fmt.Errorf("publish to trip %d: %w", tripID, err)
	}
	return nil
}

// run dials, serves and redials until ctx is cancelled.
func (m *Manager) run(ctx context.Context, tripID int64) {
	for {
		m.setState(tripID, Connecting)

		conn, err := m.dialer.Dial(ctx, tripID)
		if err == nil {
			err = m.serve(ctx, tripID, conn)
		}
		if ctx.Err() != nil {
			return
		}

		m.setState(tripID, Disconnected)
		m.logger.Warn("channel lost, reconnecting",
			"trip_id", tripID,
			"retry_in", m.reconnectInterval,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnectInterval):
		}
	}
}

// serve subscribes, schedules the outbox flush and routes frames until the
// connection fails.
func (m *Manager) serve(ctx context.Context, tripID int64, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	for _, topic := range []string{TripTopic(tripID), PresenceTopic(tripID)} {
		if err := conn.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(tripID, Connected)
	m.logger.Info("channel connected", "trip_id", tripID)

	if m.queue != nil {
		flush := time.AfterFunc(m.flushDelay, func() {
			if n := m.queue.Flush(ctx); n > 0 {
				m.logger.Info("flushed queued messages", "trip_id", tripID, "count", n)
			}
		})
		defer flush.Stop()
	}

	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		m.route(tripID, frame)
	}
}

func (m *Manager) route(tripID int64, f Frame) {
	if m.handler == nil {
		return
	}
	switch f.Topic {
	case TripTopic(tripID):
		m.handler.OnBroadcast(tripID, f.Body)
	case PresenceTopic(tripID):
		m.handler.OnPresence(tripID, f.Body)
	default:
		m.logger.Debug("ignoring frame for unknown topic", "topic", f.Topic)
	}
}

func (m *Manager) setState(tripID int64, s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	if m.handler != nil {
		m.handler.OnStateChange(tripID, s)
	}
}
