// Package outbox routes local mutations to the live channel, queueing them
// while the channel is down.
//
// The queue is an unbounded FIFO. Messages leave it only through Flush,
// which the channel manager calls after (re)subscribing, or Clear on an
// explicit disconnect. Delivery is fire-and-forget: a publish error is
// logged and the message is not retried.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/roach88/tripsync/internal/model"
)

// Link is the outbound side of a channel.
type Link interface {
	Connected() bool
	Publish(ctx context.Context, data []byte) error
}

// Dispatcher implements trip.Sender.
//
// Thread-safety: all methods are safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	link     Link
	queue    []model.PendingMessage
	flushing bool // a Flush owns delivery; Send must queue
	logger   *slog.Logger
	onSent   func(env model.Envelope, data []byte)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSentHook registers fn to observe every envelope handed to the link.
func WithSentHook(fn func(env model.Envelope, data []byte)) Option {
	return func(d *Dispatcher) { d.onSent = fn }
}

// New creates a dispatcher with no link attached. Until Attach is called
// every message is queued.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach sets the link messages are published to.
func (d *Dispatcher) Attach(link Link) {
	d.mu.Lock()
	d.link = link
	d.mu.Unlock()
}

// Send publishes msg now if the link is connected, nothing is queued ahead
// of it and no flush is in progress; otherwise it appends msg to the queue.
// A message queued during a flush is sent by that flush.
func (d *Dispatcher) Send(ctx context.Context, msg model.PendingMessage) {
	d.mu.Lock()
	link := d.link
	if link == nil || !link.Connected() || len(d.queue) > 0 || d.flushing {
		d.queue = append(d.queue, msg)
		n := len(d.queue)
		d.mu.Unlock()
		d.logger.Debug("queued message",
			"action", msg.Action,
			"target", msg.Target,
			"queued", n)
		return
	}
	d.mu.Unlock()

	d.publish(ctx, link, msg)
}

// Flush sends queued messages in order without waiting between them,
// including any queued by Send while it runs. It stops early, leaving the
// rest queued, if the link drops mid-flush. A Flush called while another is
// running returns 0 at once. Returns the number of messages handed to the
// link.
func (d *Dispatcher) Flush(ctx context.Context) int {
	d.mu.Lock()
	if d.flushing {
		d.mu.Unlock()
		return 0
	}
	d.flushing = true
	d.mu.Unlock()

	sent := 0
	for {
		d.mu.Lock()
		link := d.link
		if ctx.Err() != nil || len(d.queue) == 0 || link == nil || !link.Connected() {
			d.flushing = false
			d.mu.Unlock()
			return sent
		}
		msg := d.queue[0]
		d.queue[0] = model.PendingMessage{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.publish(ctx, link, msg)
		sent++
	}
}

// Clear drops every queued message and returns how many were dropped.
func (d *Dispatcher) Clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.queue)
	d.queue = nil
	return n
}

// Len returns the number of queued messages.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pending returns a copy of the queue in send order.
func (d *Dispatcher) Pending() []model.PendingMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.PendingMessage(nil), d.queue...)
}

func (d *Dispatcher) publish(ctx context.Context, link Link, msg model.PendingMessage) {
	env, err := msg.Envelope()
	if err != nil {
		d.logger.Error("dropping unencodable message", "target", msg.Target, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("dropping unencodable message", "target", msg.Target, "error", err)
		return
	}
	if err := link.Publish(ctx, data); err != nil {
		d.logger.Warn("publish failed",
			"action", msg.Action,
			"target", msg.Target,
			"event_id", msg.CorrelationID,
			"error", err)
		return
	}
	if d.onSent != nil {
		d.onSent(env, data)
	}
}
