package testutil

import (
	"context"
	"sync"

	"github.com/roach88/tripsync/internal/model"
)

// FakeLink records published frames in memory.
//
// It implements outbox.Link. Tests toggle connectivity with SetConnected and
// inject a failure for the next publish with FailNext.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeLink struct {
	mu        sync.Mutex
	connected bool
	published [][]byte
	failNext  error
}

// NewFakeLink creates a link in the given connectivity state.
func NewFakeLink(connected bool) *FakeLink {
	return &FakeLink{connected: connected}
}

// Connected implements outbox.Link.
func (l *FakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SetConnected flips connectivity.
func (l *FakeLink) SetConnected(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = v
}

// FailNext makes the next Publish return err without recording.
func (l *FakeLink) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Publish implements outbox.Link.
func (l *FakeLink) Publish(_ context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext; err != nil {
		l.failNext = nil
		return err
	}
	l.published = append(l.published, append([]byte(nil), data...))
	return nil
}

// Published returns copies of every recorded frame in publish order.
func (l *FakeLink) Published() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.published))
	copy(out, l.published)
	return out
}

// Envelopes decodes every recorded frame. Frames that fail to decode are
// skipped.
func (l *FakeLink) Envelopes() []model.Envelope {
	var out []model.Envelope
	for _, data := range l.Published() {
		env, err := model.DecodeEnvelope(data)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Reset forgets recorded frames.
func (l *FakeLink) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = nil
}
