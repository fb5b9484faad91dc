package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types of the websocket envelope.
const (
	frameSubscribe = "subscribe"
	frameSend      = "send"
	frameMessage   = "message"
)

// wireFrame is the JSON text frame exchanged with the server:
//
//	{"type": "subscribe"|"send"|"message", "topic": "...", "body": {...}}
type wireFrame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// WebsocketDialer dials URL over gorilla/websocket, adding the trip id as
// the "planId" query parameter and, if set, the member's nickname.
type WebsocketDialer struct {
	URL              string
	Nickname         string
	Header           http.Header
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, tripID int64) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("planId", strconv.FormatInt(tripID, 10))
	if d.Nickname != "" {
		q.Set("nickname", d.Nickname)
	}
	u.RawQuery = q.Encode()

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	c, resp, err := dialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", u.Redacted(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return &wsConn{c: c}, nil
}

// wsConn adapts *websocket.Conn to Conn. gorilla allows one concurrent
// writer, so writes are serialized.
type wsConn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (w *wsConn) write(ctx context.Context, f wireFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.c.SetWriteDeadline(deadline)
		defer w.c.SetWriteDeadline(time.Time{})
	}
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Subscribe(ctx context.Context, topic string) error {
	return w.write(ctx, wireFrame{Type: frameSubscribe, Topic: topic})
}

func (w *wsConn) Send(ctx context.Context, destination string, body []byte) error {
	if !json.Valid(body) {
		return errors.New("send: body is not valid JSON")
	}
	return w.write(ctx, wireFrame{Type: frameSend, Topic: destination, Body: body})
}

// Receive skips frames that are not messages. Cancel ctx or Close to unblock.
func (w *wsConn) Receive(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		_, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}

		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != frameMessage {
			continue
		}
		return Frame{Topic: f.Topic, Body: []byte(f.Body)}, nil
	}
}

// Close sends a close frame and closes the socket. Safe to call twice.
func (w *wsConn) Close() error {
	var err error
	w.once.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.c.Close()
	})
	return err
}
