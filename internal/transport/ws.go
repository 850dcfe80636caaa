package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/chatsync/internal/model"
)

// WebSocket is a Transport to a relay server speaking JSON frames.
type WebSocket struct {
	url string
	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	inbound chan Inbound
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWebSocket returns a transport for the relay endpoint at rawURL, for
// example ws://localhost:8080/ws.
func NewWebSocket(rawURL string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{url: rawURL, log: logger}
}

func (w *WebSocket) Connect(ctx context.Context, identity string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}

	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("username", identity)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}
	conn.SetReadLimit(model.MaxFrameBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	w.conn = conn
	w.inbound = make(chan Inbound, inboundBuffer)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.readFrames(readCtx, conn, w.inbound, w.done)
	return nil
}

// readFrames owns inbound and closes it when the connection ends.
func (w *WebSocket) readFrames(ctx context.Context, conn *websocket.Conn, inbound chan<- Inbound, done chan<- struct{}) {
	defer close(done)
	defer close(inbound)

	for {
		var f model.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			status := websocket.CloseStatus(err)
			if ctx.Err() == nil &&
				status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway {
				w.log.Warn("relay connection lost", "error", err)
			}
			return
		}

		switch f.Type {
		case model.FrameMessage:
			select {
			case inbound <- Inbound{Topic: f.Topic, Payload: f.Payload}:
			case <-ctx.Done():
				return
			}
		case model.FrameError:
			w.log.Warn("relay rejected frame",
				"topic", f.Topic,
				"error", f.Error)
		}
	}
}

func (w *WebSocket) Subscribe(ctx context.Context, topic string) error {
	conn := w.current()
	if conn == nil {
		return ErrNotConnected
	}
	if err := wsjson.Write(ctx, conn, model.Frame{Type: model.FrameSubscribe, Topic: topic}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

func (w *WebSocket) Publish(ctx context.Context, topic, payload string) error {
	conn := w.current()
	if conn == nil {
		w.log.DebugContext(ctx, "dropping publish while disconnected", "topic", topic)
		return nil
	}
	err := wsjson.Write(ctx, conn, model.Frame{Type: model.FramePublish, Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (w *WebSocket) Messages() <-chan Inbound {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inbound
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn, cancel, done := w.conn, w.cancel, w.done
	w.conn, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	// The read loop must still be running for the close handshake.
	err := conn.Close(websocket.StatusNormalClosure, "leaving")
	cancel()
	<-done

	var ce websocket.CloseError
	if err != nil && !errors.As(err, &ce) {
		w.log.Debug("relay close handshake failed", "error", err)
	}
	return nil
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}
