package websocket

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/chatsync/internal/model"
)

var errRateLimited = errors.New("rate limit exceeded, slow down")

// ReadMessage reads frames from the websocket stream until the connection
// or ctx ends, then unregisters the client.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-ctx.Done():
		}
		c.conn.CloseNow()
	}()

	for {
		var frame model.Frame
		err := wsjson.Read(ctx, c.conn, &frame)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				slog.WarnContext(ctx, "socket read failed",
					"error", err,
					"client_id", c.ID.String())
			}
			return
		}

		if strings.TrimSpace(frame.Topic) == "" {
			c.reply(model.Frame{Type: model.FrameError, Error: "missing topic"})
			continue
		}

		switch frame.Type {
		case model.FrameSubscribe:
			select {
			case c.Hub.Subscribe <- Subscription{Client: c, Topic: frame.Topic}:
			case <-ctx.Done():
				return
			}

		case model.FramePublish:
			if !c.allow() {
				c.Hub.metrics.RateLimited()
				slog.WarnContext(ctx, "rate limit exceeded",
					"client_id", c.ID.String(),
					"username", c.Username,
					"topic", frame.Topic)
				c.reply(model.Frame{Type: model.FrameError, Topic: frame.Topic, Error: errRateLimited.Error()})
				continue
			}
			select {
			case c.Hub.ClientMsg <- model.Frame{Type: model.FramePublish, Topic: frame.Topic, Payload: frame.Payload}:
			case <-ctx.Done():
				return
			}

		default:
			c.reply(model.Frame{Type: model.FrameError, Topic: frame.Topic, Error: "unknown frame type " + frame.Type})
		}
	}
}
