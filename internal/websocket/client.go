package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johndosdos/chatsync/internal/model"
)

type Client struct {
	ID         uuid.UUID
	Username   string
	conn       *websocket.Conn
	Hub        *Hub
	MessageCh  chan model.Frame
	messageLim *rate.Limiter
}

func NewClient(conn *websocket.Conn, username string) *Client {
	return &Client{
		ID:        uuid.New(),
		Username:  username,
		conn:      conn,
		MessageCh: make(chan model.Frame, 64),
	}
}

func (c *Client) SetMessageLimiter(requests int, window time.Duration) {
	l := rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	c.messageLim = l
}

// allow reports whether the client may publish another frame.
func (c *Client) allow() bool {
	return c.messageLim == nil || c.messageLim.Allow()
}

// WriteMessage writes queued frames to the outgoing websocket stream.
func (c *Client) WriteMessage(ctx context.Context) {
	for {
		select {
		case frame, ok := <-c.MessageCh:
			// The hub closes the channel on unregister.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, c.conn, frame)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "failed to write frame",
					"error", err,
					"client_id", c.ID.String(),
					"username", c.Username,
					"frame_type", frame.Type)
				continue
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

// reply queues a frame for this client only. It never blocks.
func (c *Client) reply(frame model.Frame) {
	select {
	case c.MessageCh <- frame:
	default:
	}
}
