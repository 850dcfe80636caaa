package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/chatsync/internal/model"
	ws "github.com/johndosdos/chatsync/internal/websocket"
)

// WsOptions configures socket upgrades.
type WsOptions struct {
	// OriginPatterns are the allowed cross-origin hosts. Empty allows
	// same-origin only.
	OriginPatterns []string
	MessageLimit   int
	MessageWindow  time.Duration
	PingInterval   time.Duration
}

// ServeWs handles the client's websocket connection upgrade. The username is
// a self-asserted label taken from the query string.
func ServeWs(h *ws.Hub, opts WsOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			http.Error(w, "username is required", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to upgrade connection", "error", err)
			return
		}
		conn.SetReadLimit(model.MaxFrameBytes)

		// We'll register our new client to the central hub.
		c := ws.NewClient(conn, username)
		if opts.MessageLimit > 0 && opts.MessageWindow > 0 {
			c.SetMessageLimiter(opts.MessageLimit, opts.MessageWindow)
		}
		reg := ws.Registration{
			Client: c,
			Done:   make(chan struct{}),
		}

		select {
		case h.Register <- reg:
		case <-ctx.Done():
			conn.CloseNow()
			return
		}

		// Wait for registration to complete
		<-reg.Done

		slog.InfoContext(ctx, "client connected",
			"client_id", c.ID.String(),
			"username", username)

		if opts.PingInterval > 0 {
			go KeepaliveConn(ctx, conn, opts.PingInterval)
		}

		// We block on c.ReadMessage() because the request context will be canceled as soon
		// we return from the ServeWs() handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}
