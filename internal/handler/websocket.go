package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// KeepaliveConn pings the peer every interval until ctx is done or a ping
// fails.
//
// Firewalls, proxies, and other services have their own system to invalidate
// a stale connection. Therefore, we must keep the connection alive by sending
// ping pong signals between the server and the client within a set deadline.
func KeepaliveConn(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.WarnContext(ctx, "failed to send ping signal", "error", err)
				}
				return
			}
		}
	}
}
