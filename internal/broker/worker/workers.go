package worker

import (
	"context"
	"log/slog"

	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/websocket"
)

// WorkerHub returns a broker handler that forwards every frame to the hub.
// It stops forwarding once ctx is done.
func WorkerHub(ctx context.Context, hub *websocket.Hub) func(model.Frame) {
	return func(frame model.Frame) {
		select {
		case hub.BrokerMsg <- frame:
		case <-ctx.Done():
			slog.Debug("dropping broker frame after shutdown", "topic", frame.Topic)
		}
	}
}
