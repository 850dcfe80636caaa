package websocket

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
)

// Broker carries published frames between relay instances.
type Broker interface {
	Publish(ctx context.Context, topic, payload string) error
}

type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Subscription adds Client to the audience of Topic.
type Subscription struct {
	Client *Client
	Topic  string
}

// Hub contains functions needed for the relay state management. It never
// decodes payloads.
type Hub struct {
	broker     Broker
	metrics    *metrics.Relay
	clients    map[uuid.UUID]*Client
	topics     map[string]map[uuid.UUID]*Client
	Register   chan Registration
	Unregister chan *Client
	Subscribe  chan Subscription
	ClientMsg  chan model.Frame
	BrokerMsg  chan model.Frame
}

// Run manages incoming and outgoing hub traffic.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			client := reg.Client
			h.clients[client.ID] = client
			client.Hub = h
			h.metrics.ClientConnected()
			close(reg.Done)

		case client := <-h.Unregister:
			if _, ok := h.clients[client.ID]; !ok {
				continue
			}
			delete(h.clients, client.ID)
			for topic, audience := range h.topics {
				delete(audience, client.ID)
				if len(audience) == 0 {
					delete(h.topics, topic)
				}
			}
			close(client.MessageCh)
			h.metrics.ClientDisconnected()

		case sub := <-h.Subscribe:
			if _, ok := h.clients[sub.Client.ID]; !ok {
				continue
			}
			if h.topics[sub.Topic] == nil {
				h.topics[sub.Topic] = make(map[uuid.UUID]*Client)
			}
			h.topics[sub.Topic][sub.Client.ID] = sub.Client

		case frame := <-h.ClientMsg:
			if err := h.broker.Publish(ctx, frame.Topic, frame.Payload); err != nil {
				slog.ErrorContext(ctx, "failed to publish frame",
					"error", err,
					"topic", frame.Topic)
				continue
			}
			h.metrics.Published()

		case frame := <-h.BrokerMsg:
			for _, client := range h.topics[frame.Topic] {
				select {
				case client.MessageCh <- frame:
					h.metrics.Delivered()
				default:
					h.metrics.Dropped()
					slog.WarnContext(ctx, "skipping frame - channel full or client slow",
						"client_id", client.ID.String(),
						"topic", frame.Topic)
				}
			}

		case <-ctx.Done():
			slog.InfoContext(ctx, "hub stopped", "reason", ctx.Err())
			return
		}
	}
}

// NewHub returns a new instance of Hub.
func NewHub(b Broker, m *metrics.Relay) *Hub {
	return &Hub{
		broker:     b,
		metrics:    m,
		clients:    make(map[uuid.UUID]*Client),
		topics:     make(map[string]map[uuid.UUID]*Client),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		Subscribe:  make(chan Subscription),
		ClientMsg:  make(chan model.Frame, 1024),
		BrokerMsg:  make(chan model.Frame, 1024),
	}
}
