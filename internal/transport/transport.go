// Package transport connects a chat client to its peers. Every
// implementation delivers (topic, payload) pairs on a channel and publishes
// opaque payloads to topics.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Subscribe before Connect or after Close.
var ErrNotConnected = errors.New("transport: not connected")

// inboundBuffer is the channel buffer for network transports. A full buffer
// holds back the reader rather than dropping messages.
const inboundBuffer = 256

// Inbound is one message received on a subscribed topic.
type Inbound struct {
	Topic   string
	Payload string
}

// Transport is a topic-addressed pub/sub connection.
//
// Delivery is at least once and unordered across topics. While connected, a
// slow consumer applies backpressure; no inbound message is dropped. Messages
// not yet read when Close is called are discarded with the connection.
// Publish while disconnected drops the payload and returns nil.
type Transport interface {
	Connect(ctx context.Context, identity string) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic, payload string) error
	// Messages returns the inbound channel of the current connection. It is
	// closed by Close.
	Messages() <-chan Inbound
	Close() error
}
