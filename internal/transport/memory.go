package transport

import (
	"context"
	"log/slog"
	"sync"
)

// Bus is an in-process broker. Every publish is delivered to each Memory
// subscribed to the topic, including the publisher.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]map[*Memory]struct{}
	published []Inbound
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*Memory]struct{})}
}

// Client returns a new transport attached to b.
func (b *Bus) Client() *Memory {
	return &Memory{bus: b, log: slog.Default()}
}

// Deliver pushes a raw payload to every subscriber of topic without
// recording it as published.
func (b *Bus) Deliver(topic, payload string) {
	b.mu.Lock()
	targets := make([]*Memory, 0, len(b.subs[topic]))
	for m := range b.subs[topic] {
		targets = append(targets, m)
	}
	b.mu.Unlock()

	for _, m := range targets {
		m.deliver(Inbound{Topic: topic, Payload: payload})
	}
}

// Published returns every payload published on the bus so far.
func (b *Bus) Published() []Inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Inbound, len(b.published))
	copy(out, b.published)
	return out
}

func (b *Bus) publish(topic, payload string) {
	b.mu.Lock()
	b.published = append(b.published, Inbound{Topic: topic, Payload: payload})
	b.mu.Unlock()
	b.Deliver(topic, payload)
}

func (b *Bus) subscribe(topic string, m *Memory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Memory]struct{})
	}
	b.subs[topic][m] = struct{}{}
}

func (b *Bus) unsubscribeAll(m *Memory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, set := range b.subs {
		delete(set, m)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Memory is a Transport on a Bus.
type Memory struct {
	bus *Bus
	log *slog.Logger

	// ConnectErr and SubscribeErr, when set, make the next calls fail.
	ConnectErr   error
	SubscribeErr error

	mu        sync.Mutex
	connected bool
	identity  string
	inbound   *mailbox
}

func (m *Memory) Connect(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	if m.connected {
		return nil
	}
	m.connected = true
	m.identity = identity
	m.inbound = newMailbox()
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	connected, subErr := m.connected, m.SubscribeErr
	m.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if subErr != nil {
		return subErr
	}
	m.bus.subscribe(topic, m)
	return nil
}

func (m *Memory) Publish(ctx context.Context, topic, payload string) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		m.log.DebugContext(ctx, "dropping publish while disconnected", "topic", topic)
		return nil
	}
	m.bus.publish(topic, payload)
	return nil
}

func (m *Memory) Messages() <-chan Inbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inbound == nil {
		return nil
	}
	return m.inbound.out
}

// Connected reports whether Connect succeeded and Close has not been called.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) Close() error {
	m.bus.unsubscribeAll(m)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	m.inbound.close()
	return nil
}

func (m *Memory) deliver(in Inbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.inbound.put(in)
}

// mailbox queues inbound messages in order without a bound, so a publisher
// never waits on a subscriber that is itself publishing.
type mailbox struct {
	out  chan Inbound
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []Inbound
	closed  bool
}

func newMailbox() *mailbox {
	mb := &mailbox{
		out:  make(chan Inbound),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go mb.pump()
	return mb
}

func (mb *mailbox) put(in Inbound) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.pending = append(mb.pending, in)
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// pump forwards pending messages to out and closes out once the mailbox is
// closed. Messages still queued at close are discarded with the connection.
func (mb *mailbox) pump() {
	defer close(mb.out)
	for {
		mb.mu.Lock()
		batch := mb.pending
		mb.pending = nil
		mb.mu.Unlock()

		for _, in := range batch {
			select {
			case mb.out <- in:
			case <-mb.done:
				return
			}
		}

		select {
		case <-mb.wake:
		case <-mb.done:
			return
		}
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if !mb.closed {
		mb.closed = true
		close(mb.done)
	}
}
