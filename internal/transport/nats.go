package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// TopicHeader carries the unmapped topic, since Subject is lossy.
const TopicHeader = "Chat-Topic"

var subjectReplacer = strings.NewReplacer(
	"/", ".",
	".", "_",
	"*", "_",
	">", "_",
	" ", "_",
	"\t", "_",
)

// Subject maps a topic to a NATS subject: "/" separates tokens and every
// other character NATS reserves becomes "_".
func Subject(topic string) string {
	return subjectReplacer.Replace(topic)
}

// NATS is a Transport over core NATS pub/sub.
type NATS struct {
	url  string
	opts []nats.Option
	log  *slog.Logger

	mu      sync.Mutex
	conn    *nats.Conn
	subs    []*nats.Subscription
	inbound chan Inbound
	// closing is closed by Close to release callbacks blocked in deliver.
	closing chan struct{}
	sending sync.WaitGroup
}

// NewNATS returns a NATS transport for url. opts are passed to nats.Connect
// after the defaults.
func NewNATS(url string, logger *slog.Logger, opts ...nats.Option) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{url: url, opts: opts, log: logger}
}

func (n *NATS) Connect(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return nil
	}

	opts := append([]nats.Option{
		nats.Name("chatsync-" + identity),
		nats.Timeout(5 * time.Second),
	}, n.opts...)

	conn, err := nats.Connect(n.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	n.conn = conn
	n.inbound = make(chan Inbound, inboundBuffer)
	n.closing = make(chan struct{})
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return ErrNotConnected
	}

	subject := Subject(topic)
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		// Two topics can share a subject; the header tells them apart.
		if h := msg.Header.Get(TopicHeader); h != "" && h != topic {
			return
		}
		n.deliver(Inbound{Topic: topic, Payload: string(msg.Data)})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to [%s]: %w", subject, err)
	}
	n.subs = append(n.subs, sub)
	return nil
}

func (n *NATS) Publish(ctx context.Context, topic, payload string) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		n.log.DebugContext(ctx, "dropping publish while disconnected", "topic", topic)
		return nil
	}

	msg := nats.NewMsg(Subject(topic))
	msg.Header.Set(TopicHeader, topic)
	msg.Data = []byte(payload)
	if err := conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to [%s]: %w", msg.Subject, err)
	}
	return nil
}

func (n *NATS) Messages() <-chan Inbound {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inbound
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.conn == nil {
		n.mu.Unlock()
		return nil
	}

	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			n.log.Warn("failed to unsubscribe",
				"subject", sub.Subject,
				"error", err)
		}
	}
	n.conn.Close()

	inbound := n.inbound
	n.conn = nil
	n.subs = nil
	close(n.closing)
	n.mu.Unlock()

	// No deliver can start once conn is nil; wait out the ones in flight
	// before closing their channel.
	n.sending.Wait()
	close(inbound)
	return nil
}

// deliver runs on the subscription's callback goroutine. It blocks while the
// consumer is behind, so NATS's pending limits apply instead of a silent drop.
func (n *NATS) deliver(in Inbound) {
	n.mu.Lock()
	if n.conn == nil {
		n.mu.Unlock()
		return
	}
	inbound, closing := n.inbound, n.closing
	n.sending.Add(1)
	n.mu.Unlock()
	defer n.sending.Done()

	select {
	case inbound <- in:
	case <-closing:
		n.log.Debug("connection closed, dropping message", "topic", in.Topic)
	}
}
