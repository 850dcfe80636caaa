package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/chatsync/internal/model"
)

// EnsureStream creates or updates the stream holding every chat topic.
func EnsureStream(ctx context.Context, js jetstream.JetStream, maxBytes int64) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectAll},
		MaxBytes: maxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}

// Publisher stores payload on the stream under the subject of topic. Every
// publish gets a fresh message id so JetStream can drop retried publishes.
func Publisher(ctx context.Context, js jetstream.JetStream, topic, payload string) (uint64, error) {
	if js == nil {
		return 0, fmt.Errorf("jetstream interface is nil")
	}
	if ctx == nil {
		return 0, fmt.Errorf("context is nil")
	}

	msg := nats.NewMsg(Subject(topic))
	msg.Header.Set(TopicHeader, topic)
	msg.Data = []byte(payload)

	pubAck, err := js.PublishMsg(ctx, msg, jetstream.WithMsgID(uuid.NewString()))
	if err != nil {
		return 0, fmt.Errorf("failed to publish to stream [%s]: %w", msg.Subject, err)
	}

	return pubAck.Sequence, nil
}

// Subscriber consumes new stream messages and hands each one to handle as a
// message frame until ctx is done.
func Subscriber(ctx context.Context, stream jetstream.Stream, handle func(model.Frame)) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: SubjectAll,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		topic := msg.Headers().Get(TopicHeader)
		if topic == "" {
			slog.Warn("dropping stream message without topic header",
				"subject", msg.Subject())
			if err := msg.Term(); err != nil {
				slog.Warn("failed to terminate message", "error", err)
			}
			return
		}

		if err := msg.Ack(); err != nil {
			slog.Warn("failed to ack message", "error", err, "topic", topic)
		}

		handle(model.Frame{
			Type:    model.FrameMessage,
			Topic:   topic,
			Payload: string(msg.Data()),
		})
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		slog.Error("consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func(ctx context.Context, consumeCtx jetstream.ConsumeContext) {
		<-ctx.Done()
		consumeCtx.Drain()
	}(ctx, consumeCtx)

	return nil
}

// JetStream publishes relay frames to the stream.
type JetStream struct {
	js jetstream.JetStream
}

func NewJetStream(js jetstream.JetStream) *JetStream {
	return &JetStream{js: js}
}

func (b *JetStream) Publish(ctx context.Context, topic, payload string) error {
	_, err := Publisher(ctx, b.js, topic, payload)
	return err
}
