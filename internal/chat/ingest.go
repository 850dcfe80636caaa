package chat

import (
	"log/slog"
	"time"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/transport"
)

// Event is the outcome of ingesting one inbound payload. It is either an
// AppendEvent or a DeleteEvent.
type Event interface {
	EventTopic() Topic
	isEvent()
}

// AppendEvent carries a new message for a topic.
type AppendEvent struct {
	Topic   Topic
	Message model.Message
}

// DeleteEvent asks every participant to drop TargetID from a topic.
type DeleteEvent struct {
	Topic    Topic
	TargetID string
}

func (e AppendEvent) EventTopic() Topic { return e.Topic }
func (e DeleteEvent) EventTopic() Topic { return e.Topic }
func (AppendEvent) isEvent()            {}
func (DeleteEvent) isEvent()            {}

// Ingestor turns raw transport events into typed events.
type Ingestor struct {
	log     *slog.Logger
	metrics *metrics.Sync
	now     func() time.Time
}

func NewIngestor(logger *slog.Logger, m *metrics.Sync) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{log: logger, metrics: m, now: time.Now}
}

// Ingest decodes in and tags it for self. A payload that fails validation
// returns a *DecodeError and must be dropped by the caller.
func (i *Ingestor) Ingest(in transport.Inbound, self string) (Event, error) {
	t := Topic(in.Topic)

	msg, err := model.Decode([]byte(in.Payload), i.now())
	if err != nil {
		i.metrics.DecodeError()
		return nil, &DecodeError{Op: "ingest", Topic: t, Err: err}
	}
	msg.IsMe = self != "" && msg.Sender == self

	if msg.Kind == model.KindDelete {
		return DeleteEvent{Topic: t, TargetID: msg.ID}, nil
	}
	return AppendEvent{Topic: t, Message: msg}, nil
}
