// Package chat is the conversation synchronization core. It maps topics to
// ordered message logs, applies inbound append and delete events
// idempotently, persists every log, and tracks unread counts for the
// conversations the user is not looking at.
package chat

import (
	"context"

	"github.com/johndosdos/chatsync/internal/model"
)

// Persistence is a durable string key-value store.
type Persistence interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Notifier surfaces messages that arrive on a conversation in the
// background.
type Notifier interface {
	RequestPermission(ctx context.Context) bool
	Show(ctx context.Context, title, body string, forceShow bool)
}

// View receives every change to what the user should see.
type View interface {
	Render(topic Topic, msgs []model.Message)
	MessageAppended(topic Topic, msg model.Message)
	MessageRemoved(topic Topic, id string)
	UnreadChanged(topic Topic, n int)
	ConnectionFailed(err error)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) RequestPermission(context.Context) bool     { return false }
func (NopNotifier) Show(context.Context, string, string, bool) {}

// NopView ignores every change.
type NopView struct{}

func (NopView) Render(Topic, []model.Message)        {}
func (NopView) MessageAppended(Topic, model.Message) {}
func (NopView) MessageRemoved(Topic, string)         {}
func (NopView) UnreadChanged(Topic, int)             {}
func (NopView) ConnectionFailed(error)               {}
