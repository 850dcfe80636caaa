package chat

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
)

// Router applies events to the conversation being viewed and to the
// persisted logs of every other conversation.
//
// A Router is not safe for concurrent use; Client owns it from a single
// goroutine.
type Router struct {
	store    *Store
	notifier Notifier
	view     View
	log      *slog.Logger
	metrics  *metrics.Sync

	username    string
	activeTopic Topic
	activeLog   *Log
	// activeRead is false while the persisted log of activeTopic could not
	// be read. activeLog then holds only what arrived since, and must never
	// be written over the stored history.
	activeRead bool
	unread     map[Topic]int
}

func NewRouter(store *Store, notifier Notifier, view View, logger *slog.Logger, m *metrics.Sync) *Router {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if view == nil {
		view = NopView{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:      store,
		notifier:   notifier,
		view:       view,
		log:        logger,
		metrics:    m,
		activeLog:  NewLog(),
		activeRead: true,
		unread:     make(map[Topic]int),
	}
}

func (r *Router) SetUsername(name string) { r.username = name }
func (r *Router) Username() string        { return r.username }
func (r *Router) ActiveTopic() Topic      { return r.activeTopic }

// Messages returns a copy of the active log.
func (r *Router) Messages() []model.Message { return r.activeLog.Messages() }

// Lookup finds a message in the active log.
func (r *Router) Lookup(id string) (model.Message, bool) { return r.activeLog.Get(id) }

func (r *Router) Unread(t Topic) int { return r.unread[t] }

// UnreadCounts returns a copy of every non-zero unread counter.
func (r *Router) UnreadCounts() map[Topic]int {
	out := make(map[Topic]int, len(r.unread))
	maps.Copy(out, r.unread)
	return out
}

// Dispatch routes an ingested event.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case AppendEvent:
		r.HandleAppend(ctx, ev.Topic, ev.Message)
	case DeleteEvent:
		r.HandleDelete(ctx, ev.Topic, ev.TargetID)
	}
}

// HandleAppend adds msg to t.
//
// On the active topic the entry is shown even if persisting it fails. On a
// background topic a failed write leaves everything unchanged.
func (r *Router) HandleAppend(ctx context.Context, t Topic, msg model.Message) {
	if t == r.activeTopic {
		if !r.activeLog.Add(msg) {
			r.metrics.Duplicate()
			return
		}
		r.metrics.Appended(metrics.ScopeActive)
		r.view.MessageAppended(t, msg)
		if r.activeRead {
			if err := r.store.Replace(ctx, t, r.activeLog); err != nil {
				r.logStorage(ctx, "failed to persist message", t, err)
			}
			return
		}
		if _, err := r.store.Append(ctx, t, msg); err != nil {
			r.logStorage(ctx, "failed to persist message to unread history", t, err)
			return
		}
		r.recoverActive(ctx)
		return
	}

	added, err := r.store.Append(ctx, t, msg)
	if err != nil {
		r.logStorage(ctx, "failed to persist background message", t, err)
		return
	}
	if !added {
		r.metrics.Duplicate()
		return
	}
	r.metrics.Appended(metrics.ScopeBackground)

	r.unread[t]++
	r.view.UnreadChanged(t, r.unread[t])

	if !msg.IsMe {
		r.metrics.Notified()
		r.notifier.Show(ctx, "New message from "+msg.Sender, notificationBody(msg.Content), true)
	}
}

// HandleDelete removes id from t. An absent id is a no-op.
func (r *Router) HandleDelete(ctx context.Context, t Topic, id string) {
	if t == r.activeTopic {
		removed := r.activeLog.Remove(id)
		if r.activeRead {
			if !removed {
				return
			}
			r.metrics.Deleted(metrics.ScopeActive)
			if err := r.store.Replace(ctx, t, r.activeLog); err != nil {
				r.logStorage(ctx, "failed to persist deletion", t, err)
			}
			r.view.MessageRemoved(t, id)
			return
		}

		// The id may only exist in the history that could not be read.
		stored, err := r.store.Remove(ctx, t, id)
		if err != nil {
			r.logStorage(ctx, "failed to persist deletion to unread history", t, err)
		}
		if removed || stored {
			r.metrics.Deleted(metrics.ScopeActive)
			r.view.MessageRemoved(t, id)
		}
		if err == nil {
			r.recoverActive(ctx)
		}
		return
	}

	removed, err := r.store.Remove(ctx, t, id)
	if err != nil {
		r.logStorage(ctx, "failed to persist background deletion", t, err)
		return
	}
	if removed {
		r.metrics.Deleted(metrics.ScopeBackground)
	}
}

// Select makes t the active topic, clears its unread counter and loads its
// history.
func (r *Router) Select(ctx context.Context, t Topic) {
	r.activeTopic = t
	if r.unread[t] != 0 {
		delete(r.unread, t)
		r.view.UnreadChanged(t, 0)
	}

	l, err := r.store.Load(ctx, t)
	if err != nil {
		r.logStorage(ctx, "failed to load history", t, err)
	}
	// Undecodable history is discarded like Store.Append does; unreadable
	// history is kept out of reach of Replace.
	r.activeRead = err == nil || errors.Is(err, ErrDecode)
	l.markSelf(r.username)
	r.activeLog = l

	r.view.Render(t, l.Messages())
}

// recoverActive retries reading the active history once the store is
// reachable again. Messages received meanwhile are kept and written back.
func (r *Router) recoverActive(ctx context.Context) {
	l, err := r.store.Load(ctx, r.activeTopic)
	if err != nil && !errors.Is(err, ErrDecode) {
		return
	}
	changed := err != nil
	for _, m := range r.activeLog.Messages() {
		if l.Add(m) {
			changed = true
		}
	}
	if changed {
		if err := r.store.Replace(ctx, r.activeTopic, l); err != nil {
			r.logStorage(ctx, "failed to persist recovered history", r.activeTopic, err)
			return
		}
	}
	l.markSelf(r.username)
	r.activeLog = l
	r.activeRead = true
	r.view.Render(r.activeTopic, l.Messages())
}

// Reset forgets the identity, the active conversation and every unread
// counter. Persisted logs are kept.
func (r *Router) Reset() {
	r.username = ""
	r.activeTopic = ""
	r.activeLog = NewLog()
	r.activeRead = true
	clear(r.unread)
}

func (r *Router) logStorage(ctx context.Context, msg string, t Topic, err error) {
	if errors.Is(err, ErrDecode) {
		r.log.WarnContext(ctx, msg, "topic", t, "error", err)
		return
	}
	r.log.ErrorContext(ctx, msg, "topic", t, "error", err)
}

func notificationBody(content string) string {
	switch {
	case model.IsImage(content):
		return "Sent an image"
	case model.IsAudio(content):
		return "Sent an audio message"
	default:
		return content
	}
}
