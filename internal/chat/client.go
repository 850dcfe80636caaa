package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/transport"
)

// Options configures a Client.
type Options struct {
	Transport   transport.Transport
	Persistence Persistence
	Notifier    Notifier
	View        View
	Logger      *slog.Logger
	Metrics     *metrics.Sync

	// Room is the shared room behind GeneralChat.
	Room string
	// Peers are the users offered as private conversations.
	Peers []string
}

type command struct {
	fn   func()
	done chan struct{}
}

// Client is one user's chat session. Every method runs inside Run, so state
// transitions never interleave; methods block until Run has executed them.
type Client struct {
	transport transport.Transport
	router    *Router
	ingestor  *Ingestor
	composer  *Composer
	notifier  Notifier
	view      View
	log       *slog.Logger

	room  string
	peers []string

	joined   bool
	inbound  <-chan transport.Inbound
	commands chan command
	stopped  chan struct{}
}

func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.View == nil {
		opts.View = NopView{}
	}
	if opts.Room == "" {
		opts.Room = GeneralChat
	}

	store := NewStore(opts.Persistence, opts.Logger, opts.Metrics)
	return &Client{
		transport: opts.Transport,
		router:    NewRouter(store, opts.Notifier, opts.View, opts.Logger, opts.Metrics),
		ingestor:  NewIngestor(opts.Logger, opts.Metrics),
		composer:  NewComposer(),
		notifier:  opts.Notifier,
		view:      opts.View,
		log:       opts.Logger,
		room:      opts.Room,
		peers:     opts.Peers,
		commands:  make(chan command),
		stopped:   make(chan struct{}),
	}
}

// Run consumes inbound events and client commands until ctx is done. It must
// be running for any other method to return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)

	for {
		select {
		case in, ok := <-c.inbound:
			if !ok {
				c.log.WarnContext(ctx, "transport closed the inbound stream",
					"username", c.router.Username())
				c.inbound = nil
				continue
			}
			c.receive(ctx, in)

		case cmd := <-c.commands:
			cmd.fn()
			close(cmd.done)

		case <-ctx.Done():
			if c.joined {
				c.leave(ctx)
			}
			return ctx.Err()
		}
	}
}

func (c *Client) receive(ctx context.Context, in transport.Inbound) {
	ev, err := c.ingestor.Ingest(in, c.router.Username())
	if err != nil {
		c.log.WarnContext(ctx, "dropping inbound message",
			"topic", in.Topic,
			"error", err)
		return
	}
	c.router.Dispatch(ctx, ev)
}

// do runs fn inside Run and waits for it.
func (c *Client) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.commands <- cmd:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join connects as username, subscribes to every conversation in the chat
// list and opens the shared room. Joining again as the same user is a no-op.
func (c *Client) Join(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidUsername
	}

	var err error
	if doErr := c.do(ctx, func() { err = c.join(ctx, username) }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Client) join(ctx context.Context, username string) error {
	if c.joined {
		if c.router.Username() == username {
			return nil
		}
		return ErrAlreadyJoined
	}

	if err := c.transport.Connect(ctx, username); err != nil {
		return c.connectionFailed(ctx, &ConnectionError{Op: "chat.Join", Err: err})
	}

	for _, name := range ChatList(username, c.peers) {
		t := TopicFor(username, name, c.room)
		if err := c.transport.Subscribe(ctx, string(t)); err != nil {
			if cerr := c.transport.Close(); cerr != nil {
				c.log.WarnContext(ctx, "failed to close transport", "error", cerr)
			}
			return c.connectionFailed(ctx, &ConnectionError{
				Op:  "chat.Join",
				Err: fmt.Errorf("subscribe %s: %w", t, err),
			})
		}
	}

	c.router.SetUsername(username)
	c.joined = true
	c.inbound = c.transport.Messages()
	c.notifier.RequestPermission(ctx)
	c.router.Select(ctx, GroupTopic(c.room))

	c.log.InfoContext(ctx, "joined",
		"username", username,
		"room", c.room)
	return nil
}

func (c *Client) connectionFailed(ctx context.Context, err *ConnectionError) error {
	c.log.ErrorContext(ctx, "failed to join", "error", err)
	c.view.ConnectionFailed(err)
	return err
}

// Leave disconnects and clears the in-memory session. Persisted history is
// kept.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, func() { c.leave(ctx) })
}

func (c *Client) leave(ctx context.Context) {
	if !c.joined {
		return
	}
	if err := c.transport.Close(); err != nil {
		c.log.WarnContext(ctx, "failed to close transport", "error", err)
	}
	c.log.InfoContext(ctx, "left", "username", c.router.Username())
	c.router.Reset()
	c.joined = false
	c.inbound = nil
}

// SelectChat opens the conversation behind a chat list entry.
func (c *Client) SelectChat(ctx context.Context, chat string) error {
	var err error
	if doErr := c.do(ctx, func() {
		if !c.joined {
			err = ErrNotJoined
			return
		}
		c.router.Select(ctx, TopicFor(c.router.Username(), chat, c.room))
	}); doErr != nil {
		return doErr
	}
	return err
}

// SendText publishes text to the active conversation.
func (c *Client) SendText(ctx context.Context, text string) (model.Message, error) {
	return c.send(ctx, func(sender string) (model.Message, error) {
		return c.composer.Text(sender, text)
	})
}

// SendImage publishes an image to the active conversation.
func (c *Client) SendImage(ctx context.Context, mime string, data []byte) (model.Message, error) {
	return c.send(ctx, func(sender string) (model.Message, error) {
		return c.composer.Image(sender, mime, data)
	})
}

// SendAudio publishes an audio clip to the active conversation.
func (c *Client) SendAudio(ctx context.Context, mime string, data []byte) (model.Message, error) {
	return c.send(ctx, func(sender string) (model.Message, error) {
		return c.composer.Audio(sender, mime, data)
	})
}

// send publishes the composed message. The local log is updated when the
// message comes back from the transport.
func (c *Client) send(ctx context.Context, compose func(sender string) (model.Message, error)) (model.Message, error) {
	var (
		msg model.Message
		err error
	)
	doErr := c.do(ctx, func() {
		if !c.joined {
			err = ErrNotJoined
			return
		}
		if msg, err = compose(c.router.Username()); err != nil {
			return
		}
		err = c.publish(ctx, c.router.ActiveTopic(), msg)
	})
	if doErr != nil {
		return model.Message{}, doErr
	}
	return msg, err
}

// Delete retracts one of the user's own messages in the active conversation.
// The tombstone is published and the message removed locally without
// waiting for the round trip. The local removal happens even if publishing
// fails; the error is still returned.
func (c *Client) Delete(ctx context.Context, id string) error {
	var err error
	doErr := c.do(ctx, func() {
		if !c.joined {
			err = ErrNotJoined
			return
		}
		target, ok := c.router.Lookup(id)
		if !ok {
			err = ErrNotFound
			return
		}
		if !target.IsMe {
			err = ErrNotOwner
			return
		}

		t := c.router.ActiveTopic()
		err = c.publish(ctx, t, c.composer.Delete(c.router.Username(), id))
		c.router.HandleDelete(ctx, t, id)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (c *Client) publish(ctx context.Context, t Topic, msg model.Message) error {
	payload, err := model.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(ctx, string(t), payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t, err)
	}
	return nil
}

// Username returns the joined identity, or "" when not joined.
func (c *Client) Username(ctx context.Context) (string, error) {
	var name string
	err := c.do(ctx, func() { name = c.router.Username() })
	return name, err
}

// ActiveTopic returns the conversation being viewed.
func (c *Client) ActiveTopic(ctx context.Context) (Topic, error) {
	var t Topic
	err := c.do(ctx, func() { t = c.router.ActiveTopic() })
	return t, err
}

// Messages returns a copy of the active conversation's log.
func (c *Client) Messages(ctx context.Context) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, func() { msgs = c.router.Messages() })
	return msgs, err
}

// Unread returns the unread counter of every background conversation that
// has one.
func (c *Client) Unread(ctx context.Context) (map[Topic]int, error) {
	var counts map[Topic]int
	err := c.do(ctx, func() { counts = c.router.UnreadCounts() })
	return counts, err
}

// Chats returns the chat list of the joined user.
func (c *Client) Chats(ctx context.Context) ([]string, error) {
	var chats []string
	err := c.do(ctx, func() {
		if c.joined {
			chats = ChatList(c.router.Username(), c.peers)
		}
	})
	return chats, err
}
