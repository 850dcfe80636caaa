package chat

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/storage"
	"github.com/johndosdos/chatsync/internal/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var defaultPeers = []string{"Alice", "Bob", "Charlie", "David", "Eve"}

type clientFixture struct {
	client    *Client
	transport *transport.Memory
	kv        *storage.Memory
	notifier  *recordingNotifier
	view      *recordingView
}

// startClient runs a client on bus until the test ends.
func startClient(t *testing.T, bus *transport.Bus, kv *storage.Memory) *clientFixture {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemory()
	}
	f := &clientFixture{
		transport: bus.Client(),
		kv:        kv,
		notifier:  &recordingNotifier{},
		view:      newRecordingView(),
	}
	f.client = NewClient(Options{
		Transport:   f.transport,
		Persistence: kv,
		Notifier:    f.notifier,
		View:        f.view,
		Peers:       defaultPeers,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
	return f
}

func (f *clientFixture) messageIDs(t *testing.T) []string {
	t.Helper()
	msgs, err := f.client.Messages(context.Background())
	require.NoError(t, err)
	return ids(msgs)
}

func (f *clientFixture) unread(t *testing.T) map[Topic]int {
	t.Helper()
	u, err := f.client.Unread(context.Background())
	require.NoError(t, err)
	return u
}

// waitForMessage blocks until id is in the active log. Sending a marker
// after an event and waiting for it proves the event was processed.
func (f *clientFixture) waitForMessage(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Contains(f.messageIDs(t), id)
	}, waitFor, tick, "message %s never arrived", id)
}

// peer is a raw transport publishing on behalf of another user.
func peer(t *testing.T, bus *transport.Bus, name string) func(topic Topic, m model.Message) {
	t.Helper()
	tr := bus.Client()
	require.NoError(t, tr.Connect(context.Background(), name))
	return func(topic Topic, m model.Message) {
		require.NoError(t, tr.Publish(context.Background(), string(topic), payload(t, m)))
	}
}

func TestClientScenario(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	alice := startClient(t, bus, nil)
	bob := peer(t, bus, "Bob")

	require.NoError(t, alice.client.Join(ctx, "Alice"))
	assert.Equal(t, 1, alice.notifier.requested)

	active, err := alice.client.ActiveTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, general, active)

	// Bob's message in the shared room lands in the active log.
	bob(general, msg("m1", "Bob", "hello"))
	alice.waitForMessage(t, "m1")
	assert.Empty(t, alice.unread(t))

	// A private message raises the unread count and a notification.
	bob(aliceBob, msg("m2", "Bob", "hi"))
	require.Eventually(t, func() bool {
		return alice.unread(t)[aliceBob] == 1
	}, waitFor, tick)
	assert.Equal(t, []notification{{"New message from Bob", "hi", true}}, alice.notifier.notifications())

	// A redelivered message is ignored.
	bus.Deliver(string(general), payload(t, msg("m1", "Bob", "hello")))
	bob(general, msg("marker", "Bob", "."))
	alice.waitForMessage(t, "marker")
	assert.Equal(t, []string{"m1", "marker"}, alice.messageIDs(t))

	// Alice's own message comes back through the transport.
	sent, err := alice.client.SendText(ctx, "m3 text")
	require.NoError(t, err)
	alice.waitForMessage(t, sent.ID)

	msgs, err := alice.client.Messages(ctx)
	require.NoError(t, err)
	own := msgs[slices.IndexFunc(msgs, func(m model.Message) bool { return m.ID == sent.ID })]
	assert.True(t, own.IsMe)

	// Deleting it removes it locally before the round trip and publishes
	// a delete signal for the same id.
	require.NoError(t, alice.client.Delete(ctx, sent.ID))
	assert.NotContains(t, alice.messageIDs(t), sent.ID)

	published := bus.Published()
	last := published[len(published)-1]
	assert.Equal(t, string(general), last.Topic)
	tomb, err := model.Decode([]byte(last.Payload), time.Now())
	require.NoError(t, err)
	assert.Equal(t, sent.ID, tomb.ID)
	assert.Equal(t, model.KindDelete, tomb.Kind)
	assert.Equal(t, "Alice", tomb.Sender)
}

func TestClientDeletePropagates(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	alice := startClient(t, bus, nil)
	bob := startClient(t, bus, nil)

	require.NoError(t, alice.client.Join(ctx, "Alice"))
	require.NoError(t, bob.client.Join(ctx, "Bob"))
	require.NoError(t, alice.client.SelectChat(ctx, "Bob"))
	require.NoError(t, bob.client.SelectChat(ctx, "Alice"))

	sent, err := alice.client.SendText(ctx, "oops")
	require.NoError(t, err)
	bob.waitForMessage(t, sent.ID)
	alice.waitForMessage(t, sent.ID)

	// Bob cannot delete Alice's message.
	assert.ErrorIs(t, bob.client.Delete(ctx, sent.ID), ErrNotOwner)
	assert.ErrorIs(t, bob.client.Delete(ctx, "nope"), ErrNotFound)

	require.NoError(t, alice.client.Delete(ctx, sent.ID))
	require.Eventually(t, func() bool {
		return !slices.Contains(bob.messageIDs(t), sent.ID)
	}, waitFor, tick)

	// The deletion reached Bob's persisted history too.
	l, err := NewStore(bob.kv, nil, nil).Load(ctx, aliceBob)
	require.NoError(t, err)
	assert.False(t, l.Has(sent.ID))
}

func TestClientDropsMalformedPayloads(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	alice := startClient(t, bus, nil)
	bob := peer(t, bus, "Bob")
	require.NoError(t, alice.client.Join(ctx, "Alice"))

	bus.Deliver(string(general), "not json")
	bus.Deliver(string(general), `{"id":"x"}`)
	bob(general, msg("marker", "Bob", "."))

	alice.waitForMessage(t, "marker")
	assert.Equal(t, []string{"marker"}, alice.messageIDs(t))
}

func TestClientJoinValidation(t *testing.T) {
	ctx := context.Background()
	alice := startClient(t, transport.NewBus(), nil)

	assert.ErrorIs(t, alice.client.Join(ctx, "   "), ErrInvalidUsername)

	require.NoError(t, alice.client.Join(ctx, " Alice "))
	name, err := alice.client.Username(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	assert.NoError(t, alice.client.Join(ctx, "Alice"))
	assert.ErrorIs(t, alice.client.Join(ctx, "Bob"), ErrAlreadyJoined)

	chats, err := alice.client.Chats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{GeneralChat, "Bob", "Charlie", "David", "Eve"}, chats)
}

func TestClientJoinConnectFailure(t *testing.T) {
	ctx := context.Background()
	alice := startClient(t, transport.NewBus(), nil)
	alice.transport.ConnectErr = errors.New("broker unreachable")

	err := alice.client.Join(ctx, "Alice")
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, ErrConnection)
	assert.Len(t, alice.view.connectionFailures(), 1)

	_, err = alice.client.SendText(ctx, "hi")
	assert.ErrorIs(t, err, ErrNotJoined)
	name, err := alice.client.Username(ctx)
	require.NoError(t, err)
	assert.Empty(t, name)

	// Retrying after the broker comes back succeeds.
	alice.transport.ConnectErr = nil
	require.NoError(t, alice.client.Join(ctx, "Alice"))
}

func TestClientJoinSubscribeFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	alice := startClient(t, transport.NewBus(), nil)
	alice.transport.SubscribeErr = errors.New("permission denied")

	err := alice.client.Join(ctx, "Alice")
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, alice.transport.Connected())

	active, err := alice.client.ActiveTopic(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.ErrorIs(t, alice.client.SelectChat(ctx, "Bob"), ErrNotJoined)
}

func TestClientLeaveKeepsHistory(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	kv := storage.NewMemory()
	alice := startClient(t, bus, kv)
	bob := peer(t, bus, "Bob")

	require.NoError(t, alice.client.Join(ctx, "Alice"))
	sent, err := alice.client.SendText(ctx, "before leaving")
	require.NoError(t, err)
	bob(general, msg("m1", "Bob", "hi"))
	alice.waitForMessage(t, sent.ID)
	alice.waitForMessage(t, "m1")

	require.NoError(t, alice.client.Leave(ctx))
	assert.False(t, alice.transport.Connected())
	assert.Empty(t, alice.messageIDs(t))
	active, err := alice.client.ActiveTopic(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Publishing while away is not delivered.
	bob(general, msg("m2", "Bob", "missed"))

	require.NoError(t, alice.client.Join(ctx, "Alice"))
	msgs, err := alice.client.Messages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{sent.ID, "m1"}, ids(msgs))
	assert.True(t, msgs[0].IsMe)
	assert.False(t, msgs[1].IsMe)
}

func TestClientSelectChatResetsUnread(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	alice := startClient(t, bus, nil)
	eve := peer(t, bus, "Eve")
	require.NoError(t, alice.client.Join(ctx, "Alice"))

	aliceEve := PrivateTopic("Alice", "Eve")
	eve(aliceEve, msg("e1", "Eve", "one"))
	eve(aliceEve, msg("e2", "Eve", "two"))
	require.Eventually(t, func() bool {
		return alice.unread(t)[aliceEve] == 2
	}, waitFor, tick)

	require.NoError(t, alice.client.SelectChat(ctx, "Eve"))
	assert.Empty(t, alice.unread(t))
	assert.Equal(t, []string{"e1", "e2"}, alice.messageIDs(t))
}

func TestClientNotJoined(t *testing.T) {
	ctx := context.Background()
	alice := startClient(t, transport.NewBus(), nil)

	_, err := alice.client.SendText(ctx, "hi")
	assert.ErrorIs(t, err, ErrNotJoined)
	_, err = alice.client.SendImage(ctx, "image/png", []byte{1})
	assert.ErrorIs(t, err, ErrNotJoined)
	_, err = alice.client.SendAudio(ctx, "audio/webm", []byte{1})
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.ErrorIs(t, alice.client.Delete(ctx, "m1"), ErrNotJoined)
	assert.NoError(t, alice.client.Leave(ctx))
}

func TestClientBlankTextIsNotPublished(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus()
	alice := startClient(t, bus, nil)
	require.NoError(t, alice.client.Join(ctx, "Alice"))

	_, err := alice.client.SendText(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, bus.Published())
}

func TestClientStopped(t *testing.T) {
	c := NewClient(Options{Transport: transport.NewBus().Client(), Persistence: storage.NewMemory()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)

	assert.ErrorIs(t, c.Join(context.Background(), "Alice"), ErrClosed)
}
