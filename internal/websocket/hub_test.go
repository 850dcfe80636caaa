package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
)

type recordingBroker struct {
	mu   sync.Mutex
	got  []model.Frame
	fail error
}

func (b *recordingBroker) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.got = append(b.got, model.Frame{Type: model.FramePublish, Topic: topic, Payload: payload})
	return nil
}

func (b *recordingBroker) frames() []model.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Frame(nil), b.got...)
}

func startHub(t *testing.T, b Broker) (*Hub, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := NewHub(b, metrics.NewRelay(reg))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h, reg
}

// counter sums the named relay counter across its series.
func counter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "chatsync_relay_"+name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func register(t *testing.T, h *Hub, name string) *Client {
	t.Helper()
	c := NewClient(nil, name)
	reg := Registration{Client: c, Done: make(chan struct{})}
	h.Register <- reg
	<-reg.Done
	require.Same(t, h, c.Hub)
	return c
}

func receive(t *testing.T, c *Client) model.Frame {
	t.Helper()
	select {
	case f := <-c.MessageCh:
		return f
	case <-time.After(time.Second):
		t.Fatalf("%s received nothing", c.Username)
		return model.Frame{}
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	h, m := startHub(t, &recordingBroker{})
	alice := register(t, h, "Alice")
	bob := register(t, h, "Bob")

	h.Subscribe <- Subscription{Client: alice, Topic: "chat/General"}
	h.Subscribe <- Subscription{Client: bob, Topic: "chat/General"}
	h.Subscribe <- Subscription{Client: bob, Topic: "private/Alice-Bob"}

	h.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: "private/Alice-Bob", Payload: "p1"}
	h.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: "chat/General", Payload: "g1"}

	assert.Equal(t, "p1", receive(t, bob).Payload)
	assert.Equal(t, "g1", receive(t, bob).Payload)
	assert.Equal(t, "g1", receive(t, alice).Payload, "alice only hears General")

	require.Eventually(t, func() bool { return counter(t, m, "delivered_total") == 3 }, time.Second, 10*time.Millisecond)
}

func TestHubPublishesClientFrames(t *testing.T) {
	b := &recordingBroker{}
	h, _ := startHub(t, b)

	h.ClientMsg <- model.Frame{Type: model.FramePublish, Topic: "chat/General", Payload: "hi"}
	require.Eventually(t, func() bool { return len(b.frames()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi", b.frames()[0].Payload)
}

func TestHubPublishFailure(t *testing.T) {
	b := &recordingBroker{fail: errors.New("stream unavailable")}
	h, m := startHub(t, b)

	h.ClientMsg <- model.Frame{Type: model.FramePublish, Topic: "chat/General", Payload: "lost"}
	// The hub keeps serving after a failed publish.
	c := register(t, h, "Alice")
	assert.NotNil(t, c)
	assert.Zero(t, counter(t, m, "published_total"))
	assert.Empty(t, b.frames())
}

func TestHubUnregister(t *testing.T) {
	h, _ := startHub(t, &recordingBroker{})
	alice := register(t, h, "Alice")
	h.Subscribe <- Subscription{Client: alice, Topic: "chat/General"}

	h.Unregister <- alice
	_, open := <-alice.MessageCh
	assert.False(t, open, "unregister closes the client's queue")

	// A second unregister and a late subscribe are ignored.
	h.Unregister <- alice
	h.Subscribe <- Subscription{Client: alice, Topic: "chat/General"}
	h.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: "chat/General", Payload: "g"}

	bob := register(t, h, "Bob")
	h.Subscribe <- Subscription{Client: bob, Topic: "chat/Other"}
	h.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: "chat/Other", Payload: "g2"}
	assert.Equal(t, "g2", receive(t, bob).Payload)
}

func TestHubDropsForSlowClient(t *testing.T) {
	h, m := startHub(t, &recordingBroker{})
	slow := register(t, h, "Slow")
	h.Subscribe <- Subscription{Client: slow, Topic: "chat/General"}

	n := cap(slow.MessageCh) + 5
	for range n {
		h.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: "chat/General", Payload: "x"}
	}

	require.Eventually(t, func() bool { return counter(t, m, "dropped_total") == 5 }, time.Second, 10*time.Millisecond)
	assert.Len(t, slow.MessageCh, cap(slow.MessageCh))
}

func TestClientAllow(t *testing.T) {
	c := NewClient(nil, "Alice")
	assert.True(t, c.allow(), "no limiter means unlimited")

	c.SetMessageLimiter(2, time.Minute)
	assert.True(t, c.allow())
	assert.True(t, c.allow())
	assert.False(t, c.allow())
}
