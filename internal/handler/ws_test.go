package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatsync/internal/handler"
	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/transport"
	ws "github.com/johndosdos/chatsync/internal/websocket"
)

// loopback feeds every publish straight back to the hub, like a single
// relay instance on a broker.
type loopback struct {
	hub *ws.Hub
}

func (l *loopback) Publish(ctx context.Context, topic, payload string) error {
	l.hub.BrokerMsg <- model.Frame{Type: model.FrameMessage, Topic: topic, Payload: payload}
	return nil
}

func startRelay(t *testing.T, opts handler.WsOptions) string {
	t.Helper()
	lb := &loopback{}
	hub := ws.NewHub(lb, nil)
	lb.hub = hub

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(handler.ServeWs(hub, opts))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func receive(t *testing.T, ch <-chan transport.Inbound) transport.Inbound {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return transport.Inbound{}
	}
}

// join connects and subscribes to topic. It then probes a topic of its own
// and waits for the echo; the hub handles one socket's frames in order, so
// the echo proves topic is registered.
func join(t *testing.T, url, name, topic string) *transport.WebSocket {
	t.Helper()
	ctx := context.Background()
	c := transport.NewWebSocket(url, nil)
	require.NoError(t, c.Connect(ctx, name))
	t.Cleanup(func() { c.Close() })

	probe := "probe/" + name
	require.NoError(t, c.Subscribe(ctx, topic))
	require.NoError(t, c.Subscribe(ctx, probe))
	require.NoError(t, c.Publish(ctx, probe, "ready"))
	assert.Equal(t, transport.Inbound{Topic: probe, Payload: "ready"}, receive(t, c.Messages()))
	return c
}

func TestRelayFanOut(t *testing.T) {
	url := startRelay(t, handler.WsOptions{})
	ctx := context.Background()

	alice := join(t, url, "Alice", "chat/private/Alice-Bob")
	bob := join(t, url, "Bob", "chat/private/Alice-Bob")
	eve := join(t, url, "Eve", "chat/group/General")

	require.NoError(t, bob.Publish(ctx, "chat/private/Alice-Bob", "hello alice"))

	want := transport.Inbound{Topic: "chat/private/Alice-Bob", Payload: "hello alice"}
	assert.Equal(t, want, receive(t, alice.Messages()))
	assert.Equal(t, want, receive(t, bob.Messages()))

	// Eve is not subscribed to the private topic.
	require.NoError(t, eve.Publish(ctx, "chat/group/General", "marker"))
	assert.Equal(t, "marker", receive(t, eve.Messages()).Payload)
}

func TestRelayRateLimit(t *testing.T) {
	url := startRelay(t, handler.WsOptions{MessageLimit: 2, MessageWindow: time.Hour})
	ctx := context.Background()

	// The probe in join spends one token.
	alice := join(t, url, "Alice", "chat/group/General")

	require.NoError(t, alice.Publish(ctx, "chat/group/General", "allowed"))
	require.NoError(t, alice.Publish(ctx, "chat/group/General", "rejected"))
	require.NoError(t, alice.Publish(ctx, "chat/group/General", "rejected"))

	assert.Equal(t, "allowed", receive(t, alice.Messages()).Payload)
	select {
	case in := <-alice.Messages():
		t.Fatalf("unexpected frame %+v", in)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServeWsRequiresUsername(t *testing.T) {
	hub := ws.NewHub(&loopback{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	handler.ServeWs(hub, handler.WsOptions{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHealth(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]handler.Check
		wantCode int
		wantBody string
	}{
		{
			name:     "healthy",
			checks:   map[string]handler.Check{"nats": func() error { return nil }},
			wantCode: http.StatusOK,
			wantBody: `{"nats":"ok"}`,
		},
		{
			name: "broker down",
			checks: map[string]handler.Check{
				"nats": func() error { return errors.New("disconnected") },
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"nats":"disconnected"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHealth(tt.checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}
