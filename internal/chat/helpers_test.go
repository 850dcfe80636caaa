package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatsync/internal/model"
	"github.com/johndosdos/chatsync/internal/storage"
)

var (
	general      = GroupTopic(GeneralChat)
	aliceBob     = PrivateTopic("Alice", "Bob")
	aliceCharlie = PrivateTopic("Alice", "Charlie")
)

type notification struct {
	Title string
	Body  string
	Force bool
}

type recordingNotifier struct {
	mu        sync.Mutex
	requested int
	shown     []notification
}

func (n *recordingNotifier) RequestPermission(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested++
	return true
}

func (n *recordingNotifier) Show(_ context.Context, title, body string, force bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification{title, body, force})
}

func (n *recordingNotifier) notifications() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.shown...)
}

type recordingView struct {
	mu       sync.Mutex
	rendered []Topic
	appended []string
	removed  []string
	unread   map[Topic]int
	failures []error
}

func newRecordingView() *recordingView {
	return &recordingView{unread: make(map[Topic]int)}
}

func (v *recordingView) Render(t Topic, _ []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rendered = append(v.rendered, t)
}

func (v *recordingView) MessageAppended(_ Topic, m model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appended = append(v.appended, m.ID)
}

func (v *recordingView) MessageRemoved(_ Topic, id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = append(v.removed, id)
}

func (v *recordingView) UnreadChanged(t Topic, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unread[t] = n
}

func (v *recordingView) ConnectionFailed(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = append(v.failures, err)
}

func (v *recordingView) connectionFailures() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.failures...)
}

// countingKV counts writes and can fail reads.
type countingKV struct {
	*storage.Memory
	mu       sync.Mutex
	sets     int
	failGets bool
}

func newCountingKV() *countingKV {
	return &countingKV{Memory: storage.NewMemory()}
}

func (kv *countingKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	fail := kv.failGets
	kv.mu.Unlock()
	if fail {
		return "", false, errors.New("disk on fire")
	}
	return kv.Memory.Get(ctx, key)
}

func (kv *countingKV) failReads(fail bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.failGets = fail
}

func (kv *countingKV) Set(ctx context.Context, key, value string) error {
	kv.mu.Lock()
	kv.sets++
	kv.mu.Unlock()
	return kv.Memory.Set(ctx, key, value)
}

func (kv *countingKV) writes() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.sets
}

func msg(id, sender, content string) model.Message {
	return model.Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:      model.KindText,
	}
}

func payload(t *testing.T, m model.Message) string {
	t.Helper()
	p, err := model.Encode(m)
	require.NoError(t, err)
	return p
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
