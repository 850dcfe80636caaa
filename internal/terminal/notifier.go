package terminal

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Notifier rings the terminal bell and prints a one line notice.
type Notifier struct {
	mu      sync.Mutex
	w       io.Writer
	granted bool
	bell    bool
}

// NewNotifier writes notices to w. bell adds the BEL character to each
// notice.
func NewNotifier(w io.Writer, bell bool) *Notifier {
	return &Notifier{w: w, bell: bell}
}

// RequestPermission always succeeds; a terminal needs no consent.
func (n *Notifier) RequestPermission(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.granted = true
	return true
}

// Show prints the notice once permission has been requested. Without
// forceShow nothing is printed, since the user is already looking at the
// terminal.
func (n *Notifier) Show(_ context.Context, title, body string, forceShow bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.granted || !forceShow {
		return
	}
	prefix := ""
	if n.bell {
		prefix = "\a"
	}
	fmt.Fprintf(n.w, "%s🔔 %s: %s\n", prefix, title, body)
}
