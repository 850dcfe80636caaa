// Package terminal renders conversations and notifications to a text
// terminal.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/johndosdos/chatsync/internal/chat"
	"github.com/johndosdos/chatsync/internal/model"
)

type palette struct {
	title  lipgloss.Style
	muted  lipgloss.Style
	me     lipgloss.Style
	peer   lipgloss.Style
	unread lipgloss.Style
	errs   lipgloss.Style
}

func newPalette(r *lipgloss.Renderer) palette {
	return palette{
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
		me:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		peer:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		unread: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		errs:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// View writes every conversation change to w as it happens. It is safe for
// concurrent use.
type View struct {
	mu     sync.Mutex
	w      io.Writer
	styles palette
	self   string
	now    func() time.Time
}

func NewView(w io.Writer) *View {
	return &View{
		w:      w,
		styles: newPalette(lipgloss.NewRenderer(w)),
		now:    time.Now,
	}
}

// SetSelf sets the username used to label private conversations.
func (v *View) SetSelf(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.self = name
}

func (v *View) Render(t chat.Topic, msgs []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	title := chat.ChatNameFromTopic(t, v.self)
	b.WriteString(v.styles.title.Render("── " + title + " ──"))
	b.WriteByte('\n')
	if len(msgs) == 0 {
		b.WriteString(v.styles.muted.Render("No messages yet"))
		b.WriteByte('\n')
	}
	for _, m := range msgs {
		b.WriteString(v.line(m))
		b.WriteByte('\n')
	}
	fmt.Fprint(v.w, b.String())
}

func (v *View) MessageAppended(_ chat.Topic, m model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, v.line(m))
}

func (v *View) MessageRemoved(_ chat.Topic, id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, v.styles.muted.Render("message "+id+" was deleted"))
}

func (v *View) UnreadChanged(t chat.Topic, n int) {
	if n == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	name := chat.ChatNameFromTopic(t, v.self)
	fmt.Fprintln(v.w, v.styles.unread.Render(fmt.Sprintf("● %s (%s unread)", name, humanize.Comma(int64(n)))))
}

func (v *View) ConnectionFailed(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.w, v.styles.errs.Render("connection failed: "+err.Error()))
}

// line formats one message: relative time, sender, then content. Own
// messages show as "You".
func (v *View) line(m model.Message) string {
	sender := v.styles.peer.Render(m.Sender)
	if m.IsMe {
		sender = v.styles.me.Render("You")
	}
	ts := v.styles.muted.Render(humanize.RelTime(m.Timestamp, v.now(), "ago", "from now"))
	id := v.styles.muted.Render("#" + m.ID)
	return fmt.Sprintf("%s %s: %s %s", ts, sender, Describe(m.Content), id)
}

// Describe returns the printable form of message content. Attachments are
// summarized by kind, type and size.
func Describe(content string) string {
	kind, mime, data, ok := model.Attachment(content)
	if !ok {
		if model.IsImage(content) || model.IsAudio(content) {
			return "[unreadable attachment]"
		}
		return content
	}
	return fmt.Sprintf("[%s %s, %s]", kind, mime, humanize.Bytes(uint64(len(data))))
}
