package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/johndosdos/chatsync/internal/chat"
	"github.com/johndosdos/chatsync/internal/model"
)

// ErrQuit is returned by Execute and Run when the user asks to exit.
var ErrQuit = errors.New("quit")

// maxAttachment bounds files read for /image and /audio, leaving room in a
// frame for the base64 growth.
const maxAttachment = model.MaxFrameBytes / 2

// Session is the subset of chat.Client the prompt drives.
type Session interface {
	Join(ctx context.Context, username string) error
	Leave(ctx context.Context) error
	SelectChat(ctx context.Context, chat string) error
	SendText(ctx context.Context, text string) (model.Message, error)
	SendImage(ctx context.Context, mime string, data []byte) (model.Message, error)
	SendAudio(ctx context.Context, mime string, data []byte) (model.Message, error)
	Delete(ctx context.Context, id string) error
	Username(ctx context.Context) (string, error)
	Chats(ctx context.Context) ([]string, error)
	Unread(ctx context.Context) (map[chat.Topic]int, error)
}

// Prompt reads commands and applies them to a session.
type Prompt struct {
	session Session
	view    *View
	out     io.Writer
	room    string
}

func NewPrompt(session Session, view *View, out io.Writer, room string) *Prompt {
	if room == "" {
		room = chat.GeneralChat
	}
	return &Prompt{session: session, view: view, out: out, room: room}
}

// Run executes one command per line of r until r is exhausted, ctx is done
// or the user quits. Command errors are printed and do not stop the loop.
func (p *Prompt) Run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}
			cmd, ok := ParseCommand(line)
			if !ok {
				continue
			}
			err := p.Execute(ctx, cmd)
			if errors.Is(err, ErrQuit) {
				return err
			}
			if err != nil {
				fmt.Fprintf(p.out, "error: %v\n", err)
			}
		}
	}
}

// Execute applies a single command.
func (p *Prompt) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Name {
	case CmdSend:
		_, err := p.session.SendText(ctx, cmd.Arg)
		return err
	case CmdJoin:
		p.view.SetSelf(strings.TrimSpace(cmd.Arg))
		err := p.session.Join(ctx, cmd.Arg)
		if err != nil {
			name, _ := p.session.Username(ctx)
			p.view.SetSelf(name)
		}
		return err
	case CmdChat:
		if cmd.Arg == "" {
			return errors.New("usage: /chat <name>")
		}
		return p.session.SelectChat(ctx, cmd.Arg)
	case CmdList:
		return p.list(ctx)
	case CmdDelete:
		if cmd.Arg == "" {
			return errors.New("usage: /delete <id>")
		}
		return p.session.Delete(ctx, cmd.Arg)
	case CmdImage:
		mime, data, err := readAttachment(cmd.Arg, "image/")
		if err != nil {
			return err
		}
		_, err = p.session.SendImage(ctx, mime, data)
		return err
	case CmdAudio:
		mime, data, err := readAttachment(cmd.Arg, "audio/")
		if err != nil {
			return err
		}
		_, err = p.session.SendAudio(ctx, mime, data)
		return err
	case CmdLeave:
		return p.session.Leave(ctx)
	case CmdQuit:
		return ErrQuit
	default:
		fmt.Fprintln(p.out, Help)
		return nil
	}
}

func (p *Prompt) list(ctx context.Context) error {
	self, err := p.session.Username(ctx)
	if err != nil {
		return err
	}
	if self == "" {
		return chat.ErrNotJoined
	}
	chats, err := p.session.Chats(ctx)
	if err != nil {
		return err
	}
	unread, err := p.session.Unread(ctx)
	if err != nil {
		return err
	}

	for _, name := range chats {
		line := name
		if n := unread[chat.TopicFor(self, name, p.room)]; n > 0 {
			line = fmt.Sprintf("%s (%s)", name, humanize.Comma(int64(n)))
		}
		fmt.Fprintln(p.out, line)
	}
	return nil
}

// readAttachment loads a file and checks its sniffed type against want.
func readAttachment(path, want string) (string, []byte, error) {
	if path == "" {
		return "", nil, fmt.Errorf("usage: /%s <path>", strings.TrimSuffix(want, "/"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if info.Size() > maxAttachment {
		return "", nil, fmt.Errorf("%s is %s; the limit is %s",
			path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(maxAttachment))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	mime := http.DetectContentType(data)
	if mime == "application/ogg" && want == "audio/" {
		mime = "audio/ogg"
	}
	if !strings.HasPrefix(mime, want) {
		return "", nil, fmt.Errorf("%s looks like %s, not %s*", path, mime, want)
	}
	mime, _, _ = strings.Cut(mime, ";")
	return mime, data, nil
}
