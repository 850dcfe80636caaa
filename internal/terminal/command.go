package terminal

import "strings"

// Command names accepted at the prompt.
const (
	CmdSend   = "send"
	CmdChat   = "chat"
	CmdList   = "list"
	CmdDelete = "delete"
	CmdImage  = "image"
	CmdAudio  = "audio"
	CmdJoin   = "join"
	CmdLeave  = "leave"
	CmdHelp   = "help"
	CmdQuit   = "quit"
)

// Help lists the prompt commands.
const Help = `/join <name>     join as <name>
/chat <name>     open General or a private chat
/list            show chats and unread counts
/delete <id>     delete one of your messages
/image <path>    send an image file
/audio <path>    send an audio file
/leave           disconnect
/quit            exit
anything else    send as text`

// Command is one parsed prompt line.
type Command struct {
	Name string
	Arg  string
}

// ParseCommand parses a prompt line. Lines not starting with "/" are text
// to send; "//" escapes a leading slash. Blank lines return ok false.
func ParseCommand(line string) (cmd Command, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false
	}
	if strings.HasPrefix(line, "//") {
		return Command{Name: CmdSend, Arg: line[1:]}, true
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Name: CmdSend, Arg: line}, true
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	switch name {
	case CmdChat, CmdList, CmdDelete, CmdImage, CmdAudio, CmdJoin, CmdLeave, CmdHelp, CmdQuit:
		return Command{Name: name, Arg: strings.TrimSpace(arg)}, true
	case "q", "exit":
		return Command{Name: CmdQuit}, true
	default:
		return Command{Name: CmdHelp}, true
	}
}
