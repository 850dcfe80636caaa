package broker

import "github.com/johndosdos/chatsync/internal/transport"

// Every chat topic lives on one stream, one subject per topic.
var (
	StreamName    = "CHAT"
	SubjectPrefix = StreamName + "." + "topics"
	SubjectAll    = SubjectPrefix + ".>"
)

// TopicHeader carries the chat topic of every stream message.
const TopicHeader = transport.TopicHeader

// Subject returns the stream subject of a chat topic.
func Subject(topic string) string {
	return SubjectPrefix + "." + transport.Subject(topic)
}
