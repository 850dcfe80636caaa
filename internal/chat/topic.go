package chat

import "strings"

// Topic addresses one conversation on the transport.
type Topic string

const (
	GroupPrefix   = "chat/group/"
	PrivatePrefix = "chat/private/"

	// GeneralChat is the display name of the shared room in the chat list.
	GeneralChat = "General"
)

// GroupTopic returns the topic of a shared room.
func GroupTopic(room string) Topic {
	return Topic(GroupPrefix + room)
}

// PrivateTopic returns the topic shared by two users. The pair is sorted
// byte-wise so both sides compute the same topic.
func PrivateTopic(a, b string) Topic {
	if b < a {
		a, b = b, a
	}
	return Topic(PrivatePrefix + a + "-" + b)
}

// TopicFor maps an entry of the chat list to its topic. GeneralChat selects
// the shared room; any other name is a peer.
func TopicFor(self, chat, room string) Topic {
	if chat == GeneralChat {
		return GroupTopic(room)
	}
	return PrivateTopic(self, chat)
}

// IsGroup reports whether t is a shared room topic.
func (t Topic) IsGroup() bool { return strings.HasPrefix(string(t), GroupPrefix) }

// ChatNameFromTopic is the reverse of TopicFor: the chat list entry that
// selects t, as seen by self. It returns "Unknown" for topics self is not
// part of.
func ChatNameFromTopic(t Topic, self string) string {
	if t.IsGroup() {
		return GeneralChat
	}
	pair, ok := strings.CutPrefix(string(t), PrivatePrefix)
	if !ok {
		return "Unknown"
	}
	if peer, ok := strings.CutPrefix(pair, self+"-"); ok && peer != "" {
		return peer
	}
	if peer, ok := strings.CutSuffix(pair, "-"+self); ok && peer != "" {
		return peer
	}
	return "Unknown"
}

// ChatList returns GeneralChat followed by every peer except self, in order.
// Blank and repeated names are skipped.
func ChatList(self string, peers []string) []string {
	chats := []string{GeneralChat}
	seen := map[string]bool{GeneralChat: true, self: true}
	for _, p := range peers {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		chats = append(chats, p)
	}
	return chats
}
