package chat

import (
	"encoding/json"

	"github.com/johndosdos/chatsync/internal/model"
)

// Log is the ordered message history of one topic. No two entries share an
// id. The zero value is an empty log; a nil *Log reads as empty.
type Log struct {
	msgs []model.Message
	ids  map[string]struct{}
}

// NewLog builds a log from msgs in order. Later entries with an id that is
// already present are dropped.
func NewLog(msgs ...model.Message) *Log {
	l := &Log{}
	for _, m := range msgs {
		l.Add(m)
	}
	return l
}

func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.msgs)
}

func (l *Log) Has(id string) bool {
	if l == nil {
		return false
	}
	_, ok := l.ids[id]
	return ok
}

// Get returns the entry with the given id.
func (l *Log) Get(id string) (model.Message, bool) {
	if !l.Has(id) {
		return model.Message{}, false
	}
	for _, m := range l.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

// Add appends m unless its id is already logged. It reports whether the log
// changed.
func (l *Log) Add(m model.Message) bool {
	if l.ids == nil {
		l.ids = make(map[string]struct{})
	}
	if _, ok := l.ids[m.ID]; ok {
		return false
	}
	l.ids[m.ID] = struct{}{}
	l.msgs = append(l.msgs, m)
	return true
}

// Remove drops the entry with the given id. It reports whether the log
// changed.
func (l *Log) Remove(id string) bool {
	if !l.Has(id) {
		return false
	}
	delete(l.ids, id)
	for i, m := range l.msgs {
		if m.ID == id {
			l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Messages returns a copy of the entries in arrival order.
func (l *Log) Messages() []model.Message {
	if l == nil || len(l.msgs) == 0 {
		return nil
	}
	out := make([]model.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// markSelf recomputes IsMe for every entry. IsMe is never persisted.
func (l *Log) markSelf(self string) {
	for i := range l.msgs {
		l.msgs[i].IsMe = self != "" && l.msgs[i].Sender == self
	}
}

// MarshalJSON encodes the log as an array of wire messages.
func (l *Log) MarshalJSON() ([]byte, error) {
	if l == nil || l.msgs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.msgs)
}

// UnmarshalJSON decodes an array of wire messages. Every entry is validated
// like an inbound payload; repeated ids collapse to the first.
func (l *Log) UnmarshalJSON(b []byte) error {
	var msgs []model.Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return err
	}
	*l = *NewLog(msgs...)
	return nil
}
