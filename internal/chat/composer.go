package chat

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/johndosdos/chatsync/internal/model"
)

// DeletedContent is the content of every delete tombstone.
const DeletedContent = "Message deleted"

type sanitizer interface {
	Sanitize(s string) string
}

// Composer builds outbound messages.
type Composer struct {
	now       func() time.Time
	entropy   io.Reader
	sanitizer sanitizer
}

func NewComposer() *Composer {
	return &Composer{
		now:       time.Now,
		entropy:   ulid.DefaultEntropy(),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (c *Composer) newID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), c.entropy)
	if err != nil {
		return "", fmt.Errorf("could not generate message id: %w", err)
	}
	return id.String(), nil
}

func (c *Composer) compose(sender, content string, kind model.Kind) (model.Message, error) {
	now := c.now().UTC()
	id, err := c.newID(now)
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: now,
		Kind:      kind,
		IsMe:      true,
	}, nil
}

// Text builds a text message. Markup is stripped and surrounding whitespace
// trimmed; nothing left means ErrEmptyMessage. Content stays plain text, so
// the entities the sanitizer escapes are turned back into characters.
func (c *Composer) Text(sender, text string) (model.Message, error) {
	text = strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(strings.TrimSpace(text))))
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}
	return c.compose(sender, text, model.KindText)
}

// Image builds an image message carrying data as a tagged data URL.
func (c *Composer) Image(sender, mime string, data []byte) (model.Message, error) {
	if len(data) == 0 {
		return model.Message{}, ErrEmptyMessage
	}
	return c.compose(sender, model.DataURL(model.ImagePrefix, mime, data), model.KindImage)
}

// Audio builds an audio message carrying data as a tagged data URL.
func (c *Composer) Audio(sender, mime string, data []byte) (model.Message, error) {
	if len(data) == 0 {
		return model.Message{}, ErrEmptyMessage
	}
	return c.compose(sender, model.DataURL(model.AudioPrefix, mime, data), model.KindAudio)
}

// Delete builds the tombstone for targetID. The tombstone reuses the target
// id.
func (c *Composer) Delete(sender, targetID string) model.Message {
	return model.Message{
		ID:        targetID,
		Sender:    sender,
		Content:   DeletedContent,
		Timestamp: c.now().UTC(),
		Kind:      model.KindDelete,
		IsMe:      true,
	}
}
