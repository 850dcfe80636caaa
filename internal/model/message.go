// Package model defines data structure.
package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind is the message type carried in the wire "type" field.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindAudio  Kind = "audio"
	KindDelete Kind = "delete"
)

// Content tags for attachments. The tag is part of the content string.
const (
	ImagePrefix = "[IMAGE]"
	AudioPrefix = "[AUDIO]"
)

// isoMillis matches the ISO-8601 form browsers produce for dates.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// ErrMalformed is wrapped by every payload validation failure.
var ErrMalformed = errors.New("malformed message payload")

// Message holds information about a single message.
//
// A delete message is a tombstone: its ID is the id of the message to remove.
// IsMe is derived on the receiving side and never leaves the process.
type Message struct {
	ID        string
	Sender    string
	Content   string
	Timestamp time.Time
	Kind      Kind
	IsMe      bool
}

type wireMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Type      Kind   `json:"type"`
}

// MarshalJSON encodes the message in wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	kind := m.Kind
	if kind == "" {
		kind = KindText
	}
	return json.Marshal(wireMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(isoMillis),
		Type:      kind,
	})
}

// UnmarshalJSON decodes a wire message with the same rules as Decode.
func (m *Message) UnmarshalJSON(b []byte) error {
	msg, err := Decode(b, time.Now().UTC())
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

// Encode returns the wire payload for m.
func Encode(m Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("could not encode message to JSON: %w", err)
	}
	return string(b), nil
}

// Decode validates payload against the wire schema.
//
// id and sender must be non-empty strings and content must be a string.
// timestamp may be an ISO-8601 string or epoch milliseconds (number or
// numeric string); when absent or unusable, arrival is used. A missing or
// unknown type is treated as text. Unknown fields are ignored.
func Decode(payload []byte, arrival time.Time) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}

	id, err := stringField(fields, "id", true)
	if err != nil {
		return Message{}, err
	}
	sender, err := stringField(fields, "sender", true)
	if err != nil {
		return Message{}, err
	}
	content, err := stringField(fields, "content", false)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: parseTimestamp(fields["timestamp"], arrival),
		Kind:      parseKind(fields["type"]),
	}, nil
}

func stringField(fields map[string]json.RawMessage, name string, nonEmpty bool) (string, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, name)
	}
	if nonEmpty && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformed, name)
	}
	return s, nil
}

// isoLayouts are the ISO-8601 forms accepted besides RFC 3339. Fractional
// seconds are optional in every layout. Forms without a zone are UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// maxEpochMillis is the largest instant a browser Date can hold.
const maxEpochMillis = 8.64e15

// parseTimestamp never rejects a message: the timestamp is display-only, so
// anything absent, unparseable or out of range becomes the arrival time.
func parseTimestamp(raw json.RawMessage, arrival time.Time) time.Time {
	if len(raw) == 0 || isNull(raw) {
		return arrival.UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpochMillis(ms, arrival)
		}
		return arrival.UTC()
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return arrival.UTC()
	}
	return fromEpochMillis(ms, arrival)
}

func fromEpochMillis(ms float64, arrival time.Time) time.Time {
	if math.IsNaN(ms) || math.Abs(ms) > maxEpochMillis {
		return arrival.UTC()
	}
	return time.UnixMilli(int64(ms)).UTC()
}

func parseKind(raw json.RawMessage) Kind {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return KindText
	}
	switch k := Kind(s); k {
	case KindText, KindImage, KindAudio, KindDelete:
		return k
	default:
		return KindText
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// IsImage reports whether content carries an image attachment.
func IsImage(content string) bool { return strings.HasPrefix(content, ImagePrefix) }

// IsAudio reports whether content carries an audio attachment.
func IsAudio(content string) bool { return strings.HasPrefix(content, AudioPrefix) }

// DataURL builds the tagged content for an attachment.
func DataURL(prefix, mime string, data []byte) string {
	return prefix + "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Attachment decodes a tagged base64 data URL. ok is false for plain text
// or when the data URL is not base64.
func Attachment(content string) (kind Kind, mime string, data []byte, ok bool) {
	var rest string
	switch {
	case IsImage(content):
		kind, rest = KindImage, strings.TrimPrefix(content, ImagePrefix)
	case IsAudio(content):
		kind, rest = KindAudio, strings.TrimPrefix(content, AudioPrefix)
	default:
		return "", "", nil, false
	}

	rest, found := strings.CutPrefix(rest, "data:")
	if !found {
		return "", "", nil, false
	}
	meta, b64, found := strings.Cut(rest, ",")
	if !found {
		return "", "", nil, false
	}
	mime, found = strings.CutSuffix(meta, ";base64")
	if !found {
		return "", "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", "", nil, false
	}
	return kind, mime, data, true
}
