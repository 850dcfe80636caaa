package model

// Frame types exchanged between the relay and its socket clients.
const (
	FrameSubscribe = "subscribe"
	FramePublish   = "publish"
	FrameMessage   = "message"
	FrameError     = "error"
)

// Frame is the relay envelope, used for both NATS payloads and WebSocket
// communication. Payload is the opaque wire message; the relay never decodes it.
type Frame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MaxFrameBytes bounds a single frame on the socket. Attachments travel
// inline as data URLs.
const MaxFrameBytes = 8 << 20
