package chat

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrDecode     = errors.New("decode error")
	ErrConnection = errors.New("connection error")
	ErrStorage    = errors.New("storage error")
)

var (
	ErrNotJoined       = errors.New("chat: not joined")
	ErrAlreadyJoined   = errors.New("chat: already joined as another user")
	ErrInvalidUsername = errors.New("chat: username must not be blank")
	ErrEmptyMessage    = errors.New("chat: empty message")
	ErrNotOwner        = errors.New("chat: only the sender can delete a message")
	ErrNotFound        = errors.New("chat: message not found")
	ErrClosed          = errors.New("chat: client loop is not running")
)

// DecodeError reports an inbound payload or a persisted log that failed
// validation. The event is dropped, never fatal.
type DecodeError struct {
	Op    string
	Topic Topic
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v on %s: %v", e.Op, ErrDecode, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// ConnectionError reports a transport that could not connect or subscribe.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrConnection, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnection, e.Err} }

// StorageError reports a failed read or write of a conversation log.
type StorageError struct {
	Op    string
	Topic Topic
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v on %s: %v", e.Op, ErrStorage, e.Topic, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
