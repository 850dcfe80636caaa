package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/model"
)

const historyKeyPrefix = "chat_history_"

// HistoryKey is the persistence key of a topic's log.
func HistoryKey(t Topic) string { return historyKeyPrefix + string(t) }

// Store reads and writes conversation logs through a Persistence. Every
// mutation is written through before it returns.
type Store struct {
	kv      Persistence
	log     *slog.Logger
	metrics *metrics.Sync
}

func NewStore(kv Persistence, logger *slog.Logger, m *metrics.Sync) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, log: logger, metrics: m}
}

// Load returns the persisted log of t, or an empty log if there is none.
// Unreadable data yields an empty log together with a *DecodeError, and a
// failed read yields an empty log together with a *StorageError.
func (s *Store) Load(ctx context.Context, t Topic) (*Log, error) {
	raw, ok, err := s.kv.Get(ctx, HistoryKey(t))
	if err != nil {
		s.metrics.StorageError()
		return NewLog(), &StorageError{Op: "store.Load", Topic: t, Err: err}
	}
	if !ok {
		return NewLog(), nil
	}

	l := NewLog()
	if err := json.Unmarshal([]byte(raw), l); err != nil {
		s.metrics.DecodeError()
		return NewLog(), &DecodeError{Op: "store.Load", Topic: t, Err: err}
	}
	return l, nil
}

// Append adds msg to the log of t unless its id is already present. It
// reports whether the log changed.
//
// A log that cannot be decoded is replaced, which matches what a reader
// would see anyway. A log that cannot be read is left alone.
func (s *Store) Append(ctx context.Context, t Topic, msg model.Message) (bool, error) {
	l, err := s.Load(ctx, t)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			return false, err
		}
		s.log.WarnContext(ctx, "discarding unreadable history",
			"topic", t,
			"error", err)
	}

	if !l.Add(msg) {
		return false, nil
	}
	if err := s.Replace(ctx, t, l); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops the entry with the given id from the log of t. An absent id
// is a no-op and nothing is written.
func (s *Store) Remove(ctx context.Context, t Topic, id string) (bool, error) {
	l, err := s.Load(ctx, t)
	if err != nil {
		return false, err
	}
	if !l.Remove(id) {
		return false, nil
	}
	if err := s.Replace(ctx, t, l); err != nil {
		return false, err
	}
	return true, nil
}

// Replace overwrites the persisted log of t.
func (s *Store) Replace(ctx context.Context, t Topic, l *Log) error {
	b, err := json.Marshal(l)
	if err != nil {
		return &StorageError{Op: "store.Replace", Topic: t, Err: err}
	}
	if err := s.kv.Set(ctx, HistoryKey(t), string(b)); err != nil {
		s.metrics.StorageError()
		return &StorageError{Op: "store.Replace", Topic: t, Err: err}
	}
	return nil
}
