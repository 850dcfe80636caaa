// Package storage provides key-value backends for conversation history.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrWriteFailed is returned by Memory.Set while writes are failing.
var ErrWriteFailed = errors.New("storage: write failed")

// Memory keeps values in a map. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	values     map[string]string
	failWrites bool
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return ErrWriteFailed
	}
	m.values[key] = value
	return nil
}

// FailWrites makes every following Set fail until called with false.
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
