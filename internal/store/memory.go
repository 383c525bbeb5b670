package store

import (
	"context"
	"sync"
)

// Memory is an in-process KV used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	// Writes counts successful Set calls.
	Writes int
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) Set(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[path] = append([]byte(nil), value...)
	m.Writes++
	return nil
}

func (m *Memory) Close() error { return nil }
