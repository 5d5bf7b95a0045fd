package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Backend. Contents are lost on exit.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Usage(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for k, v := range m.items {
		total += entrySize(k, v)
	}
	return total, nil
}

func (m *Memory) Close() error { return nil }

// Disabled is a Backend whose every operation fails with ErrUnavailable,
// the equivalent of a browser with storage turned off.
type Disabled struct{}

func (Disabled) Get(context.Context, string) (string, error) { return "", ErrUnavailable }
func (Disabled) Set(context.Context, string, string) error { return ErrUnavailable }
func (Disabled) Remove(context.Context, string) error { return ErrUnavailable }
func (Disabled) Keys(context.Context) ([]string, error) { return nil, ErrUnavailable }
func (Disabled) Usage(context.Context) (int64, error) { return 0, ErrUnavailable }
func (Disabled) Close() error { return nil }
