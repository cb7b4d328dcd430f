package storage

import (
	"context"
	"sync"

	"github.com/goliatone/go-stash/layering"
)

// Memory is a minimal in-memory Adapter. It stores and returns detached deep
// copies so callers can never alias persisted state.
type Memory struct {
	mu      sync.RWMutex
	records map[string]any
}

func NewMemory() *Memory {
	return &Memory{records: map[string]any{}}
}

func (m *Memory) GetItem(_ context.Context, key string) (any, error) {
	key, err := ValidateKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	value, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return layering.Clone(value), nil
}

func (m *Memory) SetItem(_ context.Context, key string, value any) error {
	key, err := ValidateKey(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.records[key] = layering.Clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) RemoveItem(_ context.Context, key string) error {
	key, err := ValidateKey(key)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	return keys
}
