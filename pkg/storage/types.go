package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrKeyRequired = errors.New("storage: key is required")

var ErrClosed = errors.New("storage: adapter closed")

// Adapter is the key-value capability a stash.Helper persists through. Values
// are JSON-shaped: map[string]any, []any, string, float64, bool or nil.
type Adapter interface {
	GetItem(ctx context.Context, key string) (any, error)
	SetItem(ctx context.Context, key string, value any) error
	RemoveItem(ctx context.Context, key string) error
}

// AdapterFuncs lets plain functions satisfy Adapter. Nil functions behave like
// an empty, write-discarding store.
type AdapterFuncs struct {
	Get    func(ctx context.Context, key string) (any, error)
	Set    func(ctx context.Context, key string, value any) error
	Remove func(ctx context.Context, key string) error
}

func (f AdapterFuncs) GetItem(ctx context.Context, key string) (any, error) {
	if f.Get == nil {
		return nil, nil
	}
	return f.Get(ctx, key)
}

func (f AdapterFuncs) SetItem(ctx context.Context, key string, value any) error {
	if f.Set == nil {
		return nil
	}
	return f.Set(ctx, key, value)
}

func (f AdapterFuncs) RemoveItem(ctx context.Context, key string) error {
	if f.Remove == nil {
		return nil
	}
	return f.Remove(ctx, key)
}

// ValidateKey trims key and rejects empty values.
func ValidateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrKeyRequired
	}
	return trimmed, nil
}

// NamespacedKey composes the key used by backends that keep several areas in
// one physical store.
func NamespacedKey(area, key string) string {
	if area == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", area, key)
}
