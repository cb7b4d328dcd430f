package stash

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	local := mustNew(t, "preferences", defaultPreferences())
	synced := mustNew(t, "preferences", defaultPreferences(), WithArea("sync"))

	if err := registry.Register(local); err != nil {
		t.Fatalf("register local: %v", err)
	}
	if err := registry.Register(synced); err != nil {
		t.Fatalf("register sync area: %v", err)
	}
	if err := registry.Register(mustNew(t, "preferences", defaultPreferences())); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	if err := registry.Register(nil); !errors.Is(err, ErrNilEntry) {
		t.Fatalf("expected ErrNilEntry, got %v", err)
	}

	entry, ok := registry.Get("preferences")
	if !ok || entry != Entry(local) {
		t.Fatalf("expected default-area entry, got %v", entry)
	}
	entry, ok = registry.GetIn("sync", "preferences")
	if !ok || entry != Entry(synced) {
		t.Fatalf("expected sync-area entry, got %v", entry)
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("expected missing key to be absent")
	}

	typed, ok := Lookup[preferences](registry, "sync", "preferences")
	if !ok || typed != synced {
		t.Fatalf("expected typed lookup to return helper")
	}
	if _, ok := Lookup[map[string]any](registry, "sync", "preferences"); ok {
		t.Fatalf("expected typed lookup with wrong type to fail")
	}

	entries := registry.Entries()
	if len(entries) != 2 || entries[0].Area() != "local" || entries[1].Area() != "sync" {
		t.Fatalf("unexpected entry order %v", entries)
	}

	if !registry.Unregister("sync", "preferences") || registry.Unregister("sync", "preferences") {
		t.Fatalf("expected unregister to succeed exactly once")
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	first := NewRegistry()
	second := NewRegistry()
	if err := first.Register(mustNew(t, "preferences", defaultPreferences())); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := second.Get("preferences"); ok {
		t.Fatalf("expected registries not to share entries")
	}
}

func TestRegistryLoadAll(t *testing.T) {
	registry := NewRegistry()
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "a", map[string]any{"theme": "dark"})

	a := mustNew(t, "a", defaultPreferences(), WithAdapter(adapter))
	b := mustNew(t, "b", defaultPreferences(), WithAdapter(adapter))
	for _, h := range []*Helper[preferences]{a, b} {
		if err := registry.Register(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := registry.LoadAll(context.Background()); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if !a.Loaded() || !b.Loaded() {
		t.Fatalf("expected every entry loaded")
	}
	if a.Get().Theme != "dark" {
		t.Fatalf("expected stored value for a, got %+v", a.Get())
	}
	if got := adapter.gets.Load(); got != 2 {
		t.Fatalf("expected one fetch per entry, got %d", got)
	}
}
