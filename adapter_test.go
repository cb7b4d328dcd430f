package stash

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-stash/pkg/storage"
)

// countingAdapter wraps storage.Memory and records calls. Gates, when set,
// block the matching call until closed.
type countingAdapter struct {
	store *storage.Memory

	gets atomic.Int32
	sets atomic.Int32

	mu      sync.Mutex
	getErr  error
	setErr  error
	getGate chan struct{}
	setGate chan struct{}
	entered chan struct{}
}

func newCountingAdapter() *countingAdapter {
	return &countingAdapter{store: storage.NewMemory(), entered: make(chan struct{}, 16)}
}

func (a *countingAdapter) GetItem(ctx context.Context, key string) (any, error) {
	a.gets.Add(1)
	a.mu.Lock()
	gate, err := a.getGate, a.getErr
	a.mu.Unlock()
	if gate != nil {
		a.entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return a.store.GetItem(ctx, key)
}

func (a *countingAdapter) SetItem(ctx context.Context, key string, value any) error {
	a.sets.Add(1)
	a.mu.Lock()
	gate, err := a.setGate, a.setErr
	a.mu.Unlock()
	if gate != nil {
		a.entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return err
	}
	return a.store.SetItem(ctx, key, value)
}

func (a *countingAdapter) RemoveItem(ctx context.Context, key string) error {
	return a.store.RemoveItem(ctx, key)
}

func (a *countingAdapter) blockGets() chan struct{} {
	gate := make(chan struct{})
	a.mu.Lock()
	a.getGate = gate
	a.mu.Unlock()
	return gate
}

func (a *countingAdapter) blockSets() chan struct{} {
	gate := make(chan struct{})
	a.mu.Lock()
	a.setGate = gate
	a.mu.Unlock()
	return gate
}

func (a *countingAdapter) failSets(err error) {
	a.mu.Lock()
	a.setErr = err
	a.mu.Unlock()
}

func (a *countingAdapter) failGets(err error) {
	a.mu.Lock()
	a.getErr = err
	a.mu.Unlock()
}

func (a *countingAdapter) waitEntered(timeout time.Duration) error {
	select {
	case <-a.entered:
		return nil
	case <-time.After(timeout):
		return errors.New("adapter call not entered in time")
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	loads []LoadEvent
	saves []SaveEvent
}

func (o *recordingObserver) ObserveLoad(event LoadEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads = append(o.loads, event)
}

func (o *recordingObserver) ObserveSave(event SaveEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saves = append(o.saves, event)
}

func (o *recordingObserver) snapshot() ([]LoadEvent, []SaveEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]LoadEvent(nil), o.loads...), append([]SaveEvent(nil), o.saves...)
}
