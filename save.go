package stash

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-stash/internal/hydrate"
	"github.com/goliatone/go-stash/layering"
	"github.com/goliatone/go-stash/pkg/activity"
)

// Flush persists a pending mutation now instead of waiting for the save
// delay. It is a no-op when nothing is pending. Saves are serialized.
func (h *Helper[T]) Flush(ctx context.Context) error {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	for {
		again, err := h.persist(ctx)
		if err != nil || !again {
			return err
		}
	}
}

// persist writes the current value once. It reports true when a silent apply
// landed while the write was in flight: the value written is the last one to
// reach the backend, so it is restored in memory and queued to be written
// again.
func (h *Helper[T]) persist(ctx context.Context) (bool, error) {
	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return false, nil
	}
	h.dirty = false
	h.stopTimerLocked()
	value := h.cell.Get()
	startGen := h.gen
	h.mu.Unlock()

	raw, err := hydrate.Encode(value)
	if err != nil {
		h.logger.Error("stash encode failed", zap.Error(err))
		return false, fmt.Errorf("stash: encode value for %q: %w", h.key, err)
	}

	h.saving.Store(true)
	start := time.Now()
	err = h.adapter.SetItem(ctx, h.key, raw)
	h.saving.Store(false)
	h.observer.ObserveSave(SaveEvent{Key: h.key, Area: h.area, Duration: time.Since(start), Err: err})
	if err != nil {
		h.logger.Warn("stash save failed, value kept in memory", zap.Error(err))
		return false, fmt.Errorf("stash: save %q: %w", h.key, err)
	}

	for _, listener := range h.savedListeners() {
		listener.fn(ctx, layering.Clone(raw))
	}
	h.emit(activity.BuildSavedEvent(activity.EntryEventInput{Area: h.area, Key: h.key}))

	h.mu.Lock()
	restore := h.silentGen > startGen && !h.dirty
	if restore {
		h.gen++
		h.cell.store(value)
		h.dirty = true
	}
	h.mu.Unlock()

	if restore {
		h.logger.Debug("stash remote value landed during save, restoring saved value")
		h.cell.notify()
	}
	return restore, nil
}

func (h *Helper[T]) savedListeners() []*savedListener {
	h.savedMu.Lock()
	defer h.savedMu.Unlock()
	return append([]*savedListener(nil), h.saved...)
}

func (h *Helper[T]) scheduleLocked() {
	h.stopTimerLocked()
	h.timer = time.AfterFunc(h.saveDelay, func() {
		_ = h.Flush(context.Background())
	})
}

func (h *Helper[T]) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
