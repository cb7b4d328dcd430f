package stash

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-stash/pkg/activity"
)

// Load fetches the persisted value, migrates it and merges it into the
// current value. Concurrent calls share one fetch and a completed load is not
// repeated unless WithForce is given. Adapter and migration failures are
// logged and the load still resolves; the only error is ctx.Err() when the
// caller stops waiting, in which case the fetch keeps running.
func (h *Helper[T]) Load(ctx context.Context, opts ...LoadOption) error {
	o := applyLoadOptions(opts)

	h.mu.Lock()
	if h.loaded && !o.force {
		h.mu.Unlock()
		return nil
	}
	h.initialized = true
	h.mu.Unlock()

	if o.force {
		h.loads.Forget(loadFlight)
	}
	fetchCtx := context.WithoutCancel(ctx)
	done := h.loads.DoChan(loadFlight, func() (any, error) {
		h.fetch(fetchCtx)
		return nil, nil
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Helper[T]) fetch(ctx context.Context) {
	h.mu.Lock()
	h.loading = true
	h.mu.Unlock()

	h.loadMu.Lock()
	hooks := append([]*loadListener(nil), h.loadHooks...)
	h.loadMu.Unlock()
	for _, hook := range hooks {
		hook.fn(ctx)
	}

	event := LoadEvent{Key: h.key, Area: h.area}
	start := time.Now()
	raw, err := h.adapter.GetItem(ctx, h.key)
	event.Duration = time.Since(start)

	switch {
	case err != nil:
		event.Err = err
		h.logger.Warn("stash load failed, keeping current value", zap.Error(err))
	case raw != nil:
		event.Found = true
		migrated, migrateErr := h.pipeline.Apply(raw)
		if migrateErr != nil {
			event.MigrationErr = migrateErr
			h.logger.Error("stash migration failed, keeping pre-migration value", zap.Error(migrateErr))
			break
		}
		if err := h.mergeLoaded(migrated); err != nil {
			event.Err = err
			h.logger.Warn("stash loaded value rejected", zap.Error(err))
		}
	}

	h.mu.Lock()
	h.loading = false
	h.loaded = true
	h.autoSave = true
	h.mu.Unlock()

	h.markReady()
	h.observer.ObserveLoad(event)
	h.emit(activity.BuildLoadedEvent(activity.EntryEventInput{
		Area:     h.area,
		Key:      h.key,
		Metadata: map[string]any{"found": event.Found},
	}))
}

// mergeLoaded applies a loaded record over the current record so keys missing
// from storage keep their current values. Other shapes replace the value.
func (h *Helper[T]) mergeLoaded(raw any) error {
	next := raw
	if loadedRecord, ok := raw.(map[string]any); ok {
		current, err := h.Snapshot()
		if err != nil {
			return err
		}
		if currentRecord, ok := current.(map[string]any); ok {
			next = assignRecord(currentRecord, loadedRecord)
		}
	}
	value, err := h.decode(next)
	if err != nil {
		return err
	}
	h.apply(value, true)
	return nil
}
