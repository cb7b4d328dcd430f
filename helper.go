package stash

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-stash/internal/hydrate"
	"github.com/goliatone/go-stash/layering"
	"github.com/goliatone/go-stash/migrate"
	"github.com/goliatone/go-stash/pkg/activity"
	"github.com/goliatone/go-stash/pkg/storage"
)

const loadFlight = "load"

// SavedFunc is called after every successful persistence with the
// JSON-shaped value that reached the adapter.
type SavedFunc func(ctx context.Context, raw any)

// LoadFunc is called at the start of every fetch, before the adapter is read.
type LoadFunc func(ctx context.Context)

// Entry is the type-erased surface of a Helper used by Registry and by the
// sync protocol.
type Entry interface {
	Key() string
	Area() string
	Adapter() storage.Adapter
	Load(ctx context.Context, opts ...LoadOption) error
	Loaded() bool
	WhenReady() <-chan struct{}
	ApplyRaw(raw any, opts ...SetOption) error
	Snapshot() (any, error)
	OnSaved(fn SavedFunc) func()
	BeforeLoad(fn LoadFunc) func()
}

// Helper is a persisted, observable value of type T.
type Helper[T any] struct {
	key       string
	area      string
	def       T
	defRaw    any
	adapter   storage.Adapter
	pipeline  *migrate.Pipeline
	logger    *zap.Logger
	observer  Observer
	emitter   activityEmitter
	decoder   *hydrate.Decoder[T]
	saveDelay time.Duration

	cell *Cell[T]

	mu          sync.Mutex
	initialized bool
	loading     bool
	loaded      bool
	autoSave    bool
	dirty       bool
	gen         uint64
	silentGen   uint64
	timer       *time.Timer
	ready       chan struct{}

	saving  atomic.Bool
	saveMu  sync.Mutex
	loads   singleflight.Group
	readyMu sync.Once

	savedMu sync.Mutex
	saved   []*savedListener

	loadMu    sync.Mutex
	loadHooks []*loadListener
}

type savedListener struct {
	fn SavedFunc
}

type loadListener struct {
	fn LoadFunc
}

var _ Entry = (*Helper[struct{}])(nil)

// New creates a helper for key holding defaultValue until loaded.
func New[T any](key string, defaultValue T, opts ...Option) (*Helper[T], error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrKeyRequired
	}
	cfg := applyOptions(opts)

	defRaw, err := hydrate.Encode(defaultValue)
	if err != nil {
		return nil, fmt.Errorf("stash: encode default for %q: %w", key, err)
	}
	decoder, err := buildDecoder[T](cfg)
	if err != nil {
		return nil, fmt.Errorf("stash: %q: %w", key, err)
	}

	h := &Helper[T]{
		key:       key,
		area:      cfg.area,
		def:       layering.Clone(defaultValue),
		defRaw:    defRaw,
		adapter:   cfg.adapter,
		pipeline:  cfg.pipeline,
		logger:    cfg.logger.With(zap.String("key", key), zap.String("area", cfg.area)),
		observer:  cfg.observer,
		emitter:   buildEmitter(cfg),
		decoder:   decoder,
		saveDelay: cfg.saveDelay,
		cell:      NewCell(layering.Clone(defaultValue)),
		ready:     make(chan struct{}),
	}

	if cfg.autoLoad {
		go func() {
			_ = h.Load(context.Background())
		}()
	}
	return h, nil
}

func (h *Helper[T]) Key() string { return h.key }

func (h *Helper[T]) Area() string { return h.area }

func (h *Helper[T]) Adapter() storage.Adapter { return h.adapter }

// Default returns a copy of the default value.
func (h *Helper[T]) Default() T {
	return layering.Clone(h.def)
}

// Get returns the current value. It is never unset: before a load it is the
// default value.
func (h *Helper[T]) Get() T {
	return h.cell.Get()
}

// ToJS returns a deep copy of the current value that shares no memory with
// the helper.
func (h *Helper[T]) ToJS() T {
	return layering.Clone(h.cell.Get())
}

// Snapshot returns the current value in its JSON-shaped form.
func (h *Helper[T]) Snapshot() (any, error) {
	return hydrate.Encode(h.cell.Get())
}

// Subscribe calls fn with every new value, in the order values were stored,
// until the returned function is called.
func (h *Helper[T]) Subscribe(fn func(T)) func() {
	return h.cell.Subscribe(fn)
}

func (h *Helper[T]) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

func (h *Helper[T]) Loading() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loading
}

func (h *Helper[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

func (h *Helper[T]) Saving() bool {
	return h.saving.Load()
}

// WhenReady is closed once the helper is initialized and its first load has
// resolved.
func (h *Helper[T]) WhenReady() <-chan struct{} {
	return h.ready
}

// Ready blocks until WhenReady is closed or ctx is done.
func (h *Helper[T]) Ready(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDefaultValue reports whether value is structurally equal to the default.
func (h *Helper[T]) IsDefaultValue(value T) bool {
	raw, err := hydrate.Encode(value)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(raw, h.defRaw)
}

// Set replaces the current value.
func (h *Helper[T]) Set(value T, opts ...SetOption) {
	h.apply(value, applySetOptions(opts).silent)
}

// Reset restores the default value.
func (h *Helper[T]) Reset(opts ...SetOption) {
	h.Set(layering.Clone(h.def), opts...)
}

// Merge applies a JSON-shaped partial value. When both the current value and
// partial are records, top-level keys of partial replace those of the current
// value, or are merged recursively with Deep. In both modes an explicit nil
// clears the key. Any other shape replaces the current value.
func (h *Helper[T]) Merge(partial any, opts ...MergeOption) error {
	o := applyMergeOptions(opts)

	patch, err := hydrate.Normalize(partial)
	if err != nil {
		return fmt.Errorf("stash: normalise partial for %q: %w", h.key, err)
	}
	current, err := hydrate.Encode(h.cell.Get())
	if err != nil {
		return fmt.Errorf("stash: encode current value for %q: %w", h.key, err)
	}

	next := patch
	currentRecord, currentOK := current.(map[string]any)
	patchRecord, patchOK := patch.(map[string]any)
	if currentOK && patchOK {
		if o.deep {
			next = layering.MergeRecords(patchRecord, currentRecord)
		} else {
			next = assignRecord(currentRecord, patchRecord)
		}
	}

	value, err := h.decode(next)
	if err != nil {
		return err
	}
	h.apply(value, o.silent)
	return nil
}

// ApplyRaw decodes a JSON-shaped value and applies it like Set.
func (h *Helper[T]) ApplyRaw(raw any, opts ...SetOption) error {
	value, err := h.decode(raw)
	if err != nil {
		return err
	}
	h.apply(value, applySetOptions(opts).silent)
	return nil
}

// OnSaved registers fn to run after every successful save, in save order.
func (h *Helper[T]) OnSaved(fn SavedFunc) func() {
	if fn == nil {
		return func() {}
	}
	listener := &savedListener{fn: fn}
	h.savedMu.Lock()
	h.saved = append(h.saved, listener)
	h.savedMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.savedMu.Lock()
			defer h.savedMu.Unlock()
			for i, candidate := range h.saved {
				if candidate == listener {
					h.saved = append(h.saved[:i:i], h.saved[i+1:]...)
					return
				}
			}
		})
	}
}

// BeforeLoad registers fn to run before each fetch reads the adapter,
// including forced reloads.
func (h *Helper[T]) BeforeLoad(fn LoadFunc) func() {
	if fn == nil {
		return func() {}
	}
	listener := &loadListener{fn: fn}
	h.loadMu.Lock()
	h.loadHooks = append(h.loadHooks, listener)
	h.loadMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.loadMu.Lock()
			defer h.loadMu.Unlock()
			for i, candidate := range h.loadHooks {
				if candidate == listener {
					h.loadHooks = append(h.loadHooks[:i:i], h.loadHooks[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *Helper[T]) apply(value T, silent bool) {
	writeThrough := false

	h.mu.Lock()
	h.gen++
	h.cell.store(value)
	if silent {
		h.silentGen = h.gen
		h.dirty = false
		h.stopTimerLocked()
	} else if h.autoSave {
		h.dirty = true
		if h.saveDelay > 0 {
			h.scheduleLocked()
		} else {
			writeThrough = true
		}
	}
	h.mu.Unlock()

	h.cell.notify()

	if writeThrough {
		_ = h.Flush(context.Background())
	}
}

func (h *Helper[T]) decode(raw any) (T, error) {
	value, err := h.decoder.Decode(hydrate.Context{Key: h.key, Area: h.area}, raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("stash: decode value for %q: %w", h.key, err)
	}
	return value, nil
}

func (h *Helper[T]) emit(event activity.Event) {
	if h.emitter == nil {
		return
	}
	if err := h.emitter.Emit(context.Background(), event); err != nil {
		h.logger.Warn("activity hook failed", zap.String("verb", event.Verb), zap.Error(err))
	}
}

func (h *Helper[T]) markReady() {
	h.readyMu.Do(func() {
		close(h.ready)
	})
}

func assignRecord(current, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for key, value := range current {
		out[key] = value
	}
	for key, value := range patch {
		out[key] = value
	}
	return out
}
