// Package file is a storage.Adapter that keeps one JSON document per key in a
// directory. Other processes may write the same directory; Watch reports the
// keys they touch.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/goliatone/go-stash/pkg/storage"
)

const (
	extension = ".json"
	// DefaultDebounce is how long Watch waits for a key to settle.
	DefaultDebounce = 50 * time.Millisecond
)

// Adapter stores values under dir.
type Adapter struct {
	dir      string
	debounce time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDebounce sets how long Watch waits after the last event for a key.
func WithDebounce(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.debounce = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

var _ storage.Adapter = (*Adapter)(nil)

// Open creates dir when missing and returns an adapter for it.
func Open(dir string, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file: directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create directory: %w", err)
	}
	a := &Adapter{dir: dir, debounce: DefaultDebounce, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Dir returns the watched directory.
func (a *Adapter) Dir() string {
	return a.dir
}

func (a *Adapter) GetItem(_ context.Context, key string) (any, error) {
	path, err := a.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %q: %w", key, err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("file: decode %q: %w", key, err)
	}
	return value, nil
}

// SetItem writes through a temporary file and a rename so readers never see
// a partial document.
func (a *Adapter) SetItem(_ context.Context, key string, value any) error {
	path, err := a.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("file: encode %q: %w", key, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tmp, err := os.CreateTemp(a.dir, ".stash-*.tmp")
	if err != nil {
		return fmt.Errorf("file: write %q: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file: write %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file: write %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) RemoveItem(_ context.Context, key string) error {
	path, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: remove %q: %w", key, err)
	}
	return nil
}

// Watch blocks until ctx is done, calling onChange with the key of every
// document created, written or removed in the directory. Bursts of events for
// one key are debounced into a single call.
func (a *Adapter) Watch(ctx context.Context, onChange func(key string)) error {
	if onChange == nil {
		return fmt.Errorf("file: onChange is nil")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(a.dir); err != nil {
		return fmt.Errorf("file: watch %s: %w", a.dir, err)
	}

	debouncer := newDebouncer(a.debounce)
	defer debouncer.stop()

	a.logger.Debug("file watcher started", zap.String("dir", a.dir))
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file: watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			key, ok := keyFromPath(event.Name)
			if !ok {
				continue
			}
			debouncer.trigger(key, func() {
				a.logger.Debug("file changed", zap.String("key", key), zap.String("op", event.Op.String()))
				onChange(key)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file: watcher errors channel closed")
			}
			a.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (a *Adapter) path(key string) (string, error) {
	key, err := storage.ValidateKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.dir, url.PathEscape(key)+extension), nil
}

func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, extension) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, extension))
	if err != nil {
		return "", false
	}
	return key, true
}

// debouncer runs the last function triggered for a key once the key has been
// quiet for delay.
type debouncer struct {
	delay  time.Duration
	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay, timers: map[string]*time.Timer{}}
}

func (d *debouncer) trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[key]; ok && timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.timers[key] == timer {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = timer
}

// stop cancels pending calls and waits for running ones.
func (d *debouncer) stop() {
	d.mu.Lock()
	for key, timer := range d.timers {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
