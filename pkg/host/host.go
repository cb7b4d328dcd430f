// Package host wires storage, relay, sync, metrics and scheduling for one
// process. It is the only place that looks at the process Role.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/pkg/config"
	"github.com/goliatone/go-stash/pkg/metrics"
	"github.com/goliatone/go-stash/pkg/storage"
	"github.com/goliatone/go-stash/pkg/storage/file"
	"github.com/goliatone/go-stash/pkg/storage/sqlite"
	"github.com/goliatone/go-stash/pkg/syncer"
	"github.com/goliatone/go-stash/pkg/transport/relay"
)

var (
	ErrNotBackground = errors.New("host: only the background role serves the relay")
	ErrMetricsOff    = errors.New("host: metrics are disabled")
	ErrClosed        = errors.New("host: closed")
)

// Host is one process' view of the stash.
type Host struct {
	cfg       *config.Config
	origin    string
	logger    *zap.Logger
	opts      options
	registry  *stash.Registry
	adapter   storage.Adapter
	transport syncer.Transport
	hub       *relay.Hub
	client    *relay.Client
	collector *metrics.Collector
	cron      *cron.Cron
	backend   func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	syncers map[string]*syncer.Syncer
	grpc    *grpc.Server
	http    *http.Server
	closed  bool
}

// Open builds a host for cfg.Role. A nil cfg means config.Default().
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Host, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := o.logger
	if logger == nil {
		built, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = built
	}
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Host{
		cfg:      cfg,
		origin:   origin,
		logger:   logger.With(zap.String("role", string(cfg.Role)), zap.String("origin", origin)),
		opts:     o,
		registry: stash.NewRegistry(),
		ctx:      runCtx,
		cancel:   cancel,
		syncers:  map[string]*syncer.Syncer{},
	}

	if cfg.Metrics.Enabled {
		h.collector = o.collector
		if h.collector == nil {
			h.collector = metrics.NewCollector(cfg.Metrics.Namespace, nil)
		}
	}

	var err error
	if cfg.Role == RoleBackground {
		err = h.openBackground()
	} else {
		err = h.openRemote()
	}
	if err != nil {
		cancel()
		return nil, err
	}

	if cfg.Resync != "" {
		h.cron = cron.New()
		if _, err := h.cron.AddFunc(cfg.Resync, h.scheduledResync); err != nil {
			h.Close()
			return nil, fmt.Errorf("host: resync schedule: %w", err)
		}
		h.cron.Start()
	}

	h.logger.Info("stash host opened",
		zap.String("area", cfg.Area),
		zap.String("storage", cfg.Storage.Driver),
	)
	return h, nil
}

func (h *Host) openBackground() error {
	adapter := h.opts.adapter
	if adapter == nil {
		opened, closeFn, err := openBackend(h.cfg)
		if err != nil {
			return err
		}
		adapter = opened
		h.backend = closeFn
	}
	hub, err := relay.NewHub(adapter,
		relay.WithHubArea(h.cfg.Area),
		relay.WithHubLogger(h.logger.Named("relay")),
	)
	if err != nil {
		return err
	}
	h.adapter = adapter
	h.hub = hub
	h.transport = hub

	if watcher, ok := adapter.(*file.Adapter); ok {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := watcher.Watch(h.ctx, h.onFileChange); err != nil {
				h.logger.Error("storage watcher stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

func (h *Host) openRemote() error {
	client, err := relay.Dial(h.cfg.Relay.Address, h.opts.dialOpts,
		relay.WithClientArea(h.cfg.Area),
		relay.WithClientName(h.origin),
		relay.WithClientLogger(h.logger.Named("relay")),
	)
	if err != nil {
		return err
	}
	h.client = client
	h.adapter = client
	h.transport = client
	return nil
}

func openBackend(cfg *config.Config) (storage.Adapter, func() error, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		adapter, err := sqlite.Open(sqlite.Config{Path: cfg.Storage.Path, Area: cfg.Area})
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Close, nil
	case config.DriverFile:
		adapter, err := file.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil
	default:
		return storage.NewMemory(), nil, nil
	}
}

func (h *Host) Role() Role                    { return h.cfg.Role }
func (h *Host) Origin() string                { return h.origin }
func (h *Host) Config() *config.Config        { return h.cfg }
func (h *Host) Logger() *zap.Logger           { return h.logger }
func (h *Host) Registry() *stash.Registry     { return h.registry }
func (h *Host) Adapter() storage.Adapter      { return h.adapter }
func (h *Host) Collector() *metrics.Collector { return h.collector }

// Hub returns the relay hub of the background role, nil otherwise.
func (h *Host) Hub() *relay.Hub { return h.hub }

// Syncer returns the syncer bound to key in the host area.
func (h *Host) Syncer(key string) (*syncer.Syncer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.syncers[strings.TrimSpace(key)]
	return s, ok
}

// Bind creates the helper for key with the migrations configured for it,
// registers it, attaches it to the sync transport and runs its first load.
// Caller options are applied after the host defaults.
func Bind[T any](ctx context.Context, h *Host, key string, defaultValue T, opts ...stash.Option) (*stash.Helper[T], error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	key = strings.TrimSpace(key)
	keyCfg := h.cfg.Keys[key]
	pipeline, err := buildMigrations(key, keyCfg, h.logger)
	if err != nil {
		return nil, err
	}

	saveDelay := h.cfg.SaveDelay
	if h.cfg.WriteThrough {
		saveDelay = 0
	}
	base := []stash.Option{
		stash.WithAdapter(h.adapter),
		stash.WithArea(h.cfg.Area),
		stash.WithSaveDelay(saveDelay),
		stash.WithLogger(h.logger.Named("stash")),
		stash.WithPipeline(pipeline),
	}
	if keyCfg.Strict {
		base = append(base, stash.WithStrictDecoding())
	}
	syncOpts := []syncer.Option{
		syncer.WithOrigin(h.origin),
		syncer.WithLogger(h.logger.Named("syncer")),
	}
	if h.collector != nil {
		base = append(base, stash.WithObserver(h.collector))
		syncOpts = append(syncOpts, syncer.WithObserver(h.collector))
	}
	if len(h.opts.hooks) > 0 {
		base = append(base, stash.WithActivityHooks(h.opts.hooks), stash.WithActivityOrigin(h.origin))
		syncOpts = append(syncOpts, syncer.WithActivityHooks(h.opts.hooks))
	}

	helper, err := stash.New(key, defaultValue, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := h.registry.Register(helper); err != nil {
		return nil, err
	}
	s, err := syncer.Attach(helper, h.transport, syncOpts...)
	if err != nil {
		h.registry.Unregister(helper.Area(), helper.Key())
		return nil, err
	}
	h.mu.Lock()
	h.syncers[helper.Key()] = s
	h.mu.Unlock()

	if err := helper.Load(ctx); err != nil {
		h.mu.Lock()
		if h.syncers[helper.Key()] == s {
			delete(h.syncers, helper.Key())
		}
		h.mu.Unlock()
		_ = s.Close()
		h.registry.Unregister(helper.Area(), helper.Key())
		return nil, fmt.Errorf("host: load %q: %w", key, err)
	}
	return helper, nil
}

// BindConfigured binds every key declared in the config as an untyped value
// seeded with its configured default.
func (h *Host) BindConfigured(ctx context.Context) ([]*stash.Helper[any], error) {
	names := make([]string, 0, len(h.cfg.Keys))
	for name := range h.cfg.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	helpers := make([]*stash.Helper[any], 0, len(names))
	for _, name := range names {
		helper, err := Bind[any](ctx, h, name, h.cfg.Keys[name].Default)
		if err != nil {
			return helpers, err
		}
		helpers = append(helpers, helper)
	}
	return helpers, nil
}

// Serve runs the relay hub on lis until Close. Only the background role
// serves.
func (h *Host) Serve(lis net.Listener) error {
	if h.hub == nil {
		return ErrNotBackground
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.grpc == nil {
		h.grpc = grpc.NewServer()
		h.hub.Register(h.grpc)
	}
	srv := h.grpc
	h.mu.Unlock()

	h.logger.Info("relay hub listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("host: serve relay: %w", err)
	}
	return nil
}

// ServeMetrics exposes /metrics on lis until Close.
func (h *Host) ServeMetrics(lis net.Listener) error {
	if h.collector == nil {
		return ErrMetricsOff
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h.collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.http = srv
	h.mu.Unlock()

	h.logger.Info("metrics listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("host: serve metrics: %w", err)
	}
	return nil
}

// Resync checks every bound key against its persisted version and reloads
// the stale ones. It returns how many keys were reloaded.
func (h *Host) Resync(ctx context.Context) (int, error) {
	h.mu.Lock()
	keys := make([]string, 0, len(h.syncers))
	for key := range h.syncers {
		keys = append(keys, key)
	}
	h.mu.Unlock()
	sort.Strings(keys)

	var (
		reloaded int
		errs     []error
	)
	for _, key := range keys {
		ok, err := h.resyncKey(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reloaded++
		}
	}
	return reloaded, errors.Join(errs...)
}

func (h *Host) resyncKey(ctx context.Context, key string) (bool, error) {
	s, ok := h.Syncer(key)
	if !ok {
		return false, nil
	}
	reloaded, err := s.Resync(ctx)
	if errors.Is(err, syncer.ErrClosed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("host: resync %q: %w", key, err)
	}
	if reloaded {
		h.logger.Debug("key resynced", zap.String("key", key))
	}
	return reloaded, nil
}

func (h *Host) scheduledResync() {
	n, err := h.Resync(h.ctx)
	if err != nil {
		h.logger.Warn("scheduled resync failed", zap.Error(err))
		return
	}
	if n > 0 {
		h.logger.Info("scheduled resync reloaded keys", zap.Int("count", n))
	}
}

// onFileChange maps a changed document, the version companion included, to
// its bound key.
func (h *Host) onFileChange(name string) {
	key := strings.TrimSuffix(name, syncer.VersionSuffix)
	if _, err := h.resyncKey(h.ctx, key); err != nil {
		h.logger.Warn("resync after file change failed", zap.String("key", key), zap.Error(err))
	}
}

// Close flushes pending saves, detaches every syncer and stops the servers.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	syncers := make([]*syncer.Syncer, 0, len(h.syncers))
	for _, s := range h.syncers {
		syncers = append(syncers, s)
	}
	grpcSrv, httpSrv := h.grpc, h.http
	h.mu.Unlock()

	if h.cron != nil {
		<-h.cron.Stop().Done()
	}

	var errs []error
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	for _, entry := range h.registry.Entries() {
		if flusher, ok := entry.(interface{ Flush(context.Context) error }); ok {
			if err := flusher.Flush(flushCtx); err != nil {
				errs = append(errs, fmt.Errorf("host: flush %q: %w", entry.Key(), err))
			}
		}
	}
	for _, s := range syncers {
		errs = append(errs, s.Close())
	}

	h.cancel()
	h.wg.Wait()

	if h.hub != nil {
		errs = append(errs, h.hub.Close())
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if httpSrv != nil {
		errs = append(errs, httpSrv.Shutdown(flushCtx))
	}
	if h.client != nil {
		errs = append(errs, h.client.Close())
	}
	if h.backend != nil {
		errs = append(errs, h.backend())
	}
	h.logger.Info("stash host closed")
	return errors.Join(errs...)
}
