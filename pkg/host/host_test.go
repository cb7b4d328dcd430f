package host_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/goliatone/go-stash/pkg/activity"
	"github.com/goliatone/go-stash/pkg/config"
	"github.com/goliatone/go-stash/pkg/host"
	"github.com/goliatone/go-stash/pkg/storage"
	"github.com/goliatone/go-stash/pkg/storage/file"
	"github.com/goliatone/go-stash/pkg/syncer"
)

type preferences struct {
	Theme string `json:"theme"`
	Size  int    `json:"size,omitempty"`
}

func backgroundConfig() *config.Config {
	cfg := config.Default()
	cfg.Origin = "background"
	cfg.WriteThrough = true
	return cfg
}

func remoteConfig(role config.Role, origin string) *config.Config {
	cfg := config.Default()
	cfg.Role = role
	cfg.Origin = origin
	cfg.Relay.Address = "passthrough:///bufnet"
	cfg.WriteThrough = true
	return cfg
}

func openBackground(t *testing.T, cfg *config.Config, opts ...host.Option) (*host.Host, *bufconn.Listener) {
	t.Helper()
	opts = append([]host.Option{host.WithLogger(zaptest.NewLogger(t))}, opts...)
	h, err := host.Open(context.Background(), cfg, opts...)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	served := make(chan error, 1)
	go func() { served <- h.Serve(lis) }()
	t.Cleanup(func() {
		require.NoError(t, h.Close())
		select {
		case err := <-served:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("relay server did not stop")
		}
	})
	return h, lis
}

func openRemote(t *testing.T, cfg *config.Config, lis *bufconn.Listener) *host.Host {
	t.Helper()
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	h, err := host.Open(context.Background(), cfg,
		host.WithLogger(zaptest.NewLogger(t)),
		host.WithDialOptions(dialer),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func TestRolesConvergeThroughRelay(t *testing.T) {
	ctx := context.Background()
	bg, lis := openBackground(t, backgroundConfig())
	content := openRemote(t, remoteConfig(host.RoleContent, "content"), lis)
	opts := openRemote(t, remoteConfig(host.RoleOptions, "options"), lis)

	def := preferences{Theme: "light"}
	bgPrefs, err := host.Bind(ctx, bg, "preferences", def)
	require.NoError(t, err)
	contentPrefs, err := host.Bind(ctx, content, "preferences", def)
	require.NoError(t, err)
	optionsPrefs, err := host.Bind(ctx, opts, "preferences", def)
	require.NoError(t, err)

	// both remote streams must be up before the first broadcast
	require.Eventually(t, func() bool {
		s1, _ := content.Syncer("preferences")
		s2, _ := opts.Syncer("preferences")
		return s1.Ready() && s2.Ready() && bg.Hub().Streams() == 2
	}, 2*time.Second, 10*time.Millisecond)

	optionsPrefs.Set(preferences{Theme: "dark", Size: 14})

	want := preferences{Theme: "dark", Size: 14}
	require.Eventually(t, func() bool {
		return contentPrefs.Get() == want && bgPrefs.Get() == want
	}, 3*time.Second, 10*time.Millisecond)

	raw, err := bg.Adapter().GetItem(ctx, syncer.VersionKey("preferences"))
	require.NoError(t, err)
	assert.Equal(t, float64(1), raw)

	stored, err := bg.Adapter().GetItem(ctx, "preferences")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark", "size": float64(14)}, stored)
}

func TestBindAppliesConfiguredMigrations(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	require.NoError(t, backend.SetItem(ctx, "preferences", map[string]any{
		"v":    float64(1),
		"data": map[string]any{"theme": "legacy"},
	}))

	cfg := backgroundConfig()
	cfg.Keys["preferences"] = config.KeyConfig{Migrations: []config.MigrationConfig{
		{Name: "unwrap", Engine: "expr", Expression: `value.v != nil ? value.data : nil`},
	}}
	h, _ := openBackground(t, cfg, host.WithBackend(backend))

	prefs, err := host.Bind(ctx, h, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	assert.Equal(t, preferences{Theme: "legacy"}, prefs.Get())
}

func TestBindRejectsDuplicatesAndBadMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := backgroundConfig()
	cfg.Keys["broken"] = config.KeyConfig{Migrations: []config.MigrationConfig{
		{Engine: "cel", Expression: "value +"},
	}}
	h, _ := openBackground(t, cfg)

	_, err := host.Bind(ctx, h, "preferences", preferences{})
	require.NoError(t, err)
	_, err = host.Bind(ctx, h, "preferences", preferences{})
	require.Error(t, err)

	_, err = host.Bind(ctx, h, "broken", preferences{})
	require.Error(t, err)
}

func TestResyncAdoptsExternalWrites(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	h, _ := openBackground(t, backgroundConfig(), host.WithBackend(backend))

	prefs, err := host.Bind(ctx, h, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	s, ok := h.Syncer("preferences")
	require.True(t, ok)
	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)

	n, err := h.Resync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, backend.SetItem(ctx, "preferences", map[string]any{"theme": "external"}))
	require.NoError(t, backend.SetItem(ctx, syncer.VersionKey("preferences"), float64(7)))

	n, err = h.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, preferences{Theme: "external"}, prefs.Get())
	assert.Equal(t, uint64(7), s.Known())
}

func TestFileBackendWatcherResyncs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := backgroundConfig()
	cfg.Storage = config.StorageConfig{Driver: config.DriverFile, Path: dir}
	h, _ := openBackground(t, cfg)

	prefs, err := host.Bind(ctx, h, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)

	other, err := file.Open(dir)
	require.NoError(t, err)

	// the watcher starts asynchronously, so bump the version until it is seen
	version := float64(10)
	require.Eventually(t, func() bool {
		version++
		if err := other.SetItem(ctx, "preferences", map[string]any{"theme": "from-disk"}); err != nil {
			return false
		}
		if err := other.SetItem(ctx, syncer.VersionKey("preferences"), version); err != nil {
			return false
		}
		time.Sleep(100 * time.Millisecond)
		return prefs.Get() == preferences{Theme: "from-disk"}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSqliteBackendPersistsAcrossHosts(t *testing.T) {
	ctx := context.Background()
	cfg := backgroundConfig()
	cfg.Storage = config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "stash.db")}

	first, err := host.Open(ctx, cfg, host.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	prefs, err := host.Bind(ctx, first, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	prefs.Set(preferences{Theme: "solarized"})
	require.NoError(t, first.Close())

	second, err := host.Open(ctx, cfg, host.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer second.Close()
	again, err := host.Bind(ctx, second, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	assert.Equal(t, preferences{Theme: "solarized"}, again.Get())
}

func TestActivityHooksAndMetrics(t *testing.T) {
	ctx := context.Background()
	capture := &activity.CaptureHook{}
	cfg := backgroundConfig()
	cfg.Metrics.Enabled = true
	h, _ := openBackground(t, cfg, host.WithActivityHooks(activity.Hooks{capture}))
	require.NotNil(t, h.Collector())

	prefs, err := host.Bind(ctx, h, "preferences", preferences{})
	require.NoError(t, err)
	prefs.Set(preferences{Theme: "dark"})

	assert.NotEmpty(t, capture.ByVerb(activity.VerbLoaded))
	saved := capture.ByVerb(activity.VerbSaved)
	require.NotEmpty(t, saved)
	assert.Equal(t, "background", saved[0].ActorID)
	assert.Equal(t, "local/preferences", saved[0].ObjectID)
}

func TestServeRequiresBackground(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	remote := openRemote(t, remoteConfig(host.RoleContent, "content"), lis)
	assert.ErrorIs(t, remote.Serve(lis), host.ErrNotBackground)
	assert.ErrorIs(t, remote.ServeMetrics(lis), host.ErrMetricsOff)
}

func TestBindConfiguredKeys(t *testing.T) {
	ctx := context.Background()
	cfg := backgroundConfig()
	cfg.Keys["theme"] = config.KeyConfig{Default: "light"}
	cfg.Keys["limits"] = config.KeyConfig{Default: map[string]any{"max": 3}}
	h, _ := openBackground(t, cfg)

	helpers, err := h.BindConfigured(ctx)
	require.NoError(t, err)
	require.Len(t, helpers, 2)
	assert.Equal(t, "limits", helpers[0].Key())
	assert.Equal(t, "theme", helpers[1].Key())
	assert.Equal(t, "light", helpers[1].Get())
}

// gatedStore blocks reads until gate is closed.
type gatedStore struct {
	*storage.Memory
	gate chan struct{}
}

func (g *gatedStore) GetItem(ctx context.Context, key string) (any, error) {
	<-g.gate
	return g.Memory.GetItem(ctx, key)
}

func TestBindCleansUpWhenLoadIsAbandoned(t *testing.T) {
	backend := &gatedStore{Memory: storage.NewMemory(), gate: make(chan struct{})}
	h, err := host.Open(context.Background(), backgroundConfig(),
		host.WithLogger(zaptest.NewLogger(t)),
		host.WithBackend(backend),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = host.Bind(ctx, h, "preferences", preferences{Theme: "light"})
	require.ErrorIs(t, err, context.Canceled)

	_, attached := h.Syncer("preferences")
	assert.False(t, attached)
	_, registered := h.Registry().GetIn(h.Config().Area, "preferences")
	assert.False(t, registered)

	close(backend.gate)
	prefs, err := host.Bind(context.Background(), h, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Get().Theme)
	_, attached = h.Syncer("preferences")
	assert.True(t, attached)
}

func TestStrictKeyRejectsUnknownStoredFields(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	require.NoError(t, backend.SetItem(ctx, "preferences", map[string]any{"theme": "dark", "legacy": true}))
	cfg := backgroundConfig()
	cfg.Keys["preferences"] = config.KeyConfig{Strict: true}
	h, _ := openBackground(t, cfg, host.WithBackend(backend))

	prefs, err := host.Bind(ctx, h, "preferences", preferences{Theme: "light"})
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Get().Theme)
}
