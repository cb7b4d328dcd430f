package host

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/goliatone/go-stash/pkg/activity"
	"github.com/goliatone/go-stash/pkg/metrics"
	"github.com/goliatone/go-stash/pkg/storage"
)

// Option configures Open.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	dialOpts  []grpc.DialOption
	adapter   storage.Adapter
	hooks     activity.Hooks
	collector *metrics.Collector
}

// WithLogger replaces the logger built from the log section of the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDialOptions adds gRPC dial options for the relay client of non
// background roles.
func WithDialOptions(dialOpts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOpts = append(o.dialOpts, dialOpts...)
	}
}

// WithBackend makes the background role use adapter instead of opening the
// configured storage driver. The host does not close it.
func WithBackend(adapter storage.Adapter) Option {
	return func(o *options) {
		o.adapter = adapter
	}
}

// WithActivityHooks receives stash.loaded, stash.saved and stash.synced
// events of every bound key.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithCollector reports to an existing collector instead of creating one
// when metrics are enabled.
func WithCollector(collector *metrics.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}
