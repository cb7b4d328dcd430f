package syncer

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-stash/pkg/activity"
)

// Option configures a Syncer.
type Option func(*config)

type config struct {
	origin   string
	logger   *zap.Logger
	observer Observer
	hooks    activity.Hooks
}

func applyOptions(opts []Option) config {
	cfg := config{
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.origin == "" {
		cfg.origin = uuid.NewString()
	}
	return cfg
}

// WithOrigin sets the id this context stamps on its messages. Defaults to a
// random UUID; ids must be unique per context.
func WithOrigin(origin string) Option {
	return func(cfg *config) {
		cfg.origin = origin
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithObserver reports the outcome of every received and published message.
func WithObserver(observer Observer) Option {
	return func(cfg *config) {
		if observer != nil {
			cfg.observer = observer
		}
	}
}

// WithActivityHooks emits a stash.synced event for every applied message.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(cfg *config) {
		cfg.hooks = append(activity.Hooks(nil), hooks...)
	}
}
