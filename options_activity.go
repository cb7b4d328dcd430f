package stash

import (
	"context"

	"github.com/goliatone/go-stash/pkg/activity"
)

type activityEmitter interface {
	Emit(ctx context.Context, event activity.Event) error
}

// WithActivityHooks emits stash.loaded and stash.saved events to hooks.
// Nil entries are dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *config) {
		cfg.activityHooks = normalized
	}
}

// WithActivityOrigin attributes emitted events to origin, normally the sync
// origin of the context owning the helper.
func WithActivityOrigin(origin string) Option {
	return func(cfg *config) {
		cfg.activityOrigin = origin
	}
}

func buildEmitter(cfg config) activityEmitter {
	if len(cfg.activityHooks) == 0 {
		return nil
	}
	return activity.NewEmitter(cfg.activityHooks, activity.Config{
		Enabled: true,
		Origin:  cfg.activityOrigin,
	})
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
