package activity

import (
	"context"
	"strings"
)

// DefaultChannel is applied to events emitted without one.
const DefaultChannel = "stash"

// Config controls activity emission defaults supplied by DI/config.
type Config struct {
	Enabled bool
	Channel string
	// Origin is stamped as ActorID on events that carry none, so loads and
	// saves are attributed to the context that performed them.
	Origin string
	// Verbs limits emission to the listed verbs. Empty emits every verb.
	Verbs []string
}

// Emitter fans out events to hooks while applying defaults.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	origin  string
	verbs   map[string]struct{}
}

// NewEmitter constructs an emitter from hooks and configuration.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	normalizedHooks := cloneHooks(hooks)
	return &Emitter{
		hooks:   normalizedHooks,
		enabled: cfg.Enabled && len(normalizedHooks) > 0,
		channel: channel,
		origin:  strings.TrimSpace(cfg.Origin),
		verbs:   verbSet(cfg.Verbs),
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled && len(e.hooks) > 0
}

// Emit forwards the event to all hooks, applying the default channel and
// origin when missing. Verbs outside the configured set are skipped.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if !allowed(e.verbs, event.Verb) {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" && e.channel != "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.ActorID) == "" && e.origin != "" {
		event.ActorID = e.origin
	}
	return e.hooks.Notify(ctx, event)
}

func cloneHooks(hooks Hooks) Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	return Hooks(normalized)
}

func verbSet(verbs []string) map[string]struct{} {
	var set map[string]struct{}
	for _, verb := range verbs {
		verb = strings.ToLower(strings.TrimSpace(verb))
		if verb == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{}, len(verbs))
		}
		set[verb] = struct{}{}
	}
	return set
}

func allowed(set map[string]struct{}, verb string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[strings.ToLower(strings.TrimSpace(verb))]
	return ok
}
