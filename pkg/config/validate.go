package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

// FieldError is a validation failure of one dotted field path.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config: validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config: validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "config: validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  - %s", err.Error())
	}
	return sb.String()
}

// Validate checks cfg after defaults were applied.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !cfg.Role.Valid() {
		add("role", "must be one of background, content, options; got %q", cfg.Role)
	}
	if strings.TrimSpace(cfg.Area) == "" {
		add("area", "cannot be empty")
	}
	if cfg.SaveDelay < 0 {
		add("save_delay", "cannot be negative")
	}
	if cfg.Resync != "" {
		if _, err := cron.ParseStandard(cfg.Resync); err != nil {
			add("resync", "invalid schedule: %v", err)
		}
	}

	switch cfg.Role {
	case RoleBackground:
		if strings.TrimSpace(cfg.Relay.Listen) == "" {
			add("relay.listen", "required for the background role")
		}
	case RoleContent, RoleOptions:
		if strings.TrimSpace(cfg.Relay.Address) == "" {
			add("relay.address", "required for the %s role", cfg.Role)
		}
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverFile:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path", "required for the %s driver", cfg.Storage.Driver)
		}
	default:
		add("storage.driver", "must be one of memory, sqlite, file; got %q", cfg.Storage.Driver)
	}

	if cfg.Metrics.Enabled {
		if strings.TrimSpace(cfg.Metrics.Listen) == "" {
			add("metrics.listen", "required when metrics are enabled")
		}
		if strings.TrimSpace(cfg.Metrics.Namespace) == "" {
			add("metrics.namespace", "required when metrics are enabled")
		}
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level", "%v", err)
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.Keys)) {
		key := cfg.Keys[name]
		if strings.TrimSpace(name) == "" {
			add("keys", "key names cannot be blank")
			continue
		}
		for i, migration := range key.Migrations {
			field := fmt.Sprintf("keys.%s.migrations[%d]", name, i)
			if strings.TrimSpace(migration.Expression) == "" {
				add(field+".expression", "cannot be empty")
			}
			if !knownEngine(migration.Engine) {
				add(field+".engine", "unknown engine %q", migration.Engine)
			}
		}
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func knownEngine(engine string) bool {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "expr", "cel", "js", "javascript", "goja":
		return true
	}
	return false
}
