package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STASH_"

// Load reads path, applies defaults and STASH_* overrides, then validates.
// An empty path starts from the defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		data = raw
	}
	cfg, err := parse(data)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	applyEnvOverrides(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates. Environment overrides
// are not applied.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(data) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides lets STASH_SECTION_FIELD variables win over the file.
// Unparseable numbers and booleans are ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) {
	str := func(name string, dst *string) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val, ok := lookup(EnvPrefix + name); ok && val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}

	if val, ok := lookup(EnvPrefix + "ROLE"); ok && val != "" {
		cfg.Role = Role(strings.ToLower(val))
	}
	str("ORIGIN", &cfg.Origin)
	str("AREA", &cfg.Area)
	duration("SAVE_DELAY", &cfg.SaveDelay)
	boolean("WRITE_THROUGH", &cfg.WriteThrough)
	str("RESYNC", &cfg.Resync)

	str("RELAY_LISTEN", &cfg.Relay.Listen)
	str("RELAY_ADDRESS", &cfg.Relay.Address)

	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_PATH", &cfg.Storage.Path)

	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	str("METRICS_LISTEN", &cfg.Metrics.Listen)

	str("LOG_LEVEL", &cfg.Log.Level)
	boolean("LOG_DEVELOPMENT", &cfg.Log.Development)
}
