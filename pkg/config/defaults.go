package config

import "time"

const (
	DefaultArea             = "local"
	DefaultSaveDelay        = 25 * time.Millisecond
	DefaultRelayAddress     = "127.0.0.1:7420"
	DefaultMetricsNamespace = "stash"
	DefaultMetricsListen    = "127.0.0.1:9420"
	DefaultLogLevel         = "info"
)

// Default returns a background configuration with in-memory storage.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Role == "" {
		cfg.Role = RoleBackground
	}
	if cfg.Area == "" {
		cfg.Area = DefaultArea
	}
	if cfg.SaveDelay == 0 {
		cfg.SaveDelay = DefaultSaveDelay
	}
	if cfg.Relay.Address == "" {
		cfg.Relay.Address = DefaultRelayAddress
	}
	if cfg.Relay.Listen == "" && cfg.Role == RoleBackground {
		cfg.Relay.Listen = DefaultRelayAddress
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Keys == nil {
		cfg.Keys = map[string]KeyConfig{}
	}
}
