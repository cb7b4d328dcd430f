// Package config loads the settings of a stash host from YAML with STASH_*
// environment overrides.
package config

import "time"

// Role says which side of the relay a process runs on. It is injected at
// startup; nothing below the host inspects it.
type Role string

const (
	// RoleBackground owns storage and runs the relay hub.
	RoleBackground Role = "background"
	// RoleContent is a page-like context reaching storage through the relay.
	RoleContent Role = "content"
	// RoleOptions is a settings UI context; it behaves like RoleContent.
	RoleOptions Role = "options"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBackground, RoleContent, RoleOptions:
		return true
	}
	return false
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Config is the root configuration.
type Config struct {
	Role Role `yaml:"role"`

	// Origin identifies this process in sync messages. Empty means a random
	// id per process.
	Origin string `yaml:"origin"`

	Area      string        `yaml:"area"`
	SaveDelay time.Duration `yaml:"save_delay"`
	// WriteThrough persists inside every Set instead of debouncing.
	WriteThrough bool `yaml:"write_through"`

	// Resync is a cron spec (robfig/cron syntax, descriptors allowed) for the
	// periodic version check. Empty disables it.
	Resync string `yaml:"resync"`

	Relay   RelayConfig          `yaml:"relay"`
	Storage StorageConfig        `yaml:"storage"`
	Metrics MetricsConfig        `yaml:"metrics"`
	Log     LogConfig            `yaml:"log"`
	Keys    map[string]KeyConfig `yaml:"keys"`
}

type RelayConfig struct {
	// Listen is the hub address of the background role.
	Listen string `yaml:"listen"`
	// Address is the hub other roles dial.
	Address string `yaml:"address"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// Path is the database file for sqlite and the directory for file.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Listen    string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// KeyConfig declares one stored value.
type KeyConfig struct {
	Default    any               `yaml:"default"`
	Migrations []MigrationConfig `yaml:"migrations"`
	// Strict rejects stored or synced payloads with fields the bound type
	// does not declare.
	Strict bool `yaml:"strict"`
}

// MigrationConfig is a scripted migration step.
type MigrationConfig struct {
	Name       string         `yaml:"name"`
	Engine     string         `yaml:"engine"`
	Expression string         `yaml:"expression"`
	Args       map[string]any `yaml:"args"`
}
