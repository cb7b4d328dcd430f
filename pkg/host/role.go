package host

import "github.com/goliatone/go-stash/pkg/config"

// Role is injected at startup and decides how a Host reaches storage.
type Role = config.Role

const (
	RoleBackground = config.RoleBackground
	RoleContent    = config.RoleContent
	RoleOptions    = config.RoleOptions
)
