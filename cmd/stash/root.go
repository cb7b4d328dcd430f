package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goliatone/go-stash/pkg/config"
	"github.com/goliatone/go-stash/pkg/host"
)

// RootOptions holds the persistent flags.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Role       string
	Origin     string
	Relay      string
	Area       string
}

func newRootCmd() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:   "stash",
		Short: "Reactive key-value state shared between processes",
		Long: `stash keeps typed values in storage and keeps every process that binds
them in sync. The background process owns storage and serves the relay hub;
the other commands reach it through the relay as a content context.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "development logging at debug level")
	flags.StringVar(&opts.Role, "role", "", "role for client commands (content or options)")
	flags.StringVar(&opts.Origin, "origin", "", "origin id stamped on sync messages")
	flags.StringVar(&opts.Relay, "relay", "", "relay hub address")
	flags.StringVar(&opts.Area, "area", "", "storage area")

	cmd.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newSetCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// loadConfig reads the config and applies the persistent flag overrides.
func (o *RootOptions) loadConfig(role config.Role) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Role = role
	if o.Origin != "" {
		cfg.Origin = o.Origin
	}
	if o.Relay != "" {
		cfg.Relay.Address = o.Relay
		if role == config.RoleBackground {
			cfg.Relay.Listen = o.Relay
		}
	}
	if o.Area != "" {
		cfg.Area = o.Area
	}
	if o.Verbose {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// clientRole is the role of get, set and watch.
func (o *RootOptions) clientRole() (config.Role, error) {
	if o.Role == "" {
		return config.RoleContent, nil
	}
	role := config.Role(o.Role)
	if role != config.RoleContent && role != config.RoleOptions {
		return "", fmt.Errorf("client commands run as content or options, got %q", o.Role)
	}
	return role, nil
}

// openClient opens a non background host.
func (o *RootOptions) openClient(ctx context.Context) (*host.Host, error) {
	role, err := o.clientRole()
	if err != nil {
		return nil, err
	}
	cfg, err := o.loadConfig(role)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, o.Verbose)
	if err != nil {
		return nil, err
	}
	return host.Open(ctx, cfg, host.WithLogger(logger))
}

// newLogger keeps client commands quiet unless --verbose is set.
func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	if cfg.Role != config.RoleBackground && !verbose {
		return zap.NewNop(), nil
	}
	return host.NewLogger(cfg.Log)
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func parseJSON(raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("value must be JSON: %w", err)
	}
	return value, nil
}
