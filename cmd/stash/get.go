package main

import (
	"github.com/spf13/cobra"

	"github.com/goliatone/go-stash/pkg/host"
)

func newGetCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the current value of a key as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := opts.openClient(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			key := args[0]
			helper, err := host.Bind[any](ctx, h, key, h.Config().Keys[key].Default)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), helper.Get())
		},
	}
}
