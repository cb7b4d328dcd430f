package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-stash/pkg/host"
)

func newWatchCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch KEY",
		Short: "Print the value of a key every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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

			out := cmd.OutOrStdout()
			changes := make(chan any, 16)
			unsubscribe := helper.Subscribe(func(value any) {
				select {
				case changes <- value:
				default:
				}
			})
			defer unsubscribe()

			if err := writeJSON(out, helper.Get()); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case value := <-changes:
					if err := writeJSON(out, value); err != nil {
						return err
					}
				}
			}
		},
	}
}
