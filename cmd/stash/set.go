package main

import (
	"github.com/spf13/cobra"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/pkg/host"
)

func newSetCmd(opts *RootOptions) *cobra.Command {
	var merge, deep bool
	cmd := &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Write a key and broadcast the change",
		Long: `Write a key through the relay hub. With --merge the JSON object is
merged into the current value instead of replacing it; --deep merges nested
objects too.

Examples:
  stash set preferences '{"theme":"dark","size":14}'
  stash set preferences '{"window":{"width":800}}' --merge --deep`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseJSON(args[1])
			if err != nil {
				return err
			}
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
			if merge || deep {
				var mergeOpts []stash.MergeOption
				if deep {
					mergeOpts = append(mergeOpts, stash.Deep())
				}
				if err := helper.Merge(value, mergeOpts...); err != nil {
					return err
				}
			} else {
				helper.Set(value)
			}
			if err := helper.Flush(ctx); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), helper.Get())
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "shallow-merge into the current value")
	cmd.Flags().BoolVar(&deep, "deep", false, "deep-merge into the current value (implies --merge)")
	return cmd
}
