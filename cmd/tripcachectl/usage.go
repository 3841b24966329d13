package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newUsageCmd(e *env, load func() (settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show the storage used by the proxy cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := load()
			if err != nil {
				return err
			}
			coord, err := e.coordinator(s)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, s)
			defer cancel()

			size, err := coord.Usage(ctx)
			if err != nil {
				return fmt.Errorf("query storage usage: %w", err)
			}
			if size < 0 {
				size = 0
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cache usage: %s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
			return nil
		},
	}
}
