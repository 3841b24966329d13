package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPackCmd(e *env, load func() (settings, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Download, delete or list offline country packs",
	}
	cmd.AddCommand(
		newPackActionCmd(e, load, "download", "Download a country pack for offline use"),
		newPackActionCmd(e, load, "delete", "Remove a country pack from the offline cache"),
		newPackListCmd(e, load),
	)
	return cmd
}

func newPackActionCmd(e *env, load func() (settings, error), action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " CODE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			code := strings.ToUpper(strings.TrimSpace(args[0]))
			p := newPrinter()
			if action == "download" {
				err = coord.Download(ctx, code)
			} else {
				err = coord.Delete(ctx, code)
			}
			if err != nil {
				for _, alert := range coord.Alerts() {
					fmt.Fprintln(cmd.OutOrStdout(), p.Warning("retry with: %s", alert.Retry))
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Success("%s pack %s: %s", code, pastTense(action), coord.Status(code)))
			return nil
		},
	}
}

func newPackListCmd(e *env, load func() (settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known country packs and their status",
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
			snapshot := coord.Snapshot()
			if len(snapshot) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no country packs recorded")
				return nil
			}

			p := newPrinter()
			table := createTable(cmd.OutOrStdout(), []string{"Country", "Status", "Updated"})
			for _, state := range snapshot {
				updated := "-"
				if !state.UpdatedAt.IsZero() {
					updated = state.UpdatedAt.Local().Format("2006-01-02 15:04")
				}
				if err := table.Append([]string{state.Country, p.status(state.Status), updated}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

func pastTense(action string) string {
	if action == "delete" {
		return "deleted"
	}
	return "downloaded"
}
