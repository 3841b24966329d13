package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tripcache/tripcache/internal/coordinator"
)

func newRateCmd(e *env, load func() (settings, error)) *cobra.Command {
	var amount float64

	cmd := &cobra.Command{
		Use:   "rate BASE QUOTE",
		Short: "Show an exchange rate as served by the proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load()
			if err != nil {
				return err
			}
			source, err := coordinator.NewRateSource(e.httpClient(s.Timeout), s.ProxyURL, s.StaleAfter)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, s)
			defer cancel()

			entry, err := source.Fetch(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			p := newPrinter()
			freshness := p.Success("fresh")
			if label := entry.Label(); label != "" {
				freshness = p.Warning("%s", label)
			}
			table := createTable(cmd.OutOrStdout(), []string{"Pair", "Rate", "As Of", "Freshness", "Converted"})
			if err := table.Append([]string{
				entry.Base + "/" + entry.Quote,
				strconv.FormatFloat(entry.Rate, 'f', -1, 64),
				entry.AsOf.Format("2006-01-02"),
				freshness,
				fmt.Sprintf("%.2f %s = %.2f %s", amount, entry.Base, entry.Convert(amount), entry.Quote),
			}); err != nil {
				return err
			}
			return table.Render()
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 1, "amount of BASE to convert")
	return cmd
}
