package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/hyperopt/internal/objective"
	"github.com/GoSim-25-26J-441/hyperopt/internal/strategy"
)

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies and objectives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STRATEGY\tDOMAINS\tSETTINGS")
			reg := strategy.Default()
			for _, name := range reg.Names() {
				e, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				var settings []string
				for _, spec := range e.Schema().Specs() {
					settings = append(settings, spec.Name)
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\n", name, e.Domains, strings.Join(settings, ","))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "OBJECTIVE\tDESCRIPTION")
			for _, name := range objective.Names() {
				o, _ := objective.New(name)
				fmt.Fprintf(tw, "%s\t%s\n", name, o.Description())
			}
			return tw.Flush()
		},
	}
}
