package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dskow/luis-proxy/internal/routing"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes [name]",
		Short: "Print the route catalog, or one route by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := routing.Catalog()
			if len(args) == 1 {
				rt, ok := routing.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown route %q", args[0])
				}
				routes = []routing.Route{rt}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMETHOD\tPATHS\tTARGET\tMODE\tKEY")
			for _, rt := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
					rt.Name, rt.Method, strings.Join(rt.Paths, ","), rt.Target, rt.Mode, rt.SubscriptionKey)
			}
			return tw.Flush()
		},
	}
}
