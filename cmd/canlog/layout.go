package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bft-labs/canlog/internal/decode"
)

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect signal layouts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a layout file and print its signals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := decode.LoadLayout(args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMESSAGE\tSIGNAL\tSTART\tLENGTH\tORDER\tSIGNED\tSCALE\tOFFSET\tUNIT")
			signals := 0
			for _, m := range layout.Messages() {
				for _, s := range m.Signals {
					fmt.Fprintf(tw, "0x%X\t%s\t%s\t%d\t%d\t%s\t%t\t%g\t%g\t%s\n",
						m.ID, m.Name, s.Name, s.Start, s.Length, s.Order, s.Signed, s.Scale, s.Offset, s.Unit)
					signals++
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d messages, %d signals\n", layout.Len(), signals)
			return nil
		},
	})
	return cmd
}
