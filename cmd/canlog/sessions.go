package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/internal/cliconfig"
)

func newSessionsCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, *cfgPath, cfg); err != nil {
				return err
			}
			cfg.ResolvePaths()

			sessions, err := fsadapter.NewSessionFileRepository(cfg.LogDir).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no sessions in %s\n", cfg.LogDir)
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tDURATION\tSOURCE\tSTATUS\tFLUSHED\tEVICTED\tDESTINATION")
			now := time.Now()
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.StartTime.Local().Format(time.DateTime), s.Duration(now).Round(time.Millisecond),
					s.Source, s.Status, s.Stats.Flushed, s.Stats.Evicted, s.Destination)
			}
			return tw.Flush()
		},
	}
}
