package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"spikeflow/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent recording outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			outcomes, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(outcomes) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(outcomes))
			for _, o := range outcomes {
				detail := o.Message
				if o.ErrorKind != "" {
					detail = o.ErrorKind + ": " + detail
				}
				rows = append(rows, []string{
					humanize.Time(o.FinishedAt),
					o.Bundle,
					string(o.Status),
					humanize.Comma(int64(o.Units)),
					humanize.Comma(int64(o.Spikes)),
					o.Duration().Round(time.Second).String(),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Finished", "Recording", "Status", "Units", "Spikes", "Elapsed", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of outcomes to show")
	return cmd
}
