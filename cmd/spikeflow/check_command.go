package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spikeflow/internal/logging"
	"spikeflow/internal/pipeline"
	"spikeflow/internal/preflight"
)

const toolkitCheckTimeout = 2 * time.Minute

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var skipToolkit bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check dependencies, directories, and the sorting toolkit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var rows [][]string
			failed := 0

			statuses := preflight.CheckSystemDeps(cfg)
			pythonReady := len(preflight.MissingRequired(statuses)) == 0
			for _, s := range statuses {
				state := "ok"
				detail := s.Detail
				if detail == "" {
					detail = s.Command
				}
				if !s.Available {
					if s.Optional {
						state = "warn"
					} else {
						state = "missing"
						failed++
					}
				}
				rows = append(rows, []string{s.Name, state, detail})
			}

			for _, r := range preflight.RunAll(cfg) {
				state := "ok"
				if !r.Passed {
					state = "fail"
					failed++
				}
				rows = append(rows, []string{r.Name, state, r.Detail})
			}

			switch {
			case skipToolkit:
			case !pythonReady:
				rows = append(rows, []string{"Toolkit", "skip", "python interpreter unavailable"})
			default:
				checkCtx, cancel := context.WithTimeout(cmd.Context(), toolkitCheckTimeout)
				defer cancel()
				for _, h := range pipeline.CheckToolkit(checkCtx, ctx.toolkit(cfg, logging.NewNop()), cfg) {
					state := "ok"
					if !h.Ready {
						state = "fail"
						failed++
					}
					rows = append(rows, []string{h.Name, state, h.Detail})
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Check", "Status", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipToolkit, "skip-toolkit", false, "Skip probing the Python toolkit")
	return cmd
}
