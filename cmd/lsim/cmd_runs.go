package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/daviddao/levelsim/pkg/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in the trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			return a.listRuns(s, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs")

	return cmd
}

func (a *app) listRuns(s store.TraceStore, limit int, out io.Writer) error {
	runs, err := s.ListRuns(limit)
	if err != nil {
		return err
	}

	if a.jsonOut {
		return printJSON(out, map[string]any{"runs": runs, "count": len(runs)})
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs")
		return nil
	}
	for _, r := range runs {
		outcome := r.Outcome
		if r.EndedAt == nil {
			outcome = "running"
		}
		fmt.Fprintf(out, "%s  %-10s %-9s t=%-6s rounds=%-5d %s\n",
			r.ID, r.Name, outcome, r.FinalTime, r.Rounds, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if r.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", r.Error)
		}
	}
	return nil
}
