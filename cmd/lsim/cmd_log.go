package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/spf13/cobra"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/store"
)

// logFilter selects the observations printed by the log command.
type logFilter struct {
	level string
	kind  string
}

func (f logFilter) keep(o store.Observation) bool {
	if f.level != "" && string(o.Level) != f.level {
		return false
	}
	return f.kind == "" || string(o.Kind) == f.kind
}

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log [run-id]",
		Short: "Show the observations of a run (default: the latest run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			since, _ := flags.GetInt64("since")
			limit, _ := flags.GetInt("limit")
			follow, _ := flags.GetBool("follow")
			interval, _ := flags.GetDuration("interval")
			var filter logFilter
			filter.level, _ = flags.GetString("level")
			filter.kind, _ = flags.GetString("kind")

			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			runID, err := resolveRun(s, args)
			if err != nil {
				return err
			}

			if follow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				fmt.Fprintf(cmd.ErrOrStderr(), "following run %s (poll every %s, ctrl-c to stop)\n", runID, interval)
				return a.followLog(ctx, s, runID, filter, interval, cmd.OutOrStdout())
			}

			return a.printLog(s, runID, clock.Time(since), limit, filter, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64("since", 0, "Show observations at or after this instant")
	cmd.Flags().Int("limit", 1000, "Maximum number of observations")
	cmd.Flags().String("level", "", "Only show this level")
	cmd.Flags().String("kind", "", "Only show this kind (initial, partial, final, abort)")
	cmd.Flags().BoolP("follow", "f", false, "Keep printing observations until the run ends")
	cmd.Flags().Duration("interval", time.Second, "Poll interval when following")

	return cmd
}

// resolveRun returns the run named by args, or the most recent run.
func resolveRun(s store.TraceStore, args []string) (string, error) {
	if len(args) == 1 {
		if _, err := s.GetRun(args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	}

	runs, err := s.ListRuns(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ierrors.Wrap(store.ErrRunNotFound, "the trace has no runs")
	}
	return runs[0].ID, nil
}

func (a *app) printLog(s store.TraceStore, runID string, since clock.Time, limit int, filter logFilter, out io.Writer) error {
	all, err := s.ListObservations(runID, since, limit)
	if err != nil {
		return err
	}
	obs := all[:0]
	for _, o := range all {
		if filter.keep(o) {
			obs = append(obs, o)
		}
	}

	if a.jsonOut {
		return printJSON(out, map[string]any{"run_id": runID, "observations": obs, "count": len(obs)})
	}
	if len(obs) == 0 {
		fmt.Fprintln(out, "no observations")
		return nil
	}
	for _, o := range obs {
		fmt.Fprintln(out, formatObservation(o))
	}
	return nil
}

// followLog polls the trace for new observations until ctx is done or the
// run has ended and everything it recorded was printed.
func (a *app) followLog(ctx context.Context, s store.TraceStore, runID string, filter logFilter, interval time.Duration, out io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cursor int64
	for {
		ended := false
		if r, err := s.GetRun(runID); err == nil && r.EndedAt != nil {
			ended = true
		}

		obs, err := s.ListObservationsSinceID(runID, cursor, 0)
		if err != nil {
			return err
		}
		for _, o := range obs {
			cursor = o.ID
			if !filter.keep(o) {
				continue
			}
			if a.jsonOut {
				b, _ := json.Marshal(o)
				fmt.Fprintln(out, string(b))
			} else {
				fmt.Fprintln(out, formatObservation(o))
			}
		}

		// The run state is read before the observations, so nothing can
		// be recorded after an ended run was drained.
		if ended && len(obs) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func formatObservation(o store.Observation) string {
	state := "transitory"
	if o.Consistent {
		state = "consistent"
	}
	return fmt.Sprintf("[t=%s] %-8s %-10s %-10s [%s,%s) agents=%d backlog=%d",
		o.Time, o.Kind, o.Level, state, o.Lower, o.Upper, o.Agents, o.Backlog)
}
