package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/demo"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/probe"
)

// runSummary is printed once a run is over.
type runSummary struct {
	engine.Result
	Name   string `json:"name"`
	RunID  string `json:"run_id,omitempty"`
	Agents int    `json:"agents"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo simulation",
		Long: `Run the demo simulation: walkers move on a ring level reacting every tick
while a weather level, reacting every 3 ticks, makes them wait when it rains.

Interrupting the command aborts the run at the next reaction round.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, a)
			if err := a.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().String("name", "", "Run name recorded in the trace")
	cmd.Flags().Int64("until", 0, "Final instant")
	cmd.Flags().Int("walkers", 0, "Walkers at the initial instant")
	cmd.Flags().Int("stamina", 0, "Moves of a walker before it leaves")
	cmd.Flags().Int64("spawn-every", 0, "Ticks between two spawned walkers (0 disables spawning)")
	cmd.Flags().Int("width", 0, "Length of the ring")
	cmd.Flags().Bool("metrics", false, "Collect prometheus metrics")
	cmd.Flags().String("metrics-file", "", "Write metrics to this file instead of stderr")

	return cmd
}

// applyRunFlags overrides the configuration with the flags set on cmd.
func applyRunFlags(cmd *cobra.Command, a *app) {
	flags := cmd.Flags()
	run := &a.cfg.Run

	if flags.Changed("name") {
		run.Name, _ = flags.GetString("name")
	}
	if flags.Changed("until") {
		until, _ := flags.GetInt64("until")
		run.Until = clock.Time(until)
	}
	if flags.Changed("walkers") {
		run.Walkers, _ = flags.GetInt("walkers")
	}
	if flags.Changed("stamina") {
		run.Stamina, _ = flags.GetInt("stamina")
	}
	if flags.Changed("spawn-every") {
		every, _ := flags.GetInt64("spawn-every")
		run.SpawnEvery = clock.Time(every)
	}
	if flags.Changed("width") {
		run.Width, _ = flags.GetInt("width")
	}
	if flags.Changed("metrics") {
		a.cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("metrics-file") {
		a.cfg.Metrics.File, _ = flags.GetString("metrics-file")
		a.cfg.Metrics.Enabled = true
	}
}

// run executes the demo with the configured probes and prints its summary.
func (a *app) run(ctx context.Context, out, errOut io.Writer) error {
	params := demo.Params{
		Until:      a.cfg.Run.Until,
		Walkers:    a.cfg.Run.Walkers,
		Stamina:    a.cfg.Run.Stamina,
		SpawnEvery: a.cfg.Run.SpawnEvery,
		Width:      a.cfg.Run.Width,
	}
	sim := engine.New(demo.New(params),
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithProbe("log", probe.NewLogger(a.logger.Named("probe"))),
	)

	var registry *prometheus.Registry
	if a.cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		if err := sim.AddProbe("metrics", probe.NewMetrics(registry)); err != nil {
			return err
		}
	}

	var trace *probe.Trace
	if a.cfg.Trace.Enabled {
		s, err := a.openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		trace = probe.NewTrace(ctx, s, a.cfg.Run.Name, probe.WithTraceLogger(a.logger.Named("trace")))
		if err := sim.AddProbe("trace", trace); err != nil {
			return err
		}
	}

	result, err := sim.Run(ctx)

	if registry != nil {
		if werr := a.writeMetrics(registry, errOut); werr != nil {
			a.logger.Warn("writing metrics failed", zap.Error(werr))
			err = ierrors.Join(err, werr)
		}
	}
	if err != nil {
		return ierrors.Wrap(err, "simulation failed")
	}

	summary := runSummary{Result: result, Name: a.cfg.Run.Name, Agents: len(sim.Agents())}
	if trace != nil {
		summary.RunID = trace.RunID()
		if terr := trace.Err(); terr != nil {
			a.logger.Warn("trace is incomplete", zap.Error(terr))
		}
	}

	if a.jsonOut {
		return printJSON(out, summary)
	}
	fmt.Fprintf(out, "%s %s at t=%s after %d rounds (%d fixed-point iterations, %d agents left)\n",
		summary.Name, summary.Outcome, summary.Time, summary.Rounds, summary.FixedPointIterations, summary.Agents)
	if summary.RunID != "" {
		fmt.Fprintf(out, "trace: %s (lsim log %s)\n", a.cfg.Trace.DB, summary.RunID)
	}
	return nil
}

// writeMetrics writes the gathered metrics in the prometheus text format to
// the configured file, or to w.
func (a *app) writeMetrics(registry *prometheus.Registry, w io.Writer) error {
	if a.cfg.Metrics.File != "" {
		return prometheus.WriteToTextfile(a.cfg.Metrics.File, registry)
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
