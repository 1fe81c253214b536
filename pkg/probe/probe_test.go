package probe

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/demo"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

func demoParams() demo.Params {
	return demo.Params{Until: 10, Walkers: 2, Stamina: 3, SpawnEvery: 4, Width: 5}
}

func run(t *testing.T, ctx context.Context, d engine.Domain, probes map[string]engine.Probe) (engine.Result, error) {
	t.Helper()
	e := engine.New(d)
	for name, p := range probes {
		require.NoError(t, e.AddProbe(name, p))
	}
	return e.Run(ctx)
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	_, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"rec": rec})
	require.NoError(t, err)

	require.Equal(t, 1, rec.Runs)
	require.Equal(t, 1, rec.Finished)
	require.Equal(t, []clock.Time{0}, rec.Times(store.KindInitial))
	require.Equal(t, []clock.Time{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, rec.Times(store.KindPartial))
	require.Equal(t, []clock.Time{10}, rec.Times(store.KindFinal))
	require.Empty(t, rec.Errors)

	atOne := rec.Records[1]
	require.Equal(t, clock.Time(1), atOne.Time)
	require.Len(t, atOne.Levels, 2)
	ground, weather := atOne.Levels[0], atOne.Levels[1]
	require.Equal(t, demo.Ground, ground.Level)
	require.True(t, ground.Consistent)
	require.Equal(t, 2, ground.Agents)
	require.False(t, weather.Consistent)
	require.Equal(t, clock.Time(0), weather.Lower)
	require.Equal(t, clock.Time(3), weather.Upper)
	require.Equal(t, 1, weather.Agents)
	// The forecast of the cloud waits in the weather backlog.
	require.Equal(t, 1, weather.Backlog)

	atThree := rec.Records[3]
	require.True(t, atThree.Levels[0].Consistent)
	require.True(t, atThree.Levels[1].Consistent)
}

func TestRecorderKeepsErrors(t *testing.T) {
	rec := NewRecorder()
	_, err := run(t, context.Background(), demo.New(demo.Params{Until: 3}), map[string]engine.Probe{"rec": rec})
	require.Error(t, err)
	require.Len(t, rec.Errors, 1)
	require.ErrorIs(t, rec.Errors[0], engine.ErrDomain)
	require.Empty(t, rec.Records)
	require.Equal(t, 1, rec.Finished)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"metrics": m})
	require.NoError(t, err)

	require.Equal(t, 10.0, testutil.ToFloat64(m.Rounds))
	require.Equal(t, 10.0, testutil.ToFloat64(m.LevelReactions.WithLabelValues("ground")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.LevelReactions.WithLabelValues("weather")))
	require.Equal(t, 10.0, testutil.ToFloat64(m.SimulationTime))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LevelAgents.WithLabelValues("ground")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LevelAgents.WithLabelValues("weather")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("completed")))

	count, err := testutil.GatherAndCount(reg, "levelsim_level_reactions_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestMetricsOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(t, ctx, demo.New(demoParams()), map[string]engine.Probe{"metrics": m})
	require.NoError(t, err)
	_, err = run(t, context.Background(), demo.New(demo.Params{Until: 3}), map[string]engine.Probe{"metrics": m})
	require.Error(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("aborted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.Rounds))
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLogger(zap.New(core))

	_, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"log": l})
	require.NoError(t, err)

	require.Equal(t, 12, logs.FilterMessage("observation").Len())
	require.Equal(t, 24, logs.FilterMessage("level").Len())

	final := logs.FilterMessage("observation").FilterField(zap.String("kind", "final")).All()
	require.Len(t, final, 1)
	require.Equal(t, []any{"ground", "weather"}, final[0].ContextMap()["consistent"])
}

func TestNopIsSilent(t *testing.T) {
	_, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"nop": Nop{}})
	require.NoError(t, err)
}

func newTraceStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedIDs(ids ...string) func() string {
	return func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
}

func TestTraceCompletedRun(t *testing.T) {
	s := newTraceStore(t)
	tr := NewTrace(context.Background(), s, "demo", WithRunIDs(fixedIDs("run-1")))

	_, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"trace": tr})
	require.NoError(t, err)
	require.NoError(t, tr.Err())
	require.Equal(t, "run-1", tr.RunID())

	r, err := s.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, "demo", r.Name)
	require.Equal(t, "completed", r.Outcome)
	require.Equal(t, clock.Time(10), r.FinalTime)
	require.Equal(t, 10, r.Rounds)
	require.NotNil(t, r.EndedAt)

	// Two levels at 0, at every round and at 10.
	require.Equal(t, int64(24), s.CountObservations("run-1"))
	final, err := s.ListObservations("run-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, final, 4)
	kinds := map[store.ObservationKind]int{}
	for _, o := range final {
		kinds[o.Kind]++
		// Weather is still in transit at 10 until the run is closed.
		inTransit := o.Kind == store.KindPartial && o.Level == demo.Weather
		require.Equal(t, !inTransit, o.Consistent)
	}
	require.Equal(t, map[store.ObservationKind]int{store.KindPartial: 2, store.KindFinal: 2}, kinds)
}

func TestTraceAbortedAndFailedRuns(t *testing.T) {
	s := newTraceStore(t)
	tr := NewTrace(context.Background(), s, "demo", WithRunIDs(fixedIDs("aborted", "failed")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(t, ctx, demo.New(demoParams()), map[string]engine.Probe{"trace": tr})
	require.NoError(t, err)
	require.NoError(t, tr.Err())

	r, err := s.GetRun("aborted")
	require.NoError(t, err)
	require.Equal(t, "aborted", r.Outcome)
	require.Equal(t, clock.Time(0), r.FinalTime)
	obs, err := s.ListObservations("aborted", 0, 0)
	require.NoError(t, err)
	require.Len(t, obs, 4)
	require.Equal(t, store.KindAbort, obs[3].Kind)

	_, err = run(t, context.Background(), demo.New(demo.Params{Until: 3}), map[string]engine.Probe{"trace": tr})
	require.Error(t, err)
	r, err = s.GetRun("failed")
	require.NoError(t, err)
	require.Equal(t, "failed", r.Outcome)
	require.Contains(t, r.Error, "domain error")
}

// failingStore fails every observation write.
type failingStore struct {
	store.TraceStore
	ended int
}

var errDiskFull = ierrors.New("disk full")

func (f *failingStore) BeginRun(context.Context, string, string) (*store.Run, error) {
	return &store.Run{}, nil
}

func (f *failingStore) InsertObservations(context.Context, []store.Observation) error {
	return errDiskFull
}

func (f *failingStore) EndRun(context.Context, string, string, clock.Time, int, string) error {
	f.ended++
	return nil
}

func TestTraceWriteErrorsDoNotFailTheRun(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fs := &failingStore{}
	tr := NewTrace(context.Background(), fs, "demo", WithTraceLogger(zap.New(core)))

	res, err := run(t, context.Background(), demo.New(demoParams()), map[string]engine.Probe{"trace": tr})
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeCompleted, res.Outcome)
	require.ErrorIs(t, tr.Err(), errDiskFull)
	require.NotEmpty(t, tr.RunID())
	require.Equal(t, 1, fs.ended)
	// Writing stops at the first failure.
	require.Equal(t, 1, logs.FilterMessage("trace write failed").Len())
}
