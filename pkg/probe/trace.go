package probe

import (
	"context"

	"github.com/google/uuid"
	"github.com/iotaledger/hive.go/runtime/options"
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

// Trace records runs and their observations in a trace store. Probes cannot
// fail a run, so write errors are logged and kept for Err.
type Trace struct {
	ctx    context.Context
	store  store.TraceStore
	name   string
	logger *zap.Logger
	newID  func() string

	runID   string
	outcome engine.Outcome
	last    clock.Time
	rounds  int
	errMsg  string
	err     error
}

// NewTrace returns a probe recording runs named name into s. Writes outlive
// the cancellation of ctx, so that aborted runs are recorded too.
func NewTrace(ctx context.Context, s store.TraceStore, name string, opts ...options.Option[Trace]) *Trace {
	return options.Apply(&Trace{
		ctx:    context.WithoutCancel(ctx),
		store:  s,
		name:   name,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
	}, opts)
}

// WithTraceLogger sets the logger receiving write errors.
func WithTraceLogger(logger *zap.Logger) options.Option[Trace] {
	return func(t *Trace) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRunIDs sets the generator of run identifiers.
func WithRunIDs(newID func() string) options.Option[Trace] {
	return func(t *Trace) {
		if newID != nil {
			t.newID = newID
		}
	}
}

// RunID returns the identifier of the last run observed.
func (t *Trace) RunID() string { return t.runID }

// Err returns the first write error of the last run.
func (t *Trace) Err() error { return t.err }

func (t *Trace) PrepareObservation() {
	t.runID = t.newID()
	t.outcome = engine.OutcomeFailed
	t.last = 0
	t.rounds = 0
	t.errMsg = ""
	t.err = nil

	if _, err := t.store.BeginRun(t.ctx, t.runID, t.name); err != nil {
		t.fail(err)
	}
}

func (t *Trace) ObserveAtInitialTime(at clock.Time, sim engine.Observable) {
	t.write(store.KindInitial, at, sim)
}

func (t *Trace) ObserveAtPartialConsistentTime(at clock.Time, sim engine.Observable) {
	t.rounds++
	t.write(store.KindPartial, at, sim)
}

func (t *Trace) ObserveAtFinalTime(at clock.Time, sim engine.Observable) {
	t.outcome = engine.OutcomeCompleted
	t.write(store.KindFinal, at, sim)
}

func (t *Trace) ReactToAbortion(at clock.Time, sim engine.Observable) {
	t.outcome = engine.OutcomeAborted
	t.write(store.KindAbort, at, sim)
}

func (t *Trace) ReactToError(message string, _ error) {
	t.outcome = engine.OutcomeFailed
	t.errMsg = message
}

func (t *Trace) EndObservation() {
	if err := t.store.EndRun(t.ctx, t.runID, string(t.outcome), t.last, t.rounds, t.errMsg); err != nil {
		t.fail(err)
	}
}

func (t *Trace) write(kind store.ObservationKind, at clock.Time, sim engine.Observable) {
	t.last = at
	if t.err != nil {
		return
	}
	if err := t.store.InsertObservations(t.ctx, Snapshot(t.runID, kind, at, sim)); err != nil {
		t.fail(err)
	}
}

func (t *Trace) fail(err error) {
	t.logger.Warn("trace write failed", zap.String("run", t.runID), zap.Error(err))
	if t.err == nil {
		t.err = err
	}
}
