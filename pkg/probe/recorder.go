package probe

import (
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

// Record is what a Recorder kept of one notification.
type Record struct {
	Kind   store.ObservationKind
	Time   clock.Time
	Levels []store.Observation
}

// Recorder keeps every observation of the runs it watches in memory.
type Recorder struct {
	Records  []Record
	Errors   []error
	Runs     int
	Finished int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) PrepareObservation() {
	r.Runs++
	r.Records = nil
	r.Errors = nil
}

func (r *Recorder) ObserveAtInitialTime(t clock.Time, sim engine.Observable) {
	r.record(store.KindInitial, t, sim)
}

func (r *Recorder) ObserveAtPartialConsistentTime(t clock.Time, sim engine.Observable) {
	r.record(store.KindPartial, t, sim)
}

func (r *Recorder) ObserveAtFinalTime(t clock.Time, sim engine.Observable) {
	r.record(store.KindFinal, t, sim)
}

func (r *Recorder) ReactToAbortion(t clock.Time, sim engine.Observable) {
	r.record(store.KindAbort, t, sim)
}

func (r *Recorder) ReactToError(_ string, cause error) {
	r.Errors = append(r.Errors, cause)
}

func (r *Recorder) EndObservation() { r.Finished++ }

// Times returns the instants of the records of a kind, in order.
func (r *Recorder) Times(kind store.ObservationKind) []clock.Time {
	var times []clock.Time
	for _, rec := range r.Records {
		if rec.Kind == kind {
			times = append(times, rec.Time)
		}
	}
	return times
}

func (r *Recorder) record(kind store.ObservationKind, t clock.Time, sim engine.Observable) {
	r.Records = append(r.Records, Record{Kind: kind, Time: t, Levels: Snapshot("", kind, t, sim)})
}
