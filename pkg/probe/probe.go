// Package probe provides engine.Probe implementations: a recorder, a zap
// logger, prometheus metrics and a SQLite trace.
//
// All of them describe an observable instant the same way, with one
// store.Observation per level (see Snapshot).
package probe

import (
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/state"
	"github.com/daviddao/levelsim/pkg/store"
)

var (
	_ engine.Probe = Nop{}
	_ engine.Probe = (*Recorder)(nil)
	_ engine.Probe = (*Logger)(nil)
	_ engine.Probe = (*Metrics)(nil)
	_ engine.Probe = (*Trace)(nil)
)

// Nop ignores every notification. Embed it to implement only some of them.
type Nop struct{}

func (Nop) PrepareObservation()                                          {}
func (Nop) ObserveAtInitialTime(clock.Time, engine.Observable)           {}
func (Nop) ObserveAtPartialConsistentTime(clock.Time, engine.Observable) {}
func (Nop) ObserveAtFinalTime(clock.Time, engine.Observable)             {}
func (Nop) ReactToAbortion(clock.Time, engine.Observable)                {}
func (Nop) ReactToError(string, error)                                   {}
func (Nop) EndObservation()                                              {}

// Snapshot describes the published global state of sim, one observation per
// level in level order. Transitory states are disambiguated to count agents.
func Snapshot(runID string, kind store.ObservationKind, t clock.Time, sim engine.Observable) []store.Observation {
	view := sim.View()
	if view == nil {
		return nil
	}

	obs := make([]store.Observation, 0, view.Len())
	for _, id := range view.Levels() {
		s, err := view.Get(id)
		if err != nil {
			continue
		}
		obs = append(obs, store.Observation{
			RunID:      runID,
			Kind:       kind,
			Time:       t,
			Level:      id,
			Consistent: s.IsConsistent(),
			Lower:      s.Lower(),
			Upper:      s.Upper(),
			Agents:     state.Resolve(s, nil).AgentCount(),
			Backlog:    s.Backlog().Len(),
		})
	}
	return obs
}
