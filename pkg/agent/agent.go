// Package agent implements the runtime side of simulation agents.
//
// An Agent carries one local state per level it declares (a public part
// visible to the level and a private part only the agent sees), a global
// state shared across levels, and the data it last perceived in each level.
// Its behaviour is split into three capabilities the engine drives in order
// every round: perception, global state revision, then decision.
package agent

import (
	"maps"
	"slices"

	"github.com/iotaledger/hive.go/ds"
	"github.com/iotaledger/hive.go/lo"
	"github.com/iotaledger/hive.go/runtime/options"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

// NoData is the perceived data of an agent that perceived nothing. Perceive
// must return it rather than nil.
type NoData struct{}

// Perceived is what an agent perceived in one level during one round.
type Perceived struct {
	ID    uint64        `json:"id"`
	Level model.LevelID `json:"level"`
	Lower clock.Time    `json:"lower"`
	Upper clock.Time    `json:"upper"`
	Data  any           `json:"data"`
}

// LocalState is the state of an agent within one level.
type LocalState struct {
	Public  any
	Private any
}

// PerceptionModel builds what an agent perceives of the levels visible from p.Level.
type PerceptionModel interface {
	Perceive(p model.Period, self *Agent, view *state.FilteredView) (any, error)
}

// GlobalStateModel revises the global state of an agent from everything it
// perceived this round, and returns the revised state.
type GlobalStateModel interface {
	ReviseGlobalState(lower, upper clock.Time, perceived map[model.LevelID]Perceived, global any) (any, error)
}

// DecisionModel turns perceived data into influences written to out.
type DecisionModel interface {
	Decide(p model.Period, self *Agent, perceived Perceived, out *influence.Collection) error
}

// Behavior is the complete domain behaviour of an agent.
type Behavior interface {
	PerceptionModel
	GlobalStateModel
	DecisionModel
}

// Compose builds a Behavior from separate capabilities.
func Compose(p PerceptionModel, g GlobalStateModel, d DecisionModel) Behavior {
	return composed{PerceptionModel: p, GlobalStateModel: g, DecisionModel: d}
}

type composed struct {
	PerceptionModel
	GlobalStateModel
	DecisionModel
}

// Behaviors implements Behavior with optional functions. A nil PerceiveFunc
// perceives NoData, a nil ReviseFunc keeps the global state, a nil
// DecideFunc emits nothing.
type Behaviors struct {
	PerceiveFunc func(p model.Period, self *Agent, view *state.FilteredView) (any, error)
	ReviseFunc   func(lower, upper clock.Time, perceived map[model.LevelID]Perceived, global any) (any, error)
	DecideFunc   func(p model.Period, self *Agent, perceived Perceived, out *influence.Collection) error
}

// Perceive implements PerceptionModel.
func (b Behaviors) Perceive(p model.Period, self *Agent, view *state.FilteredView) (any, error) {
	if b.PerceiveFunc == nil {
		return NoData{}, nil
	}
	return b.PerceiveFunc(p, self, view)
}

// ReviseGlobalState implements GlobalStateModel.
func (b Behaviors) ReviseGlobalState(lower, upper clock.Time, perceived map[model.LevelID]Perceived, global any) (any, error) {
	if b.ReviseFunc == nil {
		return global, nil
	}
	return b.ReviseFunc(lower, upper, perceived, global)
}

// Decide implements DecisionModel.
func (b Behaviors) Decide(p model.Period, self *Agent, perceived Perceived, out *influence.Collection) error {
	if b.DecideFunc == nil {
		return nil
	}
	return b.DecideFunc(p, self, perceived, out)
}

// Agent is a participant of the simulation.
type Agent struct {
	id         model.AgentID
	category   model.AgentCategory
	behavior   Behavior
	global     any
	states     map[model.LevelID]LocalState
	membership ds.Set[model.LevelID]
	perceived  map[model.LevelID]Perceived
	removing   bool
}

// New creates an agent. Its local states are declared with WithState; it
// occupies no level until the engine adds it.
func New(id model.AgentID, category model.AgentCategory, behavior Behavior, global any, opts ...options.Option[Agent]) *Agent {
	return options.Apply(&Agent{
		id:         id,
		category:   category,
		behavior:   behavior,
		global:     global,
		states:     make(map[model.LevelID]LocalState),
		membership: ds.NewSet[model.LevelID](),
		perceived:  make(map[model.LevelID]Perceived),
	}, opts)
}

// WithState declares the local state of the agent in a level.
func WithState(level model.LevelID, public, private any) options.Option[Agent] {
	return func(a *Agent) {
		a.states[level] = LocalState{Public: public, Private: private}
	}
}

// ID returns the identifier of the agent.
func (a *Agent) ID() model.AgentID { return a.id }

// Category returns the category of the agent.
func (a *Agent) Category() model.AgentCategory { return a.category }

// Behavior returns the domain behaviour of the agent.
func (a *Agent) Behavior() Behavior { return a.behavior }

// Global returns the global state of the agent.
func (a *Agent) Global() any { return a.global }

// SetGlobal replaces the global state of the agent.
func (a *Agent) SetGlobal(global any) { a.global = global }

// DeclaredLevels returns the sorted levels the agent has a local state for.
func (a *Agent) DeclaredLevels() []model.LevelID {
	ids := lo.Keys(a.states)
	slices.Sort(ids)

	return ids
}

// State returns the local state of the agent in a level.
func (a *Agent) State(level model.LevelID) (LocalState, bool) {
	s, ok := a.states[level]
	return s, ok
}

// Public returns the public local state of the agent in a level, or nil.
func (a *Agent) Public(level model.LevelID) any { return a.states[level].Public }

// Private returns the private local state of the agent in a level, or nil.
func (a *Agent) Private(level model.LevelID) any { return a.states[level].Private }

// SetState declares or replaces the local state of the agent in a level. In
// an occupied level, the level sees a replaced public state from its next
// reaction on.
func (a *Agent) SetState(level model.LevelID, public, private any) {
	a.states[level] = LocalState{Public: public, Private: private}
}

// Levels returns the sorted levels the agent currently occupies.
func (a *Agent) Levels() []model.LevelID {
	ids := a.membership.ToSlice()
	slices.Sort(ids)

	return ids
}

// Occupies reports whether the agent currently occupies a level.
func (a *Agent) Occupies(level model.LevelID) bool { return a.membership.Has(level) }

// Join records that the agent occupies a level. Only the engine calls it,
// keeping the membership in sync with the per-level agent index.
func (a *Agent) Join(level model.LevelID) bool { return a.membership.Add(level) }

// Leave records that the agent left a level. Only the engine calls it.
func (a *Agent) Leave(level model.LevelID) bool {
	delete(a.perceived, level)
	return a.membership.Delete(level)
}

// Perceived returns what the agent last perceived in a level.
func (a *Agent) Perceived(level model.LevelID) (Perceived, bool) {
	p, ok := a.perceived[level]
	return p, ok
}

// AllPerceived returns a copy of the last perceived data of every level.
func (a *Agent) AllPerceived() map[model.LevelID]Perceived { return maps.Clone(a.perceived) }

// SetPerceived stores the data perceived in p.Level.
func (a *Agent) SetPerceived(p Perceived) { a.perceived[p.Level] = p }

// SetRemoving flags, or unflags, the agent for removal once it left every
// level.
func (a *Agent) SetRemoving(removing bool) { a.removing = removing }

// IsRemoving reports whether the agent is waiting to leave its last level.
func (a *Agent) IsRemoving() bool { return a.removing }
