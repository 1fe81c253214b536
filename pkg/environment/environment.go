// Package environment implements the single environment of a simulation.
//
// The environment holds one local state per level and performs a natural
// action in every level that opens a new transitory period.
package environment

import (
	"slices"

	"github.com/iotaledger/hive.go/lo"
	"github.com/iotaledger/hive.go/runtime/options"

	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

// NaturalModel produces the influences the environment emits on its own.
type NaturalModel interface {
	Natural(p model.Period, env *Environment, view *state.FilteredView, out *influence.Collection) error
}

// NaturalFunc adapts a function to the NaturalModel interface.
type NaturalFunc func(p model.Period, env *Environment, view *state.FilteredView, out *influence.Collection) error

// Natural calls f.
func (f NaturalFunc) Natural(p model.Period, env *Environment, view *state.FilteredView, out *influence.Collection) error {
	return f(p, env, view, out)
}

// Passive is a NaturalModel that never emits anything.
type Passive struct{}

// Natural implements NaturalModel.
func (Passive) Natural(model.Period, *Environment, *state.FilteredView, *influence.Collection) error {
	return nil
}

type localState struct {
	public  any
	private any
}

// Environment is the environment of a simulation run.
type Environment struct {
	natural NaturalModel
	states  map[model.LevelID]localState
}

// New creates an environment. A nil model behaves like Passive.
func New(natural NaturalModel, opts ...options.Option[Environment]) *Environment {
	if natural == nil {
		natural = Passive{}
	}

	return options.Apply(&Environment{
		natural: natural,
		states:  make(map[model.LevelID]localState),
	}, opts)
}

// WithState declares the local state of the environment in a level.
func WithState(level model.LevelID, public, private any) options.Option[Environment] {
	return func(e *Environment) {
		e.states[level] = localState{public: public, private: private}
	}
}

// Model returns the natural model of the environment.
func (e *Environment) Model() NaturalModel { return e.natural }

// Levels returns the sorted levels the environment has a local state for.
func (e *Environment) Levels() []model.LevelID {
	ids := lo.Keys(e.states)
	slices.Sort(ids)

	return ids
}

// HasLevel reports whether the environment has a local state for a level.
func (e *Environment) HasLevel(level model.LevelID) bool {
	_, ok := e.states[level]
	return ok
}

// Public returns the public local state of the environment in a level.
func (e *Environment) Public(level model.LevelID) any { return e.states[level].public }

// Private returns the private local state of the environment in a level.
func (e *Environment) Private(level model.LevelID) any { return e.states[level].private }
