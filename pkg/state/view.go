package state

import (
	"maps"
	"slices"

	"github.com/iotaledger/hive.go/ds"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/model"
)

var (
	// ErrUnknownLevel is returned when a view has no state for a level.
	ErrUnknownLevel = ierrors.New("unknown level")
	// ErrLevelNotPerceptible is returned when a filtered view excludes a level.
	ErrLevelNotPerceptible = ierrors.New("level not perceptible")
)

// View is the global state published by the engine at one instant: for each
// level, the state that is currently observable. Views are immutable; the
// engine publishes a new one after every reaction.
type View struct {
	time   clock.Time
	states map[model.LevelID]Dynamic
}

// NewView creates a view of the given states at time t.
func NewView(t clock.Time, states map[model.LevelID]Dynamic) *View {
	return &View{time: t, states: maps.Clone(states)}
}

// Time is the instant the view was published at.
func (v *View) Time() clock.Time { return v.time }

// Levels returns the sorted identifiers of the levels in the view.
func (v *View) Levels() []model.LevelID {
	ids := lo.Keys(v.states)
	slices.Sort(ids)

	return ids
}

// Len returns the number of levels in the view.
func (v *View) Len() int { return len(v.states) }

// Get returns the observable state of a level.
func (v *View) Get(id model.LevelID) (Dynamic, error) {
	s, ok := v.states[id]
	if !ok {
		return nil, ierrors.Wrapf(ErrUnknownLevel, "level %s", id)
	}

	return s, nil
}

// Consistent returns the state of a level as a consistent snapshot.
func (v *View) Consistent(id model.LevelID, by Disambiguator) (*Consistent, error) {
	s, err := v.Get(id)
	if err != nil {
		return nil, err
	}

	return Resolve(s, by), nil
}

// FilteredView is the projection of a View on the levels a perceiving level
// is allowed to see. Reading any other level is a lookup error.
type FilteredView struct {
	view          *View
	perceptible   ds.Set[model.LevelID]
	disambiguator Disambiguator
}

// NewFilteredView restricts v to the perceptible levels.
func NewFilteredView(v *View, perceptible []model.LevelID, by Disambiguator) *FilteredView {
	allowed := ds.NewSet[model.LevelID]()
	for _, id := range perceptible {
		allowed.Add(id)
	}
	if by == nil {
		by = AnchorDisambiguator{}
	}

	return &FilteredView{view: v, perceptible: allowed, disambiguator: by}
}

// Time is the instant the underlying view was published at.
func (f *FilteredView) Time() clock.Time { return f.view.Time() }

// Levels returns the sorted perceptible levels present in the view.
func (f *FilteredView) Levels() []model.LevelID {
	return slices.DeleteFunc(f.view.Levels(), func(id model.LevelID) bool { return !f.perceptible.Has(id) })
}

// CanPerceive reports whether the view exposes a level.
func (f *FilteredView) CanPerceive(id model.LevelID) bool { return f.perceptible.Has(id) }

// Get returns the observable state of a perceptible level.
func (f *FilteredView) Get(id model.LevelID) (Dynamic, error) {
	if !f.perceptible.Has(id) {
		return nil, ierrors.Wrapf(ErrLevelNotPerceptible, "level %s", id)
	}

	return f.view.Get(id)
}

// Consistent returns the state of a perceptible level as a consistent
// snapshot, disambiguating transitory states.
func (f *FilteredView) Consistent(id model.LevelID) (*Consistent, error) {
	s, err := f.Get(id)
	if err != nil {
		return nil, err
	}

	return Resolve(s, f.disambiguator), nil
}
