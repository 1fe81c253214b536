// Package level implements the runtime side of a simulation level.
//
// A Level owns its Consistent/Transitory state pair and a fixed visibility
// graph towards other levels. Its behaviour comes from a domain Model, which
// combines a time model (when does the level react next) and a reaction
// model (how does it turn influences into its next consistent state).
package level

import (
	"slices"

	"github.com/iotaledger/hive.go/ds"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/runtime/options"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

// ErrNotInitialized is returned when a level is advanced before Initialize.
var ErrNotInitialized = ierrors.New("level not initialized")

// ReactionModel holds the domain rules of a level.
type ReactionModel interface {
	// SystemReaction lets the domain react to the system influences the
	// kernel just applied to consistent. It runs twice per reaction: before
	// the regular reaction (beforeRegular == true) and after it.
	SystemReaction(p model.Period, consistent *state.Consistent, applied []model.Influence, beforeRegular bool, out *influence.Collection) error

	// RegularReaction consumes the regular influences pending on the level
	// and updates consistent accordingly. Influences that should persist, as
	// well as newly created ones, are written to out.
	RegularReaction(p model.Period, consistent *state.Consistent, regular []model.Influence, out *influence.Collection) error
}

// Model is the complete domain behaviour of a level.
type Model interface {
	clock.TimeModel
	ReactionModel
}

// Compose builds a Model from separate time and reaction models.
func Compose(t clock.TimeModel, r ReactionModel) Model {
	return composed{TimeModel: t, ReactionModel: r}
}

type composed struct {
	clock.TimeModel
	ReactionModel
}

// Reactions implements ReactionModel with optional functions. A nil System
// ignores system influences; a nil Regular consumes every regular influence
// without effect.
type Reactions struct {
	System  func(p model.Period, consistent *state.Consistent, applied []model.Influence, beforeRegular bool, out *influence.Collection) error
	Regular func(p model.Period, consistent *state.Consistent, regular []model.Influence, out *influence.Collection) error
}

// SystemReaction implements ReactionModel.
func (r Reactions) SystemReaction(p model.Period, consistent *state.Consistent, applied []model.Influence, beforeRegular bool, out *influence.Collection) error {
	if r.System == nil {
		return nil
	}
	return r.System(p, consistent, applied, beforeRegular, out)
}

// RegularReaction implements ReactionModel.
func (r Reactions) RegularReaction(p model.Period, consistent *state.Consistent, regular []model.Influence, out *influence.Collection) error {
	if r.Regular == nil {
		return nil
	}
	return r.Regular(p, consistent, regular, out)
}

// Level is a level of the simulation.
type Level struct {
	id            model.LevelID
	model         Model
	perceptible   ds.Set[model.LevelID]
	influenceable ds.Set[model.LevelID]
	consistent    *state.Consistent
	transitory    *state.Transitory
}

// New creates a level. A level always perceives and influences itself.
func New(id model.LevelID, m Model, opts ...options.Option[Level]) *Level {
	return options.Apply(&Level{
		id:            id,
		model:         m,
		perceptible:   ds.NewSet[model.LevelID](),
		influenceable: ds.NewSet[model.LevelID](),
	}, opts, func(l *Level) {
		l.perceptible.Add(id)
		l.influenceable.Add(id)
	})
}

// WithPerceptible declares levels whose state this level's agents perceive.
func WithPerceptible(ids ...model.LevelID) options.Option[Level] {
	return func(l *Level) {
		for _, id := range ids {
			l.perceptible.Add(id)
		}
	}
}

// WithInfluenceable declares levels this level's agents may send influences to.
func WithInfluenceable(ids ...model.LevelID) options.Option[Level] {
	return func(l *Level) {
		for _, id := range ids {
			l.influenceable.Add(id)
		}
	}
}

// ID returns the identifier of the level.
func (l *Level) ID() model.LevelID { return l.id }

// Model returns the domain model of the level.
func (l *Level) Model() Model { return l.model }

// Perceptible returns the sorted identifiers of the perceptible levels.
func (l *Level) Perceptible() []model.LevelID { return sorted(l.perceptible) }

// Influenceable returns the sorted identifiers of the influenceable levels.
func (l *Level) Influenceable() []model.LevelID { return sorted(l.influenceable) }

// CanPerceive reports whether the level perceives id.
func (l *Level) CanPerceive(id model.LevelID) bool { return l.perceptible.Has(id) }

// CanInfluence reports whether the level may send influences to id.
func (l *Level) CanInfluence(id model.LevelID) bool { return l.influenceable.Has(id) }

// Consistent returns the consistent state, or nil before Initialize.
func (l *Level) Consistent() *state.Consistent { return l.consistent }

// Transitory returns the transitory state, or nil before Initialize.
func (l *Level) Transitory() *state.Transitory { return l.transitory }

// Period returns the current transitory period of the level.
func (l *Level) Period() model.Period {
	if l.transitory == nil {
		return model.Period{Level: l.id}
	}
	return l.transitory.Period()
}

// Current returns the observable state of the level: the consistent state if
// the level just reacted, its transitory state otherwise.
func (l *Level) Current(reacted bool) state.Dynamic {
	if reacted {
		return l.consistent
	}
	return l.transitory
}

// Initialize resets the level to an empty consistent state at t0 and opens
// its first transitory period.
func (l *Level) Initialize(t0 clock.Time) error {
	l.consistent = state.NewConsistent(l.id, t0)

	transitory, err := state.NewTransitory(l.consistent, l.model.NextTime(t0))
	if err != nil {
		return ierrors.Wrap(err, "time model did not move forward")
	}
	l.transitory = transitory

	return nil
}

// Advance records a reaction at t and opens the next transitory period. The
// pending influences of the transitory backlog seed the new period.
func (l *Level) Advance(t clock.Time) error {
	if l.transitory == nil {
		return ierrors.Wrapf(ErrNotInitialized, "level %s", l.id)
	}
	l.consistent.SetTime(t)
	if err := l.transitory.SetUpper(l.model.NextTime(t)); err != nil {
		return ierrors.Wrap(err, "time model did not move forward")
	}

	return nil
}

// Close ends the simulation for the level at the final instant t: pending
// influences move to the consistent backlog and the transitory period never
// ends.
func (l *Level) Close(t clock.Time) error {
	if l.transitory == nil {
		return ierrors.Wrapf(ErrNotInitialized, "level %s", l.id)
	}
	l.transitory.Backlog().MoveTo(l.consistent.Backlog())
	if t > l.consistent.Time() {
		l.consistent.SetTime(t)
	}

	return l.transitory.SetUpper(clock.Infinity)
}

func sorted(set ds.Set[model.LevelID]) []model.LevelID {
	ids := set.ToSlice()
	slices.Sort(ids)

	return ids
}
