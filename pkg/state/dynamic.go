// Package state models the public dynamic state of levels.
//
// Each level owns two states. The Consistent state is the stable snapshot
// reached by its last reaction. The Transitory state is the open period
// anchored on that snapshot, collecting influences until the next reaction.
// Consumers that need a single coherent snapshot of a transitory level go
// through a Disambiguator.
package state

import (
	"slices"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/model"
)

// ErrInvalidBounds is returned when a transitory period would not move forward.
var ErrInvalidBounds = ierrors.New("transitory upper bound must be after its anchor")

// Dynamic is the observable state of one level at one instant: either its
// Consistent or its Transitory state.
type Dynamic interface {
	// Level identifies the level the state belongs to.
	Level() model.LevelID
	// Lower is the time of the last reaction of the level.
	Lower() clock.Time
	// Upper is the time of the next reaction, or Lower for consistent states.
	Upper() clock.Time
	// IsConsistent distinguishes Consistent from Transitory states.
	IsConsistent() bool
	// Backlog holds the influences not consumed yet.
	Backlog() *influence.Backlog
}

// Consistent is the stable snapshot of a level at the instant of its most
// recent reaction.
type Consistent struct {
	level       model.LevelID
	time        clock.Time
	environment any
	agents      map[model.AgentID]any
	backlog     *influence.Backlog
}

// NewConsistent creates an empty consistent state.
func NewConsistent(level model.LevelID, t clock.Time) *Consistent {
	return &Consistent{
		level:   level,
		time:    t,
		agents:  make(map[model.AgentID]any),
		backlog: influence.NewBacklog(),
	}
}

// Level implements Dynamic.
func (c *Consistent) Level() model.LevelID { return c.level }

// Time is the instant of the reaction that produced this state.
func (c *Consistent) Time() clock.Time { return c.time }

// Lower implements Dynamic.
func (c *Consistent) Lower() clock.Time { return c.time }

// Upper implements Dynamic.
func (c *Consistent) Upper() clock.Time { return c.time }

// IsConsistent implements Dynamic.
func (c *Consistent) IsConsistent() bool { return true }

// Backlog implements Dynamic.
func (c *Consistent) Backlog() *influence.Backlog { return c.backlog }

// SetTime moves the snapshot to a new reaction instant.
func (c *Consistent) SetTime(t clock.Time) { c.time = t }

// Environment returns the public local state of the environment in this level.
func (c *Consistent) Environment() any { return c.environment }

// SetEnvironment replaces the public local state of the environment.
func (c *Consistent) SetEnvironment(public any) { c.environment = public }

// Agent returns the public local state of an agent in this level.
func (c *Consistent) Agent(id model.AgentID) (any, bool) {
	s, ok := c.agents[id]
	return s, ok
}

// HasAgent reports whether the agent occupies this level.
func (c *Consistent) HasAgent(id model.AgentID) bool {
	_, ok := c.agents[id]
	return ok
}

// AgentIDs returns the sorted identifiers of the agents occupying this level.
func (c *Consistent) AgentIDs() []model.AgentID {
	ids := lo.Keys(c.agents)
	slices.Sort(ids)

	return ids
}

// AgentCount returns the number of agents occupying this level.
func (c *Consistent) AgentCount() int { return len(c.agents) }

// SetAgent replaces the public local state of an agent already present. It
// returns false, leaving the state untouched, if the agent is absent.
func (c *Consistent) SetAgent(id model.AgentID, public any) bool {
	if _, ok := c.agents[id]; !ok {
		return false
	}
	c.agents[id] = public
	return true
}

// AddAgent inserts the public local state of an agent. It returns false if
// the agent was already present, in which case the state is left untouched.
func (c *Consistent) AddAgent(id model.AgentID, public any) bool {
	if _, ok := c.agents[id]; ok {
		return false
	}
	c.agents[id] = public

	return true
}

// RemoveAgent deletes the public local state of an agent.
func (c *Consistent) RemoveAgent(id model.AgentID) bool {
	if _, ok := c.agents[id]; !ok {
		return false
	}
	delete(c.agents, id)

	return true
}

// Transitory is the open period of a level between its last reaction
// (the anchor) and its next one (the upper bound).
type Transitory struct {
	anchor  *Consistent
	upper   clock.Time
	backlog *influence.Backlog
}

// NewTransitory opens a period on anchor ending at upper.
func NewTransitory(anchor *Consistent, upper clock.Time) (*Transitory, error) {
	t := &Transitory{anchor: anchor, backlog: influence.NewBacklog()}
	if err := t.SetUpper(upper); err != nil {
		return nil, err
	}

	return t, nil
}

// Anchor returns the consistent state the period started from.
func (t *Transitory) Anchor() *Consistent { return t.anchor }

// Level implements Dynamic.
func (t *Transitory) Level() model.LevelID { return t.anchor.Level() }

// Lower implements Dynamic.
func (t *Transitory) Lower() clock.Time { return t.anchor.Time() }

// Upper implements Dynamic.
func (t *Transitory) Upper() clock.Time { return t.upper }

// IsConsistent implements Dynamic.
func (t *Transitory) IsConsistent() bool { return false }

// Backlog implements Dynamic.
func (t *Transitory) Backlog() *influence.Backlog { return t.backlog }

// Period describes the interval covered by the transitory state.
func (t *Transitory) Period() model.Period {
	return model.Period{Level: t.Level(), Lower: t.Lower(), Upper: t.upper}
}

// SetUpper moves the end of the period. The new bound must be strictly after
// the anchor time.
func (t *Transitory) SetUpper(upper clock.Time) error {
	if upper <= t.anchor.Time() {
		return ierrors.Wrapf(ErrInvalidBounds, "level %s: anchor=%s upper=%s", t.anchor.Level(), t.anchor.Time(), upper)
	}
	t.upper = upper

	return nil
}

// Disambiguator presents a transitory state as a consistent one.
type Disambiguator interface {
	Disambiguate(t *Transitory) *Consistent
}

// DisambiguatorFunc adapts a function to the Disambiguator interface.
type DisambiguatorFunc func(t *Transitory) *Consistent

// Disambiguate calls f(t).
func (f DisambiguatorFunc) Disambiguate(t *Transitory) *Consistent { return f(t) }

// AnchorDisambiguator ignores the in-flight backlog and returns the anchor,
// so that callers never see partially applied influences.
type AnchorDisambiguator struct{}

// Disambiguate returns t.Anchor().
func (AnchorDisambiguator) Disambiguate(t *Transitory) *Consistent { return t.Anchor() }

// Resolve returns d itself when it is consistent, or its disambiguation.
func Resolve(d Dynamic, by Disambiguator) *Consistent {
	switch s := d.(type) {
	case *Consistent:
		return s
	case *Transitory:
		if by == nil {
			by = AnchorDisambiguator{}
		}
		return by.Disambiguate(s)
	default:
		return nil
	}
}
