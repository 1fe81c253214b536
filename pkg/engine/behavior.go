package engine

import (
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/level"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

type decision struct {
	self      *agent.Agent
	level     *level.Level
	period    model.Period
	perceived agent.Perceived
}

// behave runs the behavior phase of the levels ids, whose transitory periods
// start at the current instant: every agent perceives, then revises its
// global state once, then decides; the environment then produces its natural
// influences. Influences reach their target backlogs once the phase is over.
func (e *Engine) behave(ids []model.LevelID) error {
	if len(ids) == 0 {
		return nil
	}
	e.logger.Debug("behavior", zap.Stringer("time", e.now), zap.Any("opening", ids))

	views := make(map[model.LevelID]*state.FilteredView, len(ids))
	var (
		decisions  []decision
		perceivers []*agent.Agent
		perceived  = make(map[model.AgentID]map[model.LevelID]agent.Perceived)
	)

	for _, id := range ids {
		l := e.levels[id]
		view := state.NewFilteredView(e.view, l.Perceptible(), e.disambiguator)
		views[id] = view
		period := l.Period()

		for _, a := range e.AgentsAt(id) {
			data, err := a.Behavior().Perceive(period, a, view)
			if err != nil {
				return domainError(err, "perception of agent %s in level %s", a.ID(), id)
			}
			if data == nil {
				return configErrorf("agent %s perceived nil data in level %s", a.ID(), id)
			}

			p := agent.Perceived{
				ID:    e.perceptions.Next(),
				Level: id,
				Lower: period.Lower,
				Upper: period.Upper,
				Data:  data,
			}
			a.SetPerceived(p)
			if _, ok := perceived[a.ID()]; !ok {
				perceivers = append(perceivers, a)
				perceived[a.ID()] = make(map[model.LevelID]agent.Perceived)
			}
			perceived[a.ID()][id] = p
			decisions = append(decisions, decision{self: a, level: l, period: period, perceived: p})
		}
	}

	for _, a := range perceivers {
		upper := clock.Infinity
		for _, p := range perceived[a.ID()] {
			upper = clock.Min(upper, p.Upper)
		}
		global, err := a.Behavior().ReviseGlobalState(e.view.Time(), upper, perceived[a.ID()], a.Global())
		if err != nil {
			return domainError(err, "global state revision of agent %s", a.ID())
		}
		a.SetGlobal(global)
	}

	produced := influence.NewCollection()
	for _, d := range decisions {
		out := influence.NewCollection()
		if err := d.self.Behavior().Decide(d.period, d.self, d.perceived, out); err != nil {
			return domainError(err, "decision of agent %s in level %s", d.self.ID(), d.level.ID())
		}
		if err := e.checkInfluenceable(d.level, out); err != nil {
			return err
		}
		produced.Merge(out)
	}

	for _, id := range ids {
		l := e.levels[id]
		out := influence.NewCollection()
		if err := e.env.Model().Natural(l.Period(), e.env, views[id], out); err != nil {
			return domainError(err, "natural influences of level %s", id)
		}
		if err := e.checkInfluenceable(l, out); err != nil {
			return err
		}
		produced.Merge(out)
	}

	return e.route(produced)
}

// checkInfluenceable rejects influences emitted from a level towards a level
// it cannot influence.
func (e *Engine) checkInfluenceable(from *level.Level, out *influence.Collection) error {
	for _, target := range out.Levels() {
		if !from.CanInfluence(target) {
			return configErrorf("level %s cannot influence level %s: %s",
				from.ID(), target, model.Describe(out.ForLevel(target)[0]))
		}
	}

	return nil
}
