package engine

import (
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/level"
	"github.com/daviddao/levelsim/pkg/model"
)

// react runs the reaction protocol of the levels ids, whose transitory
// periods end at t.
func (e *Engine) react(ids []model.LevelID, t clock.Time) error {
	reacting := make([]*level.Level, 0, len(ids))
	periods := make(map[model.LevelID]model.Period, len(ids))
	for _, id := range ids {
		l := e.levels[id]
		// Influences pending since the last consistent state join the period.
		l.Consistent().Backlog().MoveTo(l.Transitory().Backlog())
		// Public states replaced during the period become visible now.
		for agentID, a := range e.byLevel[id] {
			l.Consistent().SetAgent(agentID, a.Public(id))
		}
		reacting = append(reacting, l)
		periods[id] = model.Period{Level: id, Lower: l.Consistent().Time(), Upper: t}
	}

	applied, err := e.resolveSystem(reacting)
	if err != nil {
		return err
	}
	if err := e.systemReactions(reacting, periods, applied, true); err != nil {
		return err
	}
	if err := e.regularReactions(reacting, periods); err != nil {
		return err
	}
	if applied, err = e.resolveSystem(reacting); err != nil {
		return err
	}
	if err := e.systemReactions(reacting, periods, applied, false); err != nil {
		return err
	}

	for _, l := range reacting {
		if err := l.Advance(t); err != nil {
			return configErrorf("level %s: %s", l.ID(), err)
		}
	}

	return nil
}

// systemReactions calls the system reaction hook of every reacting level.
// Produced influences are routed once every hook ran.
func (e *Engine) systemReactions(reacting []*level.Level, periods map[model.LevelID]model.Period, applied map[model.LevelID][]model.Influence, beforeRegular bool) error {
	produced := influence.NewCollection()
	for _, l := range reacting {
		out := influence.NewCollection()
		if err := l.Model().SystemReaction(periods[l.ID()], l.Consistent(), applied[l.ID()], beforeRegular, out); err != nil {
			return domainError(err, "system reaction of level %s", l.ID())
		}
		produced.Merge(out)
	}

	return e.route(produced)
}

// regularReactions drains the regular influences of every reacting level
// before calling any hook, so that influences produced during the step wait
// for the next period.
func (e *Engine) regularReactions(reacting []*level.Level, periods map[model.LevelID]model.Period) error {
	regular := make(map[model.LevelID][]model.Influence, len(reacting))
	for _, l := range reacting {
		regular[l.ID()] = l.Transitory().Backlog().DrainRegular()
	}

	produced := influence.NewCollection()
	for _, l := range reacting {
		out := influence.NewCollection()
		if err := l.Model().RegularReaction(periods[l.ID()], l.Consistent(), regular[l.ID()], out); err != nil {
			return domainError(err, "regular reaction of level %s", l.ID())
		}
		produced.Merge(out)
	}

	return e.route(produced)
}

// resolveSystem applies the system influences of the reacting levels until
// none is left, including the ones produced by the application itself. It
// returns the applied influences per level.
func (e *Engine) resolveSystem(reacting []*level.Level) (map[model.LevelID][]model.Influence, error) {
	applied := make(map[model.LevelID][]model.Influence)

	passes := 0
	for {
		var pending []model.Influence
		for _, l := range reacting {
			pending = append(pending, l.Transitory().Backlog().DrainSystem()...)
		}
		if len(pending) == 0 {
			break
		}
		passes++
		e.iterations++

		produced := influence.NewCollection()
		for _, i := range pending {
			if err := e.applySystem(i, produced); err != nil {
				return nil, err
			}
			applied[i.Target()] = append(applied[i.Target()], i)
		}
		if err := e.route(produced); err != nil {
			return nil, err
		}
	}

	if passes > 0 {
		e.logger.Debug("system influences resolved", zap.Int("passes", passes))
	}

	return applied, nil
}

// applySystem applies one system influence. Agent additions and removals
// expand into per-level influences added to produced.
func (e *Engine) applySystem(i model.Influence, produced *influence.Collection) error {
	switch s := i.(type) {
	case *agent.Add:
		a := s.Agent
		if a == nil {
			return protocolErrorf("%s carries no agent", model.Describe(i))
		}
		if _, ok := e.agents[a.ID()]; ok {
			return protocolErrorf("%s: agent %s already exists", model.Describe(i), a.ID())
		}
		declared := a.DeclaredLevels()
		if len(declared) == 0 {
			return configErrorf("agent %s declares no level", a.ID())
		}
		for _, id := range declared {
			if _, ok := e.levels[id]; !ok {
				return configErrorf("agent %s declares unknown level %s", a.ID(), id)
			}
		}
		a.SetRemoving(false)
		e.agents[a.ID()] = a
		for _, id := range declared {
			produced.Add(agent.NewAddToLevel(id, i.ValidFrom(), i.ValidUntil(), a))
		}

	case *agent.Remove:
		a, ok := e.agents[s.Agent]
		if !ok {
			e.logger.Debug("removal of unknown agent ignored", zap.String("agent", string(s.Agent)))
			return nil
		}
		a.SetRemoving(true)
		occupied := a.Levels()
		if len(occupied) == 0 {
			delete(e.agents, a.ID())
		}
		for _, id := range occupied {
			produced.Add(agent.NewRemoveFromLevel(id, i.ValidFrom(), i.ValidUntil(), a.ID()))
		}

	case *agent.AddToLevel:
		if s.Agent == nil {
			return protocolErrorf("%s carries no agent", model.Describe(i))
		}
		if existing, ok := e.agents[s.Agent.ID()]; ok && existing != s.Agent {
			return protocolErrorf("%s: another agent is registered as %s", model.Describe(i), s.Agent.ID())
		}
		// A removed agent stays removed, even if it was still joining
		// slower levels.
		if s.Agent.IsRemoving() {
			e.logger.Debug("level state of removed agent dropped", zap.String("agent", string(s.Agent.ID())), zap.String("level", string(s.Target())))
			return nil
		}
		e.agents[s.Agent.ID()] = s.Agent
		return e.insertAgent(s.Agent, s.Target())

	case *agent.RemoveFromLevel:
		e.removeAgent(s.Agent, s.Target())

	default:
		return protocolErrorf("unsupported %s", model.Describe(i))
	}

	return nil
}

// insertAgent adds the public local state of a to the consistent state of a
// level and records the membership on both sides.
func (e *Engine) insertAgent(a *agent.Agent, id model.LevelID) error {
	l, ok := e.levels[id]
	if !ok {
		return configErrorf("agent %s added to unknown level %s", a.ID(), id)
	}
	local, ok := a.State(id)
	if !ok {
		return configErrorf("agent %s has no local state for level %s", a.ID(), id)
	}

	l.Consistent().AddAgent(a.ID(), local.Public)
	e.byLevel[id][a.ID()] = a
	a.Join(id)

	return nil
}

// removeAgent removes an agent from a level. An agent flagged for removal
// leaves the simulation with its last level.
func (e *Engine) removeAgent(agentID model.AgentID, id model.LevelID) {
	a, ok := e.agents[agentID]
	if !ok {
		return
	}
	if l, ok := e.levels[id]; ok {
		l.Consistent().RemoveAgent(agentID)
		delete(e.byLevel[id], agentID)
	}
	a.Leave(id)

	if a.IsRemoving() && len(a.Levels()) == 0 {
		delete(e.agents, agentID)
		e.logger.Debug("agent removed", zap.String("agent", string(agentID)))
	}
}

// route adds influences to the transitory backlogs of their target levels.
func (e *Engine) route(out *influence.Collection) error {
	for _, i := range out.Drain() {
		l, ok := e.levels[i.Target()]
		if !ok {
			return configErrorf("%s targets an unknown level", model.Describe(i))
		}
		l.Transitory().Backlog().Add(i)
	}

	return nil
}
