package engine

import (
	"slices"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/model"
)

// initialize builds the initial state of the simulation at t0 and checks its
// consistency.
func (e *Engine) initialize(t0 clock.Time) error {
	if err := e.initializeLevels(t0); err != nil {
		return err
	}

	env, envInfluences, err := e.domain.GenerateEnvironment(t0, e.levels)
	if err != nil {
		return domainError(err, "generating environment")
	}
	if env == nil {
		return configErrorf("no environment")
	}
	for _, id := range e.levelIDs {
		if !env.HasLevel(id) {
			return configErrorf("environment has no local state for level %s", id)
		}
		e.levels[id].Consistent().SetEnvironment(env.Public(id))
	}
	e.env = env

	agents, agentInfluences, err := e.domain.GenerateAgents(t0, e.levels)
	if err != nil {
		return domainError(err, "generating agents")
	}
	for _, a := range agents {
		if err := e.initializeAgent(a); err != nil {
			return err
		}
	}

	for _, initial := range []*influence.Collection{envInfluences, agentInfluences} {
		if initial == nil {
			continue
		}
		for _, i := range initial.Drain() {
			l, ok := e.levels[i.Target()]
			if !ok {
				return configErrorf("initial %s targets an unknown level", model.Describe(i))
			}
			l.Consistent().Backlog().Add(i)
		}
	}

	e.logger.Info("simulation initialized",
		zap.Stringer("time", t0),
		zap.Int("levels", len(e.levelIDs)),
		zap.Int("agents", len(e.agents)),
	)

	return nil
}

func (e *Engine) initializeLevels(t0 clock.Time) error {
	levels, err := e.domain.GenerateLevels(t0)
	if err != nil {
		return domainError(err, "generating levels")
	}
	if len(levels) == 0 {
		return configErrorf("no level")
	}

	for _, l := range levels {
		if l == nil {
			return configErrorf("nil level")
		}
		if _, ok := e.levels[l.ID()]; ok {
			return configErrorf("duplicate level %s", l.ID())
		}
		e.levels[l.ID()] = l
		e.levelIDs = append(e.levelIDs, l.ID())
		e.byLevel[l.ID()] = make(map[model.AgentID]*agent.Agent)
	}
	slices.Sort(e.levelIDs)

	for _, id := range e.levelIDs {
		l := e.levels[id]
		for _, other := range slices.Concat(l.Perceptible(), l.Influenceable()) {
			if _, ok := e.levels[other]; !ok {
				return configErrorf("level %s refers to unknown level %s", id, other)
			}
		}
		if err := l.Initialize(t0); err != nil {
			return ierrors.Wrapf(ErrConfiguration, "level %s: %s", id, err)
		}
	}

	return nil
}

func (e *Engine) initializeAgent(a *agent.Agent) error {
	if a == nil {
		return configErrorf("nil agent")
	}
	if _, ok := e.agents[a.ID()]; ok {
		return configErrorf("duplicate agent %s", a.ID())
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
		if err := e.insertAgent(a, id); err != nil {
			return err
		}
	}

	return nil
}
