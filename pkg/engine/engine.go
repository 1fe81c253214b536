// Package engine schedules a multi-level simulation.
//
// Each level reacts at the instants given by its time model. A run repeats
// three steps until the domain's termination predicate holds, an abort is
// requested, or no level can react anymore:
//
//  1. the levels whose transitory period ends earliest react, resolving their
//     backlog of influences into a new consistent state;
//  2. the global state is published and the probes observe it;
//  3. the agents and the environment of the levels whose period starts at
//     that instant perceive, revise their global state, and decide, emitting
//     influences into the transitory backlogs of their target levels.
//
// An Engine is driven by a single goroutine. Only RequestAbort may be called
// concurrently with Run.
package engine

import (
	"context"
	"slices"

	"github.com/iotaledger/hive.go/ds/orderedmap"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"
	"github.com/iotaledger/hive.go/runtime/options"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/environment"
	"github.com/daviddao/levelsim/pkg/frontier"
	"github.com/daviddao/levelsim/pkg/level"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

var _ Simulator = (*Engine)(nil)

// Engine is the sequential simulation engine.
type Engine struct {
	domain        Domain
	logger        *zap.Logger
	disambiguator state.Disambiguator
	probes        *orderedmap.OrderedMap[string, Probe]

	running *atomic.Bool
	abort   *atomic.Bool

	// Run state, rebuilt by every Run.
	status      Status
	levels      map[model.LevelID]*level.Level
	levelIDs    []model.LevelID
	agents      map[model.AgentID]*agent.Agent
	byLevel     map[model.LevelID]map[model.AgentID]*agent.Agent
	env         *environment.Environment
	view        *state.View
	now         clock.Time
	perceptions clock.Sequence
	rounds      int
	iterations  int
}

// New creates an engine simulating domain.
func New(domain Domain, opts ...options.Option[Engine]) *Engine {
	return options.Apply(&Engine{
		domain:        domain,
		logger:        zap.NewNop(),
		disambiguator: state.AnchorDisambiguator{},
		probes:        orderedmap.New[string, Probe](),
		running:       atomic.NewBool(false),
		abort:         atomic.NewBool(false),
	}, opts)
}

// WithLogger sets the logger of the engine.
func WithLogger(logger *zap.Logger) options.Option[Engine] {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDisambiguator sets how transitory states are turned into consistent
// ones when agents and the environment perceive them.
func WithDisambiguator(d state.Disambiguator) options.Option[Engine] {
	return func(e *Engine) {
		if d != nil {
			e.disambiguator = d
		}
	}
}

// WithProbe registers a probe under name, replacing any probe of that name.
// A nil probe is ignored.
func WithProbe(name string, p Probe) options.Option[Engine] {
	return func(e *Engine) {
		if p != nil {
			e.probes.Set(name, p)
		}
	}
}

// AddProbe registers a probe. Probes are notified in registration order.
func (e *Engine) AddProbe(name string, p Probe) error {
	if e.running.Load() {
		return ierrors.Wrapf(ErrAlreadyRunning, "cannot add probe %q", name)
	}
	if p == nil {
		return ierrors.Errorf("probe %q is nil", name)
	}
	if e.probes.Has(name) {
		return ierrors.Errorf("probe %q already registered", name)
	}
	e.probes.Set(name, p)

	return nil
}

// RemoveProbe unregisters a probe. It reports false if no probe has that
// name or the engine is running.
func (e *Engine) RemoveProbe(name string) bool {
	if e.running.Load() {
		return false
	}
	return e.probes.Delete(name)
}

// ProbeNames returns the names of the registered probes in registration order.
func (e *Engine) ProbeNames() []string {
	names := make([]string, 0, e.probes.Size())
	e.probes.ForEach(func(name string, _ Probe) bool {
		names = append(names, name)
		return true
	})

	return names
}

// RequestAbort asks the running simulation to stop at the end of its current
// round. Safe for concurrent use.
func (e *Engine) RequestAbort() {
	e.abort.Store(true)
}

// Status returns the lifecycle state of the engine.
func (e *Engine) Status() Status { return e.status }

// View returns the last published global state, or nil before the first run.
func (e *Engine) View() *state.View { return e.view }

// Levels returns the sorted identifiers of the levels.
func (e *Engine) Levels() []model.LevelID { return slices.Clone(e.levelIDs) }

// Level returns a level by identifier.
func (e *Engine) Level(id model.LevelID) (*level.Level, bool) {
	l, ok := e.levels[id]
	return l, ok
}

// Agents returns the agents of the simulation, sorted by identifier.
func (e *Engine) Agents() []*agent.Agent {
	return sortedAgents(e.agents)
}

// Agent returns an agent by identifier.
func (e *Engine) Agent(id model.AgentID) (*agent.Agent, bool) {
	a, ok := e.agents[id]
	return a, ok
}

// AgentsAt returns the agents occupying a level, sorted by identifier.
func (e *Engine) AgentsAt(id model.LevelID) []*agent.Agent {
	return sortedAgents(e.byLevel[id])
}

// Environment returns the environment of the simulation.
func (e *Engine) Environment() *environment.Environment { return e.env }

// Run executes the simulation until completion, abort or error. Cancelling
// ctx requests an abort. Probes are notified of every observable instant and
// of the way the run ended; EndObservation is always called.
func (e *Engine) Run(ctx context.Context) (result Result, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.reset()
	probes := e.probeList()
	for _, p := range probes {
		p.PrepareObservation()
	}
	defer func() {
		for _, p := range probes {
			p.EndObservation()
		}
	}()

	result, err = e.execute(ctx, probes)
	switch {
	case err != nil:
		e.status = StatusErrored
		e.logger.Error("simulation failed", zap.Error(err))
		for _, p := range probes {
			p.ReactToError(err.Error(), err)
		}
	case result.Outcome == OutcomeAborted:
		e.status = StatusAborted
		e.logger.Info("simulation aborted", zap.Stringer("time", result.Time), zap.Int("rounds", result.Rounds))
		for _, p := range probes {
			p.ReactToAbortion(result.Time, e)
		}
	default:
		e.status = StatusCompleted
		e.logger.Info("simulation completed", zap.Stringer("time", result.Time), zap.Int("rounds", result.Rounds))
	}

	return result, err
}

func (e *Engine) reset() {
	e.abort.Store(false)
	e.status = StatusRunning
	e.levels = make(map[model.LevelID]*level.Level)
	e.levelIDs = nil
	e.agents = make(map[model.AgentID]*agent.Agent)
	e.byLevel = make(map[model.LevelID]map[model.AgentID]*agent.Agent)
	e.env = nil
	e.view = nil
	e.now = 0
	e.perceptions.Reset()
	e.rounds = 0
	e.iterations = 0
}

func (e *Engine) probeList() []Probe {
	probes := make([]Probe, 0, e.probes.Size())
	e.probes.ForEach(func(_ string, p Probe) bool {
		probes = append(probes, p)
		return true
	})

	return probes
}

// execute runs the scheduling loop. Panics raised by hooks surface as
// ErrDomain.
func (e *Engine) execute(ctx context.Context, probes []Probe) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ierrors.Wrapf(ErrDomain, "panic: %v", r)
			result = e.result(OutcomeFailed, e.now)
		}
	}()

	if e.domain == nil {
		return e.result(OutcomeFailed, 0), configErrorf("no domain")
	}
	t0 := e.domain.InitialTime()
	e.now = t0
	if err := e.initialize(t0); err != nil {
		return e.result(OutcomeFailed, t0), err
	}
	e.publish(t0, e.levelIDs)
	for _, p := range probes {
		p.ObserveAtInitialTime(t0, e)
	}

	current := t0
	if e.domain.IsFinalTimeOrAfter(current, e) {
		return e.finish(current, probes)
	}
	if e.abortRequested(ctx) {
		return e.result(OutcomeAborted, current), nil
	}
	if err := e.behave(frontier.Opening(e.lowerBounds(), current)); err != nil {
		return e.result(OutcomeFailed, current), err
	}

	for {
		round, ok := frontier.Next(e.upperBounds())
		if !ok {
			e.logger.Debug("no level can react anymore", zap.Stringer("time", current))
			break
		}
		if round.Time <= current {
			return e.result(OutcomeFailed, current), configErrorf("round at %s does not follow %s", round.Time, current)
		}

		e.logger.Debug("round", zap.Stringer("time", round.Time), zap.Any("reacting", round.Reacting))
		if err := e.react(round.Reacting, round.Time); err != nil {
			return e.result(OutcomeFailed, current), err
		}
		current = round.Time
		e.now = current
		e.rounds++

		e.publish(current, round.Reacting)
		for _, p := range probes {
			p.ObserveAtPartialConsistentTime(current, e)
		}

		if e.domain.IsFinalTimeOrAfter(current, e) {
			break
		}
		if e.abortRequested(ctx) {
			return e.result(OutcomeAborted, current), nil
		}
		if err := e.behave(frontier.Opening(e.lowerBounds(), current)); err != nil {
			return e.result(OutcomeFailed, current), err
		}
	}

	return e.finish(current, probes)
}

// finish flushes every level at the final instant t and notifies the probes.
func (e *Engine) finish(t clock.Time, probes []Probe) (Result, error) {
	for _, id := range e.levelIDs {
		if err := e.levels[id].Close(t); err != nil {
			return e.result(OutcomeFailed, t), ierrors.Wrapf(err, "closing level %s", id)
		}
	}
	e.publish(t, e.levelIDs)
	for _, p := range probes {
		p.ObserveAtFinalTime(t, e)
	}

	return e.result(OutcomeCompleted, t), nil
}

func (e *Engine) result(outcome Outcome, t clock.Time) Result {
	return Result{
		Outcome:              outcome,
		Time:                 t,
		Rounds:               e.rounds,
		FixedPointIterations: e.iterations,
	}
}

func (e *Engine) abortRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		e.abort.Store(true)
	}
	return e.abort.Load()
}

// publish makes the global state at t observable: levels that just reacted
// expose their consistent state, the others their transitory state.
func (e *Engine) publish(t clock.Time, reacted []model.LevelID) {
	states := make(map[model.LevelID]state.Dynamic, len(e.levelIDs))
	for _, id := range e.levelIDs {
		states[id] = e.levels[id].Current(slices.Contains(reacted, id))
	}
	e.view = state.NewView(t, states)
}

func (e *Engine) upperBounds() []frontier.Pointstamp {
	return lo.Map(e.levelIDs, func(id model.LevelID) frontier.Pointstamp {
		return frontier.Pointstamp{Time: e.levels[id].Transitory().Upper(), Level: id}
	})
}

func (e *Engine) lowerBounds() []frontier.Pointstamp {
	return lo.Map(e.levelIDs, func(id model.LevelID) frontier.Pointstamp {
		return frontier.Pointstamp{Time: e.levels[id].Consistent().Time(), Level: id}
	})
}

func sortedAgents(agents map[model.AgentID]*agent.Agent) []*agent.Agent {
	ids := lo.Keys(agents)
	slices.Sort(ids)

	return lo.Map(ids, func(id model.AgentID) *agent.Agent { return agents[id] })
}
