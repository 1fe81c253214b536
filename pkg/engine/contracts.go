package engine

import (
	"context"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/environment"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/level"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

// Domain generates the participants of a simulation and decides when it ends.
type Domain interface {
	// InitialTime is the instant every level starts at.
	InitialTime() clock.Time

	// GenerateLevels returns the levels of the simulation: at least one,
	// with pairwise distinct identifiers.
	GenerateLevels(t clock.Time) ([]*level.Level, error)

	// GenerateEnvironment returns the environment, which must have a local
	// state for every level, and the influences it starts with.
	GenerateEnvironment(t clock.Time, levels map[model.LevelID]*level.Level) (*environment.Environment, *influence.Collection, error)

	// GenerateAgents returns the initial agents, each added to every level
	// it declares a local state for, and the influences they start with.
	GenerateAgents(t clock.Time, levels map[model.LevelID]*level.Level) ([]*agent.Agent, *influence.Collection, error)

	// IsFinalTimeOrAfter reports whether the run ends at t.
	IsFinalTimeOrAfter(t clock.Time, sim Observable) bool
}

// Observable is the read-only view of a simulation handed to probes and to
// the termination predicate. Callers must not mutate what it returns.
type Observable interface {
	Status() Status
	// View returns the global state published at the last observable instant.
	View() *state.View
	Levels() []model.LevelID
	Level(id model.LevelID) (*level.Level, bool)
	Agents() []*agent.Agent
	Agent(id model.AgentID) (*agent.Agent, bool)
	AgentsAt(id model.LevelID) []*agent.Agent
	Environment() *environment.Environment
}

// Probe observes a simulation run. Probes are sinks: they must not mutate
// the simulation. EndObservation is always called exactly once per run,
// whatever its outcome.
type Probe interface {
	PrepareObservation()
	ObserveAtInitialTime(t clock.Time, sim Observable)
	ObserveAtPartialConsistentTime(t clock.Time, sim Observable)
	ObserveAtFinalTime(t clock.Time, sim Observable)
	ReactToAbortion(t clock.Time, sim Observable)
	ReactToError(message string, cause error)
	EndObservation()
}

// Simulator is the scheduling contract of a simulation engine. Engine is the
// sequential implementation.
type Simulator interface {
	Observable
	Run(ctx context.Context) (Result, error)
	RequestAbort()
	AddProbe(name string, p Probe) error
	RemoveProbe(name string) bool
}

// Status is the lifecycle state of an engine.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusAborted
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome tells how a run ended.
type Outcome string

const (
	// OutcomeCompleted means the termination predicate held, or no level
	// could react anymore.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAborted means an abort was requested.
	OutcomeAborted Outcome = "aborted"
	// OutcomeFailed accompanies the error of a failed run.
	OutcomeFailed Outcome = "failed"
)

// Result summarizes a run.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// Time is the final instant of a completed run, or the last consistent
	// instant reached by an aborted one.
	Time clock.Time `json:"time"`
	// Rounds counts the reaction rounds executed.
	Rounds int `json:"rounds"`
	// FixedPointIterations counts the passes of the system influence resolver.
	FixedPointIterations int `json:"fixed_point_iterations"`
}
