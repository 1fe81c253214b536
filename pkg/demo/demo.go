// Package demo is a small two-rate simulation exercising the kernel.
//
// Walkers move along a ring in the "ground" level, which reacts every tick.
// A cloud in the "weather" level, which reacts every three ticks, turns the
// rain on and off; walkers perceive the weather and stay put while it rains.
// The environment adds a walker every SpawnEvery ticks, and walkers leave
// the simulation once their stamina is spent.
package demo

import (
	"fmt"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/daviddao/levelsim/pkg/agent"
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/environment"
	"github.com/daviddao/levelsim/pkg/influence"
	"github.com/daviddao/levelsim/pkg/level"
	"github.com/daviddao/levelsim/pkg/model"
	"github.com/daviddao/levelsim/pkg/state"
)

const (
	Ground  model.LevelID = "ground"
	Weather model.LevelID = "weather"

	CategoryWalker model.AgentCategory = "walker"
	CategoryCloud  model.AgentCategory = "cloud"

	CategoryMove     = "demo.move"
	CategoryForecast = "demo.forecast"

	CloudID model.AgentID = "cloud"
)

var _ engine.Domain = (*Model)(nil)

// Params parameterizes the simulation.
type Params struct {
	Until      clock.Time
	Walkers    int
	Stamina    int
	SpawnEvery clock.Time
	Width      int
}

// DefaultParams returns the parameters used by `lsim run` without a config.
func DefaultParams() Params {
	return Params{Until: 30, Walkers: 3, Stamina: 8, SpawnEvery: 5, Width: 16}
}

// Field is the public environment state of the ground level.
type Field struct {
	Width int
}

// Sky is the public environment state of the weather level.
type Sky struct {
	Raining bool
}

// Position is the public state of a walker in the ground level.
type Position struct {
	Cell int
}

// Stamina is the private state of a walker in the ground level.
type Stamina struct {
	Left int
}

// Journey is the global state of a walker.
type Journey struct {
	Phases int
}

// Perception is what a walker perceives.
type Perception struct {
	Cell    int
	Raining bool
}

// Move asks the ground level to move a walker.
type Move struct {
	Walker model.AgentID
	Steps  int
}

// Forecast asks the weather level to change the sky.
type Forecast struct {
	Raining bool
}

// Model is the demo domain.
type Model struct {
	params Params
	ids    clock.Sequence
}

// New returns the demo domain.
func New(p Params) *Model {
	return &Model{params: p}
}

// Params returns the parameters of the model.
func (m *Model) Params() Params { return m.params }

func (m *Model) InitialTime() clock.Time { return 0 }

func (m *Model) GenerateLevels(clock.Time) ([]*level.Level, error) {
	if m.params.Width <= 0 {
		return nil, ierrors.Errorf("width must be positive, got %d", m.params.Width)
	}

	ground := level.New(Ground,
		level.Compose(clock.Periodic{Step: 1}, level.Reactions{Regular: m.groundReaction}),
		level.WithPerceptible(Weather),
	)
	weather := level.New(Weather,
		level.Compose(clock.Periodic{Step: 3}, level.Reactions{Regular: weatherReaction}),
	)

	return []*level.Level{ground, weather}, nil
}

func (m *Model) GenerateEnvironment(clock.Time, map[model.LevelID]*level.Level) (*environment.Environment, *influence.Collection, error) {
	env := environment.New(environment.NaturalFunc(m.natural),
		environment.WithState(Ground, Field{Width: m.params.Width}, nil),
		environment.WithState(Weather, Sky{}, nil),
	)

	return env, nil, nil
}

func (m *Model) GenerateAgents(clock.Time, map[model.LevelID]*level.Level) ([]*agent.Agent, *influence.Collection, error) {
	m.ids.Reset()

	agents := []*agent.Agent{
		agent.New(CloudID, CategoryCloud, agent.Behaviors{PerceiveFunc: perceiveSky, DecideFunc: decideForecast}, nil,
			agent.WithState(Weather, nil, nil)),
	}
	for i := range m.params.Walkers {
		agents = append(agents, m.newWalker(i*m.params.Width/max(m.params.Walkers, 1)))
	}

	return agents, nil, nil
}

func (m *Model) IsFinalTimeOrAfter(t clock.Time, _ engine.Observable) bool {
	return t >= m.params.Until
}

func (m *Model) newWalker(cell int) *agent.Agent {
	id := model.AgentID(fmt.Sprintf("walker-%d", m.ids.Next()))

	return agent.New(id, CategoryWalker, walker{}, &Journey{},
		agent.WithState(Ground, &Position{Cell: cell}, &Stamina{Left: m.params.Stamina}),
	)
}

// natural spawns a walker in the ground level every SpawnEvery ticks.
func (m *Model) natural(p model.Period, _ *environment.Environment, _ *state.FilteredView, out *influence.Collection) error {
	if p.Level != Ground || m.params.SpawnEvery <= 0 || p.Lower == 0 || p.Lower%m.params.SpawnEvery != 0 {
		return nil
	}
	out.Add(agent.NewAdd(Ground, p.Lower, p.Upper, m.newWalker(0)))

	return nil
}

func (m *Model) groundReaction(_ model.Period, c *state.Consistent, regular []model.Influence, _ *influence.Collection) error {
	for _, i := range regular {
		r, ok := i.(*model.Regular)
		if !ok || i.Category() != CategoryMove {
			return ierrors.Errorf("ground cannot react to %s", model.Describe(i))
		}
		move := r.Payload.(Move)
		public, ok := c.Agent(move.Walker)
		if !ok {
			continue
		}
		pos := public.(*Position)
		pos.Cell = (pos.Cell + move.Steps) % m.params.Width
	}

	return nil
}

func weatherReaction(_ model.Period, c *state.Consistent, regular []model.Influence, _ *influence.Collection) error {
	for _, i := range regular {
		r, ok := i.(*model.Regular)
		if !ok || i.Category() != CategoryForecast {
			return ierrors.Errorf("weather cannot react to %s", model.Describe(i))
		}
		c.SetEnvironment(Sky{Raining: r.Payload.(Forecast).Raining})
	}

	return nil
}

func perceiveSky(_ model.Period, _ *agent.Agent, view *state.FilteredView) (any, error) {
	c, err := view.Consistent(Weather)
	if err != nil {
		return nil, err
	}
	return c.Environment().(Sky), nil
}

func decideForecast(p model.Period, _ *agent.Agent, perceived agent.Perceived, out *influence.Collection) error {
	sky := perceived.Data.(Sky)
	out.Add(model.NewRegular(CategoryForecast, Weather, p.Lower, p.Upper, Forecast{Raining: !sky.Raining}))

	return nil
}

// walker is the behavior of walkers.
type walker struct{}

func (walker) Perceive(_ model.Period, self *agent.Agent, view *state.FilteredView) (any, error) {
	sky, err := perceiveSky(model.Period{}, self, view)
	if err != nil {
		return nil, err
	}
	pos, ok := self.Public(Ground).(*Position)
	if !ok {
		return nil, ierrors.Errorf("walker %s has no position", self.ID())
	}

	return Perception{Cell: pos.Cell, Raining: sky.(Sky).Raining}, nil
}

func (walker) ReviseGlobalState(_, _ clock.Time, _ map[model.LevelID]agent.Perceived, global any) (any, error) {
	journey := global.(*Journey)
	journey.Phases++

	return journey, nil
}

// Decide leaves the simulation once stamina is spent, waits while it rains,
// and moves one cell otherwise.
func (walker) Decide(p model.Period, self *agent.Agent, perceived agent.Perceived, out *influence.Collection) error {
	stamina := self.Private(Ground).(*Stamina)
	if stamina.Left <= 0 {
		out.Add(agent.NewRemove(Ground, p.Lower, p.Upper, self.ID()))
		return nil
	}
	if perceived.Data.(Perception).Raining {
		return nil
	}
	stamina.Left--
	out.Add(model.NewRegular(CategoryMove, Ground, p.Lower, p.Upper, Move{Walker: self.ID(), Steps: 1}))

	return nil
}
