package agent

import (
	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/model"
)

// Categories of the system influences the kernel applies itself.
const (
	CategoryAdd             = "system.add_agent"
	CategoryRemove          = "system.remove_agent"
	CategoryAddToLevel      = "system.add_agent_state_to_level"
	CategoryRemoveFromLevel = "system.remove_agent_state_from_level"
)

// Add introduces a new agent into every level it declares a local state for.
type Add struct {
	model.Base
	Agent *Agent
}

// NewAdd creates an Add influence addressed to target.
func NewAdd(target model.LevelID, from, until clock.Time, a *Agent) *Add {
	return &Add{Base: model.NewSystemBase(CategoryAdd, target, from, until), Agent: a}
}

// Remove withdraws an agent from every level it occupies.
type Remove struct {
	model.Base
	Agent model.AgentID
}

// NewRemove creates a Remove influence addressed to target.
func NewRemove(target model.LevelID, from, until clock.Time, id model.AgentID) *Remove {
	return &Remove{Base: model.NewSystemBase(CategoryRemove, target, from, until), Agent: id}
}

// AddToLevel inserts the local state of an agent into its target level.
type AddToLevel struct {
	model.Base
	Agent *Agent
}

// NewAddToLevel creates an AddToLevel influence for level.
func NewAddToLevel(level model.LevelID, from, until clock.Time, a *Agent) *AddToLevel {
	return &AddToLevel{Base: model.NewSystemBase(CategoryAddToLevel, level, from, until), Agent: a}
}

// RemoveFromLevel removes the local state of an agent from its target level.
type RemoveFromLevel struct {
	model.Base
	Agent model.AgentID
}

// NewRemoveFromLevel creates a RemoveFromLevel influence for level.
func NewRemoveFromLevel(level model.LevelID, from, until clock.Time, id model.AgentID) *RemoveFromLevel {
	return &RemoveFromLevel{Base: model.NewSystemBase(CategoryRemoveFromLevel, level, from, until), Agent: id}
}
