// Package model defines the core vocabulary shared by every part of the
// simulation kernel: identifiers, transitory periods and influences.
//
// A simulation is split into levels, each advancing through its own logical
// time. Agents and the environment emit influences addressed to levels;
// levels consume them when they react. Two families of influences exist:
//
//   - System influences change agent membership (adding or removing agents
//     and their per-level states). The kernel recognizes and applies them
//     itself before any domain logic runs.
//
//   - Regular influences are opaque to the kernel. It routes and stores them,
//     and hands them to the reaction logic of their target level.
package model

import (
	"fmt"

	"github.com/daviddao/levelsim/pkg/clock"
)

// LevelID identifies a level.
type LevelID string

// AgentID identifies an agent.
type AgentID string

// AgentCategory groups agents of the same kind.
type AgentCategory string

// Period is the open transitory interval [Lower, Upper) of a level: Lower is
// the instant of its last reaction, Upper the instant of its next one.
type Period struct {
	Level LevelID    `json:"level"`
	Lower clock.Time `json:"lower"`
	Upper clock.Time `json:"upper"`
}

func (p Period) String() string {
	return fmt.Sprintf("%s[%s,%s)", p.Level, p.Lower, p.Upper)
}

// Influence is an event addressed to a level and consumed by its reaction.
//
// Influences are identified by reference: implementations are pointer types
// (typically embedding *Base through a struct field), so that the same
// influence can be tracked as it moves from one backlog to another.
type Influence interface {
	// Category is the domain tag of the influence.
	Category() string
	// Target is the level the influence is addressed to.
	Target() LevelID
	// ValidFrom is the inclusive lower bound of the validity interval.
	ValidFrom() clock.Time
	// ValidUntil is the exclusive upper bound of the validity interval.
	ValidUntil() clock.Time
	// IsSystem reports whether the kernel has to apply the influence itself.
	IsSystem() bool
}

// Base carries the fields every influence shares. Domain influences embed it:
//
//	type Move struct {
//		model.Base
//		Agent model.AgentID
//		Dx    int
//	}
//
// and are always handled through pointers.
type Base struct {
	category   string
	target     LevelID
	validFrom  clock.Time
	validUntil clock.Time
	system     bool
}

// NewBase returns the header of a regular influence.
func NewBase(category string, target LevelID, from, until clock.Time) Base {
	return Base{category: category, target: target, validFrom: from, validUntil: until}
}

// NewSystemBase returns the header of a system influence.
func NewSystemBase(category string, target LevelID, from, until clock.Time) Base {
	b := NewBase(category, target, from, until)
	b.system = true
	return b
}

// Category implements Influence.
func (b *Base) Category() string { return b.category }

// Target implements Influence.
func (b *Base) Target() LevelID { return b.target }

// ValidFrom implements Influence.
func (b *Base) ValidFrom() clock.Time { return b.validFrom }

// ValidUntil implements Influence.
func (b *Base) ValidUntil() clock.Time { return b.validUntil }

// IsSystem implements Influence.
func (b *Base) IsSystem() bool { return b.system }

// Regular is a general purpose regular influence carrying an opaque payload.
type Regular struct {
	Base
	Payload any
}

// NewRegular creates a regular influence with the given payload.
func NewRegular(category string, target LevelID, from, until clock.Time, payload any) *Regular {
	return &Regular{Base: NewBase(category, target, from, until), Payload: payload}
}

// Describe formats an influence for log and error messages.
func Describe(i Influence) string {
	family := "regular"
	if i.IsSystem() {
		family = "system"
	}
	return fmt.Sprintf("%s influence %q -> %s [%s,%s)", family, i.Category(), i.Target(), i.ValidFrom(), i.ValidUntil())
}
