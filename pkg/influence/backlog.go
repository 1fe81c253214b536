// Package influence stores influences waiting to be consumed by a reaction.
//
// A Backlog is the ordered set of influences pending on one level; a
// Collection maps level identifiers to backlogs. Influences move between
// backlogs by ownership transfer: Drain empties the source and hands the
// influences to the caller, and Merge moves everything from one collection
// into another. An influence is therefore held by at most one backlog.
package influence

import (
	"github.com/iotaledger/hive.go/ds/orderedmap"

	"github.com/daviddao/levelsim/pkg/model"
)

// Backlog is an insertion-ordered set of influences. The order carries no
// meaning for the kernel but keeps runs replayable.
type Backlog struct {
	members *orderedmap.OrderedMap[model.Influence, struct{}]
}

// NewBacklog creates an empty backlog holding the given influences.
func NewBacklog(influences ...model.Influence) *Backlog {
	b := &Backlog{members: orderedmap.New[model.Influence, struct{}]()}
	b.AddAll(influences)

	return b
}

// Add inserts an influence. It returns false if it was already present.
func (b *Backlog) Add(i model.Influence) bool {
	_, existed := b.members.Set(i, struct{}{})
	return !existed
}

// AddAll inserts all given influences.
func (b *Backlog) AddAll(influences []model.Influence) {
	for _, i := range influences {
		b.Add(i)
	}
}

// Has reports whether the influence is pending in this backlog.
func (b *Backlog) Has(i model.Influence) bool { return b.members.Has(i) }

// Len returns the number of pending influences.
func (b *Backlog) Len() int { return b.members.Size() }

// IsEmpty reports whether nothing is pending.
func (b *Backlog) IsEmpty() bool { return b.members.Size() == 0 }

// HasSystem reports whether at least one system influence is pending.
func (b *Backlog) HasSystem() bool {
	found := false
	b.members.ForEach(func(i model.Influence, _ struct{}) bool {
		found = i.IsSystem()
		return !found
	})

	return found
}

// All returns the pending influences in insertion order without removing them.
func (b *Backlog) All() []model.Influence {
	return b.filter(func(model.Influence) bool { return true })
}

// Regular returns the pending regular influences without removing them.
func (b *Backlog) Regular() []model.Influence {
	return b.filter(func(i model.Influence) bool { return !i.IsSystem() })
}

// System returns the pending system influences without removing them.
func (b *Backlog) System() []model.Influence {
	return b.filter(model.Influence.IsSystem)
}

// Drain removes and returns every pending influence.
func (b *Backlog) Drain() []model.Influence {
	return b.take(b.All())
}

// DrainSystem removes and returns the pending system influences.
func (b *Backlog) DrainSystem() []model.Influence {
	return b.take(b.System())
}

// DrainRegular removes and returns the pending regular influences.
func (b *Backlog) DrainRegular() []model.Influence {
	return b.take(b.Regular())
}

// MoveTo transfers every pending influence into dst.
func (b *Backlog) MoveTo(dst *Backlog) {
	dst.AddAll(b.Drain())
}

func (b *Backlog) filter(keep func(model.Influence) bool) []model.Influence {
	out := make([]model.Influence, 0, b.members.Size())
	b.members.ForEach(func(i model.Influence, _ struct{}) bool {
		if keep(i) {
			out = append(out, i)
		}
		return true
	})

	return out
}

func (b *Backlog) take(influences []model.Influence) []model.Influence {
	for _, i := range influences {
		b.members.Delete(i)
	}

	return influences
}
