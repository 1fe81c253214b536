package influence

import (
	"slices"

	"github.com/iotaledger/hive.go/lo"

	"github.com/daviddao/levelsim/pkg/model"
)

// Collection is a multimap from level identifier to the backlog of
// influences addressed to that level. The zero value is not usable; create
// collections with NewCollection.
type Collection struct {
	backlogs map[model.LevelID]*Backlog
}

// NewCollection creates a collection holding the given influences, each
// stored under its target level.
func NewCollection(influences ...model.Influence) *Collection {
	c := &Collection{backlogs: make(map[model.LevelID]*Backlog)}
	for _, i := range influences {
		c.Add(i)
	}

	return c
}

// Add stores an influence under its target level. It returns false if the
// influence was already present.
func (c *Collection) Add(i model.Influence) bool {
	return c.backlog(i.Target()).Add(i)
}

// Has reports whether the influence is stored in the collection.
func (c *Collection) Has(i model.Influence) bool {
	b, ok := c.backlogs[i.Target()]
	return ok && b.Has(i)
}

// ForLevel returns the influences addressed to a level, in insertion order.
func (c *Collection) ForLevel(id model.LevelID) []model.Influence {
	if b, ok := c.backlogs[id]; ok {
		return b.All()
	}
	return nil
}

// Levels returns the sorted identifiers of levels with at least one influence.
func (c *Collection) Levels() []model.LevelID {
	ids := lo.Keys(c.backlogs)
	ids = slices.DeleteFunc(ids, func(id model.LevelID) bool { return c.backlogs[id].IsEmpty() })
	slices.Sort(ids)

	return ids
}

// Len returns the total number of influences.
func (c *Collection) Len() int {
	n := 0
	for _, b := range c.backlogs {
		n += b.Len()
	}
	return n
}

// IsEmpty reports whether the collection holds no influence.
func (c *Collection) IsEmpty() bool { return c.Len() == 0 }

// Drain removes and returns every influence, grouped by sorted level.
func (c *Collection) Drain() []model.Influence {
	var out []model.Influence
	for _, id := range c.Levels() {
		out = append(out, c.backlogs[id].Drain()...)
	}
	return out
}

// DrainLevel removes and returns the influences addressed to one level.
func (c *Collection) DrainLevel(id model.LevelID) []model.Influence {
	if b, ok := c.backlogs[id]; ok {
		return b.Drain()
	}
	return nil
}

// Merge moves every influence of other into c. other is left empty.
func (c *Collection) Merge(other *Collection) {
	if other == nil || other == c {
		return
	}
	for _, i := range other.Drain() {
		c.Add(i)
	}
}

func (c *Collection) backlog(id model.LevelID) *Backlog {
	b, ok := c.backlogs[id]
	if !ok {
		b = NewBacklog()
		c.backlogs[id] = b
	}
	return b
}
