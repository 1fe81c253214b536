package state

import (
	"testing"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/model"
)

func TestConsistentAgents(t *testing.T) {
	c := NewConsistent("ground", 0)

	require.True(t, c.AddAgent("b", 2))
	require.True(t, c.AddAgent("a", 1))
	require.False(t, c.AddAgent("a", 99), "re-adding must not overwrite")

	s, ok := c.Agent("a")
	require.True(t, ok)
	require.Equal(t, 1, s)
	require.Equal(t, []model.AgentID{"a", "b"}, c.AgentIDs())
	require.Equal(t, 2, c.AgentCount())

	require.True(t, c.RemoveAgent("a"))
	require.False(t, c.RemoveAgent("a"))
	require.False(t, c.HasAgent("a"))
}

func TestConsistentSetAgent(t *testing.T) {
	c := NewConsistent("ground", 0)

	require.False(t, c.SetAgent("a", 1), "absent agents are not inserted")
	require.False(t, c.HasAgent("a"))

	require.True(t, c.AddAgent("a", 1))
	require.True(t, c.SetAgent("a", 2))
	s, _ := c.Agent("a")
	require.Equal(t, 2, s)
}

func TestConsistentBoundsCollapse(t *testing.T) {
	c := NewConsistent("ground", 4)
	require.True(t, c.IsConsistent())
	require.Equal(t, clock.Time(4), c.Lower())
	require.Equal(t, clock.Time(4), c.Upper())

	c.SetTime(5)
	require.Equal(t, clock.Time(5), c.Time())
}

func TestTransitoryRequiresForwardPeriod(t *testing.T) {
	anchor := NewConsistent("ground", 3)

	_, err := NewTransitory(anchor, 3)
	require.True(t, ierrors.Is(err, ErrInvalidBounds))

	tr, err := NewTransitory(anchor, 4)
	require.NoError(t, err)
	require.False(t, tr.IsConsistent())
	require.Equal(t, model.Period{Level: "ground", Lower: 3, Upper: 4}, tr.Period())

	require.Error(t, tr.SetUpper(2))
	require.NoError(t, tr.SetUpper(clock.Infinity))
}

func TestTransitoryFollowsAnchorTime(t *testing.T) {
	anchor := NewConsistent("ground", 0)
	tr, err := NewTransitory(anchor, 1)
	require.NoError(t, err)

	anchor.SetTime(1)
	require.NoError(t, tr.SetUpper(2))
	require.Equal(t, clock.Time(1), tr.Lower())
}

func TestAnchorDisambiguationIsIdempotent(t *testing.T) {
	anchor := NewConsistent("ground", 0)
	tr, err := NewTransitory(anchor, 1)
	require.NoError(t, err)
	tr.Backlog().Add(model.NewRegular("pending", "ground", 0, 1, nil))

	first := Resolve(tr, AnchorDisambiguator{})
	second := Resolve(tr, AnchorDisambiguator{})

	require.Same(t, anchor, first)
	require.Same(t, first, second)
	require.True(t, first.Backlog().IsEmpty(), "in-flight influences must stay hidden")
	require.Equal(t, 1, tr.Backlog().Len())
}

func TestResolveConsistentIsIdentity(t *testing.T) {
	c := NewConsistent("ground", 0)
	require.Same(t, c, Resolve(c, nil))
}

func TestResolveCustomDisambiguator(t *testing.T) {
	anchor := NewConsistent("ground", 0)
	other := NewConsistent("ground", 0)
	tr, err := NewTransitory(anchor, 1)
	require.NoError(t, err)

	got := Resolve(tr, DisambiguatorFunc(func(*Transitory) *Consistent { return other }))
	require.Same(t, other, got)
}

func newTestView(t *testing.T) (*View, *Consistent, *Transitory) {
	t.Helper()
	ground := NewConsistent("ground", 1)
	weatherAnchor := NewConsistent("weather", 0)
	weather, err := NewTransitory(weatherAnchor, 3)
	require.NoError(t, err)

	return NewView(1, map[model.LevelID]Dynamic{"ground": ground, "weather": weather}), ground, weather
}

func TestViewLookup(t *testing.T) {
	v, ground, weather := newTestView(t)

	require.Equal(t, clock.Time(1), v.Time())
	require.Equal(t, []model.LevelID{"ground", "weather"}, v.Levels())

	s, err := v.Get("ground")
	require.NoError(t, err)
	require.Same(t, ground, s)

	c, err := v.Consistent("weather", nil)
	require.NoError(t, err)
	require.Same(t, weather.Anchor(), c)

	_, err = v.Get("sea")
	require.True(t, ierrors.Is(err, ErrUnknownLevel))
}

func TestFilteredViewRejectsExcludedLevels(t *testing.T) {
	v, _, weather := newTestView(t)
	f := NewFilteredView(v, []model.LevelID{"weather", "sea"}, nil)

	require.Equal(t, []model.LevelID{"weather"}, f.Levels())
	require.True(t, f.CanPerceive("weather"))
	require.False(t, f.CanPerceive("ground"))

	_, err := f.Get("ground")
	require.True(t, ierrors.Is(err, ErrLevelNotPerceptible))

	_, err = f.Get("sea")
	require.True(t, ierrors.Is(err, ErrUnknownLevel))

	c, err := f.Consistent("weather")
	require.NoError(t, err)
	require.Same(t, weather.Anchor(), c)
}

func TestViewIsDetachedFromSourceMap(t *testing.T) {
	states := map[model.LevelID]Dynamic{"ground": NewConsistent("ground", 0)}
	v := NewView(0, states)
	delete(states, "ground")

	_, err := v.Get("ground")
	require.NoError(t, err)
}
