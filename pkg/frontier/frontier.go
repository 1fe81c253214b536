// Package frontier computes the scheduling frontier of a multi-rate run.
//
// Every level exposes two pointstamps: the lower bound of its transitory
// period (the time of its last reaction) and the upper bound (the time of
// its next reaction). The frontier is the antichain of earliest upper
// bounds: the levels on it react together in the next round, at the time
// they share. No other level can produce a consistent state before that
// instant, so advancing to it never skips an observable state.
//
// The levels reacting in a round and the levels opening a new period after
// it are computed independently, each by comparing its own bound with the
// round time.
package frontier

import (
	"slices"

	"github.com/daviddao/levelsim/pkg/clock"
	"github.com/daviddao/levelsim/pkg/model"
)

// Pointstamp pairs a level with one bound of its transitory period.
type Pointstamp struct {
	Time  clock.Time    `json:"time"`
	Level model.LevelID `json:"level"`
}

func less(a, b Pointstamp) int {
	switch {
	case clock.TotalOrderLess(a.Time, string(a.Level), b.Time, string(b.Level)):
		return -1
	case clock.TotalOrderLess(b.Time, string(b.Level), a.Time, string(a.Level)):
		return 1
	default:
		return 0
	}
}

// ComputeFrontier returns the antichain of minimal finite pointstamps,
// ordered by level. A pointstamp p is in the frontier iff no other active
// pointstamp q satisfies q.Time < p.Time. Infinite pointstamps never are.
func ComputeFrontier(active []Pointstamp) []Pointstamp {
	var frontier []Pointstamp
	for _, p := range active {
		if p.Time.IsInfinite() {
			continue
		}
		dominated := false
		for _, q := range active {
			if q.Level != p.Level && q.Time.Less(p.Time) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, p)
		}
	}
	slices.SortFunc(frontier, less)

	return frontier
}

// Round describes the next scheduling round.
type Round struct {
	// Time is the instant the round reaches.
	Time clock.Time `json:"time"`
	// Reacting lists the levels whose transitory period ends at Time.
	Reacting []model.LevelID `json:"reacting"`
}

// Next computes the next round from the upper bounds of every level. It
// returns false when every level has an infinite upper bound.
func Next(uppers []Pointstamp) (Round, bool) {
	f := ComputeFrontier(uppers)
	if len(f) == 0 {
		return Round{Time: clock.Infinity}, false
	}

	r := Round{Time: f[0].Time}
	for _, p := range f {
		r.Reacting = append(r.Reacting, p.Level)
	}

	return r, true
}

// Opening returns the sorted levels whose lower bound equals t, i.e. the
// levels that just opened a new transitory period at t.
func Opening(lowers []Pointstamp, t clock.Time) []model.LevelID {
	var ids []model.LevelID
	for _, p := range lowers {
		if p.Time == t {
			ids = append(ids, p.Level)
		}
	}
	slices.Sort(ids)

	return ids
}
